package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var (
	ErrConfigRead  = errors.New("failed to read config")
	ErrConfigParse = errors.New("failed to parse config")
)

// CreateExistsAction decides what `create` does when the VM directory exists
type CreateExistsAction string

const (
	CreateExistsFail    CreateExistsAction = "fail"
	CreateExistsIgnore  CreateExistsAction = "ignore"
	CreateExistsReplace CreateExistsAction = "replace"
)

// Config represents the vml configuration
type Config struct {
	VMsDir       string         `mapstructure:"vms-dir"`
	RunDir       string         `mapstructure:"run-dir"`
	Images       Images         `mapstructure:"images"`
	Default      map[string]any `mapstructure:"default"`
	BlockedPaths []string       `mapstructure:"blocked-paths"`
	Commands     Commands       `mapstructure:"commands"`

	// ConfigDir is where config.toml, images.toml and get-url-progs live.
	ConfigDir string `mapstructure:"-"`
}

// Images contains image directory and freshness settings
type Images struct {
	Directory          string   `mapstructure:"directory"`
	OtherDirectoriesRO []string `mapstructure:"other-directories-ro"`
	UpdateAfterDays    *int     `mapstructure:"update-after-days"`
}

// Dirs returns the primary image directory followed by the read-only ones.
func (i Images) Dirs() []string {
	dirs := make([]string, 0, 1+len(i.OtherDirectoriesRO))
	dirs = append(dirs, i.Directory)
	return append(dirs, i.OtherDirectoriesRO...)
}

// Commands holds per-subcommand defaults
type Commands struct {
	List   ListCommand   `mapstructure:"list"`
	Create CreateCommand `mapstructure:"create"`
	Start  StartCommand  `mapstructure:"start"`
}

type ListCommand struct {
	All  bool `mapstructure:"all"`
	Fold bool `mapstructure:"fold"`
}

type CreateCommand struct {
	Exists CreateExistsAction `mapstructure:"exists"`
}

type StartCommand struct {
	CloudInit bool    `mapstructure:"cloud-init"`
	WaitSSH   WaitSSH `mapstructure:"wait-ssh"`
}

// WaitSSH configures the ssh reachability retry loop
type WaitSSH struct {
	Repeat   int `mapstructure:"repeat"`
	Sleep    int `mapstructure:"sleep"`
	Attempts int `mapstructure:"attempts"`
	Timeout  int `mapstructure:"timeout"`
}

// Load loads the configuration from <config dir>/config.toml, or from path when
// it is not empty. A missing file is not an error: defaults are used.
func Load(path string) (*Config, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(configDir)
	}

	setDefaults(v, dataDir)

	// Environment variable support: VML_VMS_DIR, VML_IMAGES_DIRECTORY, etc.
	v.SetEnvPrefix("VML")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var parseErr viper.ConfigParseError
		switch {
		case errors.As(err, &notFound), path != "" && os.IsNotExist(err):
			// Config file not found is OK - we use defaults
		case errors.As(err, &parseErr):
			return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrConfigRead, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	cfg.ConfigDir = configDir

	if err := cfg.expand(); err != nil {
		return nil, err
	}

	switch cfg.Commands.Create.Exists {
	case CreateExistsFail, CreateExistsIgnore, CreateExistsReplace:
	default:
		return nil, fmt.Errorf("%w: commands.create.exists must be fail, ignore or replace, got %q",
			ErrConfigParse, cfg.Commands.Create.Exists)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("vms-dir", filepath.Join(dataDir, "vms"))
	v.SetDefault("run-dir", filepath.Join(dataDir, "run"))

	v.SetDefault("images.directory", filepath.Join(dataDir, "images"))
	v.SetDefault("images.other-directories-ro", []string{})
	v.SetDefault("images.update-after-days", 30)

	v.SetDefault("blocked-paths", []string{"~/.ssh", "~/.gnupg", "~/.aws", "~/.password-store"})

	v.SetDefault("commands.list.all", false)
	v.SetDefault("commands.list.fold", false)
	v.SetDefault("commands.create.exists", string(CreateExistsFail))
	v.SetDefault("commands.start.cloud-init", true)
	v.SetDefault("commands.start.wait-ssh.repeat", 30)
	v.SetDefault("commands.start.wait-ssh.sleep", 1)
	v.SetDefault("commands.start.wait-ssh.attempts", 1)
	v.SetDefault("commands.start.wait-ssh.timeout", 1)
}

// expand expands ~ in every configured path
func (c *Config) expand() error {
	var err error
	if c.VMsDir, err = homedir.Expand(c.VMsDir); err != nil {
		return fmt.Errorf("%w: vms-dir: %w", ErrConfigParse, err)
	}
	if c.RunDir, err = homedir.Expand(c.RunDir); err != nil {
		return fmt.Errorf("%w: run-dir: %w", ErrConfigParse, err)
	}
	if c.Images.Directory, err = homedir.Expand(c.Images.Directory); err != nil {
		return fmt.Errorf("%w: images.directory: %w", ErrConfigParse, err)
	}
	for i, dir := range c.Images.OtherDirectoriesRO {
		if c.Images.OtherDirectoriesRO[i], err = homedir.Expand(dir); err != nil {
			return fmt.Errorf("%w: images.other-directories-ro: %w", ErrConfigParse, err)
		}
	}
	c.BlockedPaths = expandPaths(c.BlockedPaths)
	return nil
}

// ImagesFile returns the path of the local image catalog
func (c *Config) ImagesFile() string {
	return filepath.Join(c.ConfigDir, "images.toml")
}

// GetURLProgsDir returns the directory holding URL resolver programs
func (c *Config) GetURLProgsDir() string {
	return filepath.Join(c.ConfigDir, "get-url-progs")
}

// expandPaths expands ~ in paths to home directory
func expandPaths(paths []string) []string {
	expanded := make([]string, len(paths))
	for i, path := range paths {
		expandedPath, err := homedir.Expand(path)
		if err != nil {
			// If expansion fails, use original path
			expanded[i] = path
			continue
		}
		expanded[i] = expandedPath
	}
	return expanded
}

// ConfigDir returns the vml configuration directory path.
// Respects XDG_CONFIG_HOME, falls back to ~/.config/vml.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vml"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "vml"), nil
}

// DataDir returns the vml data directory path.
// Respects XDG_DATA_HOME, falls back to ~/.local/share/vml.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vml"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "vml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	configDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(configDir, 0755)
}
