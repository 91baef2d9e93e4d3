// Package assets holds the files shipped inside the vml binary: the default
// config.toml, the upstream image catalog and the URL resolver programs.
package assets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed files
var files embed.FS

// SystemConfigDir is consulted before the embedded defaults when seeding configs.
var SystemConfigDir = "/etc/vml"

var ErrUnknownAsset = errors.New("unknown embedded file")

// Get returns the content of an embedded config file (config.toml, images.toml, images-header).
func Get(name string) ([]byte, error) {
	data, err := files.ReadFile(path.Join("files", name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}
	return data, nil
}

// InstallConfig writes the named config into configDir unless it already exists.
// A copy under SystemConfigDir wins over the embedded default.
func InstallConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	dest := filepath.Join(configDir, name)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(SystemConfigDir, name))
	if err != nil {
		if data, err = Get(name); err != nil {
			return err
		}
	}

	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// InstallGetURLProgs extracts the URL resolver programs into dir, overwriting
// older copies so they track the binary.
func InstallGetURLProgs(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create get-url-progs dir: %w", err)
	}

	entries, err := fs.ReadDir(files, "files/get-url-progs")
	if err != nil {
		return fmt.Errorf("read embedded get-url-progs: %w", err)
	}

	for _, entry := range entries {
		data, err := files.ReadFile(path.Join("files/get-url-progs", entry.Name()))
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", entry.Name(), err)
		}
		dest := filepath.Join(dir, entry.Name())
		if err := os.WriteFile(dest, data, 0755); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		// WriteFile keeps the mode of an existing file
		if err := os.Chmod(dest, 0755); err != nil {
			return fmt.Errorf("chmod %s: %w", dest, err)
		}
	}
	return nil
}

// Layout lists the directories and files InstallAll prepares.
type Layout struct {
	ConfigDir      string
	VMsDir         string
	ImagesDir      string
	RunDir         string
	GetURLProgsDir string
}

// InstallAll creates the data directories, seeds images.toml and installs the
// URL resolver programs.
func InstallAll(l Layout) error {
	for _, dir := range []string{l.VMsDir, l.ImagesDir, l.RunDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := InstallConfig(l.ConfigDir, "images.toml"); err != nil {
		return err
	}
	return InstallGetURLProgs(l.GetURLProgsDir)
}
