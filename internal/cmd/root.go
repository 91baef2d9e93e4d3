package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/assets"
	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/logger"
	"github.com/vmlab/vml/internal/vm"
)

var (
	cfgFile         string
	debug           bool
	allVMs          bool
	vmConfigFile    string
	minimalVMConfig bool
)

// env is the runtime environment prepared before every subcommand.
var env *vm.Env

// Debug logs a formatted message at debug level
func Debug(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...))
}

var rootCmd = &cobra.Command{
	Use:   "vml",
	Short: "vml - manage a lab of QEMU virtual machines",
	Long: `vml declares virtual machines as cascading vm.toml files and drives
them with qemu, ssh and rsync.

Create and start a VM:
  vml image pull debian-12
  vml run dev --image debian-12 --wait-ssh

Work with a fleet:
  vml list --all
  vml start -t web
  vml ssh -a -- uptime
  vml stop --parents lab`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/vml/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&allVMs, "all-vms", "a", false, "select every VM")
	rootCmd.PersistentFlags().StringVar(&vmConfigFile, "vm-config", "", "vm.toml applied on top of every selected VM")
	rootCmd.PersistentFlags().BoolVar(&minimalVMConfig, "minimal-vm-config", false, "ignore the [default] VM config")
}

// setup loads the configuration and installs the default files on first run.
func setup(cmd *cobra.Command, _ []string) error {
	log := logger.Setup(debug)

	if cfgFile == "" {
		configDir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		if err := assets.InstallConfig(configDir, "config.toml"); err != nil {
			return err
		}
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	Debug("config loaded from %s", cfg.ConfigDir)

	err = assets.InstallAll(assets.Layout{
		ConfigDir:      cfg.ConfigDir,
		VMsDir:         cfg.VMsDir,
		ImagesDir:      cfg.Images.Directory,
		RunDir:         cfg.RunDir,
		GetURLProgsDir: cfg.GetURLProgsDir(),
	})
	if err != nil {
		return err
	}

	e, err := vm.NewEnv(cfg, log)
	if err != nil {
		return err
	}
	e.Stdin = cmd.InOrStdin()
	e.Stdout = cmd.OutOrStdout()
	e.Stderr = cmd.ErrOrStderr()
	env = e
	return nil
}

// forEachVM runs fn on every VM. A failing VM does not stop the others;
// all failures are returned together.
func forEachVM(vms []*vm.VM, fn func(*vm.VM) error) error {
	var errs []error
	for _, v := range vms {
		if err := fn(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var sshErr *vm.SSHFailedError
	if errors.As(err, &sshErr) && sshErr.ExitCode > 0 {
		return sshErr.ExitCode
	}
	return 1
}
