package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/vm"
)

// rsyncFlags are shared by rsync-to and rsync-from.
type rsyncFlags struct {
	selectFlags
	user        string
	options     []string
	archive     bool
	verbose     bool
	progress    bool
	list        bool
	destination string
	sources     []string
}

func (f *rsyncFlags) register(cmd *cobra.Command) {
	f.selectFlags.register(cmd)
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "login user")
	cmd.Flags().StringSliceVar(&f.options, "rsync-options", nil, "extra rsync options")
	cmd.Flags().BoolVar(&f.archive, "archive", false, "pass --archive to rsync")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "pass --verbose to rsync")
	cmd.Flags().BoolVarP(&f.progress, "progress", "P", false, "pass -P to rsync")
	cmd.Flags().BoolVarP(&f.list, "list", "l", false, "list the sources instead of copying")
	cmd.Flags().StringVarP(&f.destination, "destination", "d", "", "destination path")
	cmd.Flags().StringSliceVarP(&f.sources, "sources", "s", nil, "source paths")
}

func (f *rsyncFlags) flags() []string {
	flags := append([]string(nil), f.options...)
	if f.archive {
		flags = append(flags, "--archive")
	}
	if f.verbose {
		flags = append(flags, "--verbose")
	}
	if f.progress {
		flags = append(flags, "-P")
	}
	return flags
}

var (
	rsyncToOpts     rsyncFlags
	rsyncToTemplate string
	rsyncFromOpts   rsyncFlags
)

var rsyncToCmd = &cobra.Command{
	Use:   "rsync-to [[USER@]NAME]",
	Short: "Copy files to VMs",
	Long: `Copy local files into running VMs with rsync.

The destination defaults to the login user's home directory. With
--template the sources are rendered per VM:
  vml rsync-to -a --template '{{.vm_dir}}/provision.sh' -d /tmp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRsyncTo,
}

var rsyncFromCmd = &cobra.Command{
	Use:   "rsync-from [[USER@]NAME]",
	Short: "Copy files from VMs",
	Long:  `Copy files out of running VMs with rsync. The destination defaults to the current directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRsyncFrom,
}

func init() {
	rsyncToOpts.register(rsyncToCmd)
	rsyncToCmd.Flags().StringVar(&rsyncToTemplate, "template", "", "sources as a template rendered per VM")
	rsyncToCmd.MarkFlagsMutuallyExclusive("sources", "template")
	rsyncToCmd.MarkFlagsOneRequired("sources", "template")
	rootCmd.AddCommand(rsyncToCmd)

	rsyncFromOpts.register(rsyncFromCmd)
	_ = rsyncFromCmd.MarkFlagRequired("sources")
	rootCmd.AddCommand(rsyncFromCmd)
}

func runRsyncTo(cmd *cobra.Command, args []string) error {
	f := &rsyncToOpts
	vms, user, err := liveSelection(&f.selectFlags, args)
	if err != nil {
		return err
	}
	if f.user != "" {
		user = f.user
	}

	dest := f.destination
	if f.list {
		dest = ""
	} else if dest == "" {
		dest = "~"
	}

	return forEachVM(vms, func(v *vm.VM) error {
		var code int
		var err error
		if rsyncToTemplate != "" {
			code, err = v.RsyncToTemplate(user, rsyncToTemplate, dest, f.flags())
		} else {
			code, err = v.RsyncTo(user, f.sources, dest, f.flags())
		}
		return rsyncResult(code, err)
	})
}

func runRsyncFrom(cmd *cobra.Command, args []string) error {
	f := &rsyncFromOpts
	vms, user, err := liveSelection(&f.selectFlags, args)
	if err != nil {
		return err
	}
	if f.user != "" {
		user = f.user
	}

	dest := f.destination
	if f.list {
		dest = ""
	} else if dest == "" {
		if dest, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
	}

	return forEachVM(vms, func(v *vm.VM) error {
		return rsyncResult(v.RsyncFrom(user, f.sources, dest, f.flags()))
	})
}

var errRsyncFailed = errors.New("rsync failed")

func rsyncResult(code int, err error) error {
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w with exit code %d", errRsyncFailed, code)
	}
	return nil
}
