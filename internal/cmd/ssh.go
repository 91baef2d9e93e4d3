package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/selection"
	"github.com/vmlab/vml/internal/vm"
)

var (
	sshOpts    selectFlags
	sshUser    string
	sshOptions []string
	sshAgent   bool
	sshX11     bool
	sshCheck   bool
)

var sshCmd = &cobra.Command{
	Use:   "ssh [[USER@]NAME] [-- COMMAND...]",
	Short: "Run ssh against VMs",
	Long: `Open an ssh session to a running VM, or run a command on several.

Examples:
  vml ssh dev
  vml ssh root@dev -- journalctl -b
  vml ssh -a --check -- systemctl is-system-running`,
	Args: maxNamesBeforeDash(1),
	RunE: runSSH,
}

func init() {
	sshOpts.register(sshCmd)
	sshCmd.Flags().StringVarP(&sshUser, "user", "u", "", "login user")
	sshCmd.Flags().StringSliceVarP(&sshOptions, "ssh-options", "o", nil, "extra ssh -o options")
	sshCmd.Flags().BoolVarP(&sshAgent, "agent", "A", false, "forward the ssh agent")
	sshCmd.Flags().BoolVarP(&sshX11, "x11", "Y", false, "forward X11")
	sshCmd.Flags().BoolVar(&sshCheck, "check", false, "fail when the remote command fails")

	rootCmd.AddCommand(sshCmd)
}

// liveSelection resolves VMs that must be running: every running VM with
// --all-vms, else the named VMs, failing on a stopped one.
func liveSelection(f *selectFlags, args []string) ([]*vm.VM, string, error) {
	s, user, err := f.selector(args)
	if err != nil {
		return nil, "", err
	}
	if s.IsAll() {
		s.WithPID(selection.Filter)
	} else {
		s.WithPID(selection.Error)
	}
	vms, err := s.ErrorOnEmpty().Resolve()
	return vms, user, err
}

func runSSH(cmd *cobra.Command, args []string) error {
	vms, user, err := liveSelection(&sshOpts, nameArg(cmd, args))
	if err != nil {
		return err
	}
	if sshUser != "" {
		user = sshUser
	}

	var command []string
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		command = args[dash:]
	}

	var flags []string
	if sshAgent {
		flags = append(flags, "-A")
	}
	if sshX11 {
		flags = append(flags, "-Y")
	}

	return forEachVM(vms, func(v *vm.VM) error {
		code, err := v.SSH(user, sshOptions, flags, command)
		if err != nil {
			return err
		}
		if code != 0 && sshCheck {
			return &vm.SSHFailedError{Name: v.Name, ExitCode: code}
		}
		return nil
	})
}
