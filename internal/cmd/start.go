package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/selection"
	"github.com/vmlab/vml/internal/vm"
)

// startFlags are shared by start and run.
type startFlags struct {
	selectFlags
	cloudInit   bool
	noCloudInit bool
	drives      []string
	waitSSH     bool
}

func (f *startFlags) register(cmd *cobra.Command) {
	f.selectFlags.register(cmd)
	cmd.Flags().BoolVar(&f.cloudInit, "cloud-init", false, "attach a cloud-init seed")
	cmd.Flags().BoolVar(&f.noCloudInit, "no-cloud-init", false, "do not attach a cloud-init seed")
	cmd.Flags().StringSliceVar(&f.drives, "drives", nil, "extra disk images for this run")
	cmd.Flags().BoolVar(&f.waitSSH, "wait-ssh", false, "wait until ssh is reachable")
	cmd.MarkFlagsMutuallyExclusive("cloud-init", "no-cloud-init")
}

var startOpts startFlags

var startCmd = &cobra.Command{
	Use:   "start [NAME]",
	Short: "Start VMs",
	Long: `Start the selected VMs in the background.

Examples:
  vml start dev
  vml start -t web --wait-ssh
  vml start dev --drives ~/isos/install.iso`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

var (
	runCreateOpts createFlags
	runStartOpts  startFlags
)

var runCmd = &cobra.Command{
	Use:   "run [NAME]",
	Short: "Create and start VMs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

func init() {
	startOpts.register(startCmd)
	rootCmd.AddCommand(startCmd)

	runStartOpts.register(runCmd)
	runCreateOpts.register(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	return start(cmd, &startOpts, args)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := create(cmd, &runCreateOpts, createTargets(args, runStartOpts.names)); err != nil {
		return err
	}
	return start(cmd, &runStartOpts, args)
}

func start(cmd *cobra.Command, f *startFlags, args []string) error {
	s, _, err := f.selector(args)
	if err != nil {
		return err
	}
	vms, err := s.WithPID(selection.Without).ErrorOnEmpty().Resolve()
	if err != nil {
		return err
	}

	cfg := env.Config.Commands.Start
	cloudInit := cfg.CloudInit && !f.noCloudInit || f.cloudInit
	if cloudInit {
		if _, err := env.Keys.EnsureKeyPair(); err != nil {
			env.Logger.Warn("failed to generate ssh key", "error", err)
		}
	}

	opts := vm.StartOptions{CloudInit: cloudInit, Drives: f.drives}
	err = forEachVM(vms, func(v *vm.VM) error {
		if v.Spec.CloudInit != nil {
			o := opts
			o.CloudInit = *v.Spec.CloudInit && !f.noCloudInit || f.cloudInit
			return v.Start(cmd.Context(), o)
		}
		return v.Start(cmd.Context(), opts)
	})
	if err != nil || !f.waitSSH {
		return err
	}

	wait := vm.WaitSSHOptions{
		Repeat:   cfg.WaitSSH.Repeat,
		Sleep:    time.Duration(cfg.WaitSSH.Sleep) * time.Second,
		Attempts: cfg.WaitSSH.Attempts,
		Timeout:  time.Duration(cfg.WaitSSH.Timeout) * time.Second,
	}
	return forEachVM(vms, func(v *vm.VM) error {
		return v.WaitSSH(cmd.Context(), wait)
	})
}
