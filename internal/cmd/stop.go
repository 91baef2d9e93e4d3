package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/selection"
	"github.com/vmlab/vml/internal/vm"
)

var (
	stopOpts  selectFlags
	stopForce bool
)

var stopCmd = &cobra.Command{
	Use:   "stop [NAME]",
	Short: "Stop running VMs",
	Long: `Ask the selected running VMs to power down.

With --force qemu quits immediately and the run state is removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func init() {
	stopOpts.register(stopCmd)
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "quit qemu without a guest shutdown")

	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	s, _, err := stopOpts.selector(args)
	if err != nil {
		return err
	}
	vms, err := s.WithPID(selection.Filter).ErrorOnEmpty().Resolve()
	if err != nil {
		return err
	}

	return forEachVM(vms, func(v *vm.VM) error {
		return v.Stop(stopForce)
	})
}
