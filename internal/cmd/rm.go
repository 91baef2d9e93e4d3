package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/selection"
	"github.com/vmlab/vml/internal/vm"
)

var (
	rmOpts  selectFlags
	rmForce bool
	rmYes   bool
)

var rmCmd = &cobra.Command{
	Use:   "rm [NAME]",
	Short: "Remove VMs",
	Long: `Remove the disks and definitions of the selected VMs after confirmation.

With --force running VMs are stopped first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRm,
}

func init() {
	rmOpts.register(rmCmd)
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "stop running VMs before removing them")
	rmCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	s, _, err := rmOpts.selector(args)
	if err != nil {
		return err
	}
	if rmForce {
		s.WithPID(selection.Option)
	} else {
		s.WithPID(selection.Without)
	}

	vms, err := s.Resolve()
	if err != nil {
		return err
	}
	if len(vms) == 0 {
		return nil
	}

	out := cmd.OutOrStdout()
	printNames(out, vms, false)
	if !rmYes && !confirm(cmd.InOrStdin(), out, "Do you really want to remove these VMs? [y/N]") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	return forEachVM(vms, func(v *vm.VM) error {
		if rmForce && v.HasPID() {
			if err := v.Stop(true); err != nil {
				return err
			}
		}
		return v.Remove()
	})
}
