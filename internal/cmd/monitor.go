package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/vm"
)

var (
	monitorOpts    selectFlags
	monitorCommand string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [NAME]",
	Short: "Talk to the qemu monitor of VMs",
	Long: `Run a human monitor command on running VMs, or open an interactive
monitor session when no command is given.

Examples:
  vml monitor dev --command "info status"
  vml monitor -a -c "savevm snap1"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorOpts.register(monitorCmd)
	monitorCmd.Flags().StringVarP(&monitorCommand, "command", "c", "", "monitor command to run")

	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	vms, _, err := liveSelection(&monitorOpts, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if monitorCommand == "" {
		return forEachVM(vms, func(v *vm.VM) error {
			return v.Monitor(cmd.InOrStdin(), out)
		})
	}
	return forEachVM(vms, func(v *vm.VM) error {
		reply, err := v.MonitorCommand(monitorCommand)
		if err != nil {
			return err
		}
		if reply = strings.TrimRight(strings.ReplaceAll(reply, "\r\n", "\n"), "\n"); reply != "" {
			fmt.Fprintln(out, reply)
		}
		return nil
	})
}
