package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Clean up run files of stopped VMs",
	Long: `Remove the run record, QMP socket and pidfile of every VM whose
qemu process is gone.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	pruned, err := env.Runs.Prune()
	for _, name := range pruned {
		fmt.Fprintf(out, "Removed run files of %s\n", name)
	}
	if err != nil {
		return fmt.Errorf("failed to prune run files: %w", err)
	}

	if len(pruned) == 0 {
		fmt.Fprintln(out, "Nothing to prune.")
	}
	return nil
}
