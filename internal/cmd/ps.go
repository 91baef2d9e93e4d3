package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/runstate"
)

var psAll bool

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running VMs",
	Long:  `List the VMs started by vml together with their pid and ssh port.`,
	Args:  cobra.NoArgs,
	RunE:  runPs,
}

func init() {
	psCmd.Flags().BoolVar(&psAll, "all", false, "include records of VMs that are gone")
	rootCmd.AddCommand(psCmd)
}

func runPs(cmd *cobra.Command, args []string) error {
	records, err := env.Runs.List()
	if err != nil {
		return fmt.Errorf("failed to list run records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tID\tPID\tSTATUS\tSTARTED\tSSH")

	shown := 0
	for _, rec := range records {
		status := "running"
		if !runstate.Alive(rec.PID) {
			if !psAll {
				continue
			}
			status = "gone"
		}
		ssh := "-"
		if rec.SSHPort > 0 {
			ssh = fmt.Sprintf("127.0.0.1:%d", rec.SSHPort)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.Name,
			rec.ID,
			rec.PID,
			status,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			ssh,
		)
		shown++
	}

	if shown == 0 {
		fmt.Fprintln(out, "No running VMs.")
		return nil
	}
	return w.Flush()
}
