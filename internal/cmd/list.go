package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/selection"
	"github.com/vmlab/vml/internal/vm"
)

var (
	listOpts   selectFlags
	listAll    bool
	listFold   bool
	listUnfold bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs",
	Long: `List the names of running VMs, or of every VM with --all.

With --fold, VMs created from a name pattern are listed once under the pattern.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listOpts.register(listCmd)
	listCmd.Flags().BoolVar(&listAll, "all", false, "include VMs that are not running")
	listCmd.Flags().BoolVar(&listFold, "fold", false, "list name patterns instead of their VMs")
	listCmd.Flags().BoolVar(&listUnfold, "unfold", false, "list VMs even when folding is configured")
	listCmd.MarkFlagsMutuallyExclusive("fold", "unfold")

	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	s, _, err := listOpts.selector(nil)
	if err != nil {
		return err
	}
	s.All()
	if !listAll && !env.Config.Commands.List.All {
		s.WithPID(selection.Filter)
	}

	vms, err := s.Resolve()
	if err != nil {
		return err
	}
	printNames(cmd.OutOrStdout(), vms, folding(env.Config.Commands.List, listFold, listUnfold))
	return nil
}

// folding combines the configured default with the --fold/--unfold flags.
func folding(cfg config.ListCommand, fold, unfold bool) bool {
	if cfg.Fold {
		return fold || !unfold
	}
	return fold && !unfold
}

// printNames prints the distinct names, or folded names, of vms in order.
func printNames(w io.Writer, vms []*vm.VM, fold bool) {
	names := lo.Uniq(lo.Map(vms, func(v *vm.VM, _ int) string {
		if fold {
			return v.FoldedName
		}
		return v.Name
	}))
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
}
