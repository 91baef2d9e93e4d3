package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/selection"
	"github.com/vmlab/vml/internal/vm"
)

var (
	showOpts selectFlags
	showAll  bool
)

var showCmd = &cobra.Command{
	Use:   "show [NAME]",
	Short: "Show the resolved configuration of VMs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func init() {
	showOpts.register(showCmd)
	showCmd.Flags().BoolVar(&showAll, "all", false, "show every VM")

	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	s, _, err := showOpts.selector(args)
	if err != nil {
		return err
	}
	if showAll {
		s.All()
	}
	if showOpts.running {
		s.WithPID(selection.Filter)
	} else {
		s.WithPID(selection.Option)
	}

	vms, err := s.ErrorOnEmpty().Resolve()
	if err != nil {
		return err
	}
	for i, v := range vms {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		if err := showVM(cmd.OutOrStdout(), v); err != nil {
			return err
		}
	}
	return nil
}

// showVM prints the identity of v followed by its effective vm.toml.
func showVM(w io.Writer, v *vm.VM) error {
	fmt.Fprintf(w, "# name: %s\n", v.Name)
	if v.FoldedName != v.Name {
		fmt.Fprintf(w, "# folded-name: %s\n", v.FoldedName)
	}
	fmt.Fprintf(w, "# dir: %s\n", v.Dir)
	if len(v.Ancestors) > 0 {
		fmt.Fprintf(w, "# ancestors: %s\n", strings.Join(v.Ancestors, ", "))
	}
	if pid, ok := v.PID(); ok {
		fmt.Fprintf(w, "# pid: %d\n", pid)
	} else {
		fmt.Fprintln(w, "# pid: none")
	}

	data, err := toml.Marshal(v.Spec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", v.Name, err)
	}
	_, err = w.Write(data)
	return err
}
