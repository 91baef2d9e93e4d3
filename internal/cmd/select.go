package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/selection"
)

// selectFlags are the VM selection flags shared by most subcommands.
type selectFlags struct {
	names   []string
	parents []string
	tags    []string
	running bool
}

func (f *selectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.names, "names", "n", nil, "select VMs by name")
	cmd.Flags().StringSliceVarP(&f.parents, "parents", "p", nil, "select VMs with one of these ancestors")
	cmd.Flags().StringSliceVarP(&f.tags, "tags", "t", nil, "select VMs carrying all of these tags")
	cmd.Flags().BoolVarP(&f.running, "running", "r", false, "select running VMs only")
}

// selector builds a selector from the global flags, f and the optional
// NAME argument. A user given as user@name is returned separately.
func (f *selectFlags) selector(args []string) (*selection.Selector, string, error) {
	s := selection.New(env)
	if allVMs {
		s.All()
	}
	if vmConfigFile != "" {
		data, err := os.ReadFile(vmConfigFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read vm config: %w", err)
		}
		if err := s.VMConfig(string(data)); err != nil {
			return nil, "", fmt.Errorf("%s: %w", vmConfigFile, err)
		}
	}
	if minimalVMConfig {
		s.MinimalVMConfig()
	}

	var user string
	if len(args) > 0 && args[0] != "" {
		var name string
		user, name = parseUserAtName(args[0])
		s.Name(name)
	}
	s.Names(f.names...).Parents(f.parents...).Tags(f.tags...)
	if f.running {
		s.WithPID(selection.Filter)
	}
	return s, user, nil
}

// parseUserAtName splits "user@name" into its parts.
func parseUserAtName(arg string) (user, name string) {
	if u, n, ok := strings.Cut(arg, "@"); ok {
		return u, n
	}
	return "", arg
}

// nameArg returns the positional args before "--".
func nameArg(cmd *cobra.Command, args []string) []string {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		return args[:dash]
	}
	return args
}

// maxNamesBeforeDash limits the positional args preceding "--".
func maxNamesBeforeDash(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if got := len(nameArg(cmd, args)); got > n {
			return fmt.Errorf("accepts at most %d arg(s) before --, received %d", n, got)
		}
		return nil
	}
}

// confirm prints message and reports whether the answer is y or yes.
func confirm(in io.Reader, out io.Writer, message string) bool {
	fmt.Fprintln(out, message)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
