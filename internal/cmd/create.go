package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/vm"
)

// createFlags are shared by create and run.
type createFlags struct {
	image         string
	existsFail    bool
	existsIgnore  bool
	existsReplace bool
}

func (f *createFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.image, "image", "i", "", "base image of the new VM")
	cmd.Flags().BoolVar(&f.existsFail, "exists-fail", false, "fail when the VM already exists")
	cmd.Flags().BoolVar(&f.existsIgnore, "exists-ignore", false, "keep an existing VM untouched")
	cmd.Flags().BoolVar(&f.existsReplace, "exists-replace", false, "replace the disk of an existing VM")
	cmd.MarkFlagsMutuallyExclusive("exists-fail", "exists-ignore", "exists-replace")
}

func (f *createFlags) exists(cfg *config.Config) config.CreateExistsAction {
	switch {
	case f.existsFail:
		return config.CreateExistsFail
	case f.existsIgnore:
		return config.CreateExistsIgnore
	case f.existsReplace:
		return config.CreateExistsReplace
	default:
		return cfg.Commands.Create.Exists
	}
}

var (
	createOpts  createFlags
	createNames []string
)

var createCmd = &cobra.Command{
	Use:   "create [NAME]",
	Short: "Create VMs",
	Long: `Create a VM directory with a copy-on-write disk over a base image.

Name patterns fan out to several VMs:
  vml create web-{1..3} --image debian-12`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreate,
}

func init() {
	createOpts.register(createCmd)
	createCmd.Flags().StringSliceVarP(&createNames, "names", "n", nil, "names of the VMs to create")

	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	return create(cmd, &createOpts, createTargets(args, createNames))
}

func createTargets(args, names []string) []string {
	if len(names) > 0 {
		return names
	}
	if len(args) > 0 {
		_, name := parseUserAtName(args[0])
		return []string{name}
	}
	return nil
}

func create(cmd *cobra.Command, f *createFlags, names []string) error {
	opts := vm.CreateOptions{Image: f.image, Exists: f.exists(env.Config)}
	for _, name := range names {
		created, err := vm.Create(cmd.Context(), env, name, opts)
		if err != nil {
			return err
		}
		Debug("created %v", created)
	}
	return nil
}
