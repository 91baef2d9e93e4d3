package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/vmlab/vml/internal/assets"
	"github.com/vmlab/vml/internal/images"
	"github.com/vmlab/vml/internal/selection"
	"github.com/vmlab/vml/internal/template"
	"github.com/vmlab/vml/internal/vm"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage base images",
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloaded images",
	Args:  cobra.NoArgs,
	RunE:  runImageList,
}

var imageAvailableVerbose bool

var imageAvailableCmd = &cobra.Command{
	Use:   "available",
	Short: "List images of the catalog",
	Args:  cobra.NoArgs,
	RunE:  runImageAvailable,
}

var imagePullOutdated bool

var imagePullCmd = &cobra.Command{
	Use:   "pull [IMAGE...]",
	Short: "Download images",
	Long: `Download catalog images into the image directory.

With --outdated every downloaded image older than its update-after-days
threshold is downloaded again.`,
	RunE: runImagePull,
}

var imageRmCmd = &cobra.Command{
	Use:   "rm IMAGE...",
	Short: "Remove downloaded images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImageRm,
}

var imageUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Merge the shipped catalog into the local one",
	Long: `Merge the catalog shipped with vml into images.toml.

Entries are kept, added or updated according to their change directives:
delete, update-all, keep-<field> and update-<field>.`,
	Args: cobra.NoArgs,
	RunE: runImageUpdate,
}

var (
	imageStoreOpts  selectFlags
	imageStoreImage string
	imageStoreForce bool
)

var imageStoreCmd = &cobra.Command{
	Use:   "store [NAME]",
	Short: "Store VM disks as images",
	Long: `Flatten the disks of the selected VMs into the image directory.

The image name defaults to the hyphenized VM name and may be a template:
  vml image store -t golden --image '{{.hname}}-golden'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImageStore,
}

func init() {
	imageAvailableCmd.Flags().BoolVarP(&imageAvailableVerbose, "verbose", "v", false, "show descriptions and status")
	imagePullCmd.Flags().BoolVar(&imagePullOutdated, "outdated", false, "download outdated images again")

	imageStoreOpts.register(imageStoreCmd)
	imageStoreCmd.Flags().StringVarP(&imageStoreImage, "image", "i", "", "image name template")
	imageStoreCmd.Flags().BoolVarP(&imageStoreForce, "force", "f", false, "overwrite an existing image")

	imageCmd.AddCommand(imageListCmd, imageAvailableCmd, imagePullCmd, imageRmCmd, imageUpdateCmd, imageStoreCmd)
	rootCmd.AddCommand(imageCmd)
}

func catalog() (*images.Images, error) {
	opts := images.OptionsFromConfig(env.Config)
	opts.Logger = env.Logger
	return images.Load(env.Config.ImagesFile(), opts)
}

func runImageList(cmd *cobra.Command, args []string) error {
	names, err := images.List(env.Config.Images.Dirs())
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runImageAvailable(cmd *cobra.Command, args []string) error {
	imgs, err := catalog()
	if err != nil {
		return err
	}

	if !imageAvailableVerbose {
		for _, name := range imgs.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSTATUS\tDESCRIPTION")
	for _, img := range imgs.All() {
		status := "-"
		switch {
		case img.Outdated():
			status = "outdated"
		case img.Exists():
			status = "downloaded"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", img.Name, status, img.Description)
	}
	return w.Flush()
}

func runImagePull(cmd *cobra.Command, args []string) error {
	imgs, err := catalog()
	if err != nil {
		return err
	}

	var pull []*images.Image
	for _, name := range args {
		img, err := imgs.Lookup(name)
		if err != nil {
			return err
		}
		pull = append(pull, img)
	}
	if imagePullOutdated {
		pull = append(pull, imgs.Outdated().All()...)
	}
	pull = lo.UniqBy(pull, func(img *images.Image) string { return img.Name })
	if len(pull) == 0 {
		return fmt.Errorf("no image to pull")
	}

	var errs []error
	for _, img := range pull {
		fmt.Fprintf(cmd.OutOrStdout(), "Downloading image %s...\n", img.Name)
		path, err := img.Pull(cmd.Context())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", img.Name, err))
			continue
		}
		Debug("image %s stored at %s", img.Name, path)
	}
	return errors.Join(errs...)
}

func runImageRm(cmd *cobra.Command, args []string) error {
	for _, name := range args {
		if err := images.Remove(env.Config.Images.Directory, name); err != nil {
			return err
		}
	}
	return nil
}

func runImageUpdate(cmd *cobra.Command, args []string) error {
	embedded, err := assets.Get("images.toml")
	if err != nil {
		return err
	}
	header, err := assets.Get("images-header")
	if err != nil {
		return err
	}
	if err := images.Synchronize(env.Config.ImagesFile(), embedded, header); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", env.Config.ImagesFile())
	return nil
}

func runImageStore(cmd *cobra.Command, args []string) error {
	s, _, err := imageStoreOpts.selector(args)
	if err != nil {
		return err
	}
	vms, err := s.WithPID(selection.Without).ErrorOnEmpty().Resolve()
	if err != nil {
		return err
	}

	return forEachVM(vms, func(v *vm.VM) error {
		name := v.Hyphenized()
		if imageStoreImage != "" {
			if name, err = template.Render(v.Context, imageStoreImage); err != nil {
				return err
			}
		}
		dst := filepath.Join(env.Config.Images.Directory, filepath.Base(name))
		return v.StoreDisk(cmd.Context(), dst, imageStoreForce)
	})
}
