package images

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/logger"
	"github.com/vmlab/vml/internal/template"
)

// Options binds a loaded catalog to the local image directory.
type Options struct {
	// Directory receives pulled images.
	Directory string
	// UpdateAfterDays is the catalog-wide freshness threshold; nil disables it.
	UpdateAfterDays *int
	// GetURLProgsDir resolves relative get-url-prog references.
	GetURLProgsDir string
	// Arch overrides the host architecture used to render URLs.
	Arch string

	Logger *slog.Logger
}

// OptionsFromConfig derives catalog options from the vml configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Directory:       cfg.Images.Directory,
		UpdateAfterDays: cfg.Images.UpdateAfterDays,
		GetURLProgsDir:  cfg.GetURLProgsDir(),
	}
}

// Image is a catalog entry bound to the image directory.
type Image struct {
	Name        string
	Description string

	url             string
	getURLProg      string
	updateAfterDays *int
	opts            *Options
}

// newImage renders the URL template against the (mapped) architecture. A URL
// that fails to render is kept as written.
func newImage(e Entry, opts *Options) *Image {
	arch := opts.Arch
	if mapped, ok := e.ArchMapping[arch]; ok {
		arch = mapped
	}

	url := e.URL
	ctx := template.NewContext([2]string{"arch", arch})
	if rendered, err := template.Render(ctx, url); err == nil {
		url = rendered
	} else {
		opts.Logger.Debug("keeping unrendered image url", "image", e.Name, "error", err)
	}

	return &Image{
		Name:            e.Name,
		Description:     e.Description,
		url:             url,
		getURLProg:      e.GetURLProg,
		updateAfterDays: e.UpdateAfterDays,
		opts:            opts,
	}
}

// Path returns where the image lives (or would live) on disk.
func (i *Image) Path() string {
	p, err := securejoin.SecureJoin(i.opts.Directory, i.Name)
	if err != nil {
		return ""
	}
	return p
}

// Exists reports whether the image file is present.
func (i *Image) Exists() bool {
	info, err := os.Stat(i.Path())
	return err == nil && info.Mode().IsRegular()
}

// Outdated reports whether the image file is older than its freshness
// threshold. Missing files, unreadable mtimes and images without a threshold
// are never outdated.
func (i *Image) Outdated() bool {
	days := i.updateAfterDays
	if days == nil {
		days = i.opts.UpdateAfterDays
	}
	if days == nil {
		return false
	}

	info, err := os.Stat(i.Path())
	if err != nil {
		return false
	}

	age := time.Since(info.ModTime())
	if age < 0 {
		return false
	}
	return age > time.Duration(*days)*24*time.Hour
}

// Images is a name-ordered set of catalog images.
type Images struct {
	names  []string
	byName map[string]*Image
}

func newImages(list []*Image) *Images {
	imgs := &Images{byName: make(map[string]*Image, len(list))}
	for _, img := range list {
		imgs.byName[img.Name] = img
		imgs.names = append(imgs.names, img.Name)
	}
	sort.Strings(imgs.names)
	return imgs
}

// Available loads the local catalog configured in cfg.
func Available(cfg *config.Config) (*Images, error) {
	return Load(cfg.ImagesFile(), OptionsFromConfig(cfg))
}

// Load reads the catalog at path and binds it to opts.
func Load(path string, opts Options) (*Images, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogRead, path, err)
	}
	entries, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogParse, path, err)
	}

	if opts.Arch == "" {
		opts.Arch = HostArch()
	}
	opts.Logger = logger.OrDefault(opts.Logger)

	list := make([]*Image, 0, len(entries))
	for _, e := range entries {
		list = append(list, newImage(e, &opts))
	}
	return newImages(list), nil
}

// Names returns the image names in order.
func (s *Images) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of images.
func (s *Images) Len() int {
	return len(s.names)
}

// All returns the images in name order.
func (s *Images) All() []*Image {
	out := make([]*Image, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.byName[name])
	}
	return out
}

// Get returns the image called name.
func (s *Images) Get(name string) (*Image, bool) {
	img, ok := s.byName[name]
	return img, ok
}

// Lookup is Get returning ErrUnknownImage for unknown names.
func (s *Images) Lookup(name string) (*Image, error) {
	img, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, name)
	}
	return img, nil
}

// Filter returns the images matching predicate.
func (s *Images) Filter(predicate func(*Image) bool) *Images {
	var list []*Image
	for _, img := range s.All() {
		if predicate(img) {
			list = append(list, img)
		}
	}
	return newImages(list)
}

// Existing keeps images present on disk.
func (s *Images) Existing() *Images {
	return s.Filter((*Image).Exists)
}

// Outdated keeps images older than their freshness threshold.
func (s *Images) Outdated() *Images {
	return s.Filter((*Image).Outdated)
}
