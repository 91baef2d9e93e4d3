package vm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/images"
	"github.com/vmlab/vml/internal/vmspec"
)

// CreateOptions tune Create.
type CreateOptions struct {
	// Image is the base image name; the spec's image is used when empty.
	Image  string
	Exists config.CreateExistsAction
}

// Create declares the VM called name and gives every instance it fans out
// to a qcow2 overlay over the base image. It returns the created instance
// names.
func Create(ctx context.Context, env *Env, name string, opts CreateOptions) ([]string, error) {
	storage := vmspec.NewStorage(env.Config.VMsDir)
	dir, err := storage.Dir(name)
	if err != nil {
		return nil, err
	}
	instances, err := vmspec.Expand(name)
	if err != nil {
		return nil, err
	}

	spec, err := declare(dir, opts.Image)
	if err != nil {
		return nil, err
	}
	imageName := spec.Image
	if imageName == "" {
		if v, ok := env.Config.Default["image"].(string); ok {
			imageName = v
		}
	}
	if imageName == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoImage, name)
	}
	base, err := images.Find(env.Config.Images.Dirs(), imageName)
	if err != nil {
		return nil, err
	}

	var size uint64
	if spec.DiskSize != "" {
		if size, err = spec.DiskSizeBytes(); err != nil {
			return nil, err
		}
	}

	var created []string
	for _, inst := range instances {
		instDir, err := storage.Dir(inst.Name)
		if err != nil {
			return created, err
		}
		disk := filepath.Join(instDir, diskFile)

		if _, err := os.Stat(disk); err == nil {
			switch opts.Exists {
			case config.CreateExistsIgnore:
				env.Logger.Debug("vm exists, skipping", "vm", inst.Name)
				continue
			case config.CreateExistsReplace:
				if err := os.Remove(disk); err != nil {
					return created, fmt.Errorf("failed to replace %s: %w", inst.Name, err)
				}
			default:
				return created, fmt.Errorf("%w: %s", ErrVMExists, inst.Name)
			}
		}

		if err := os.MkdirAll(instDir, 0755); err != nil {
			return created, fmt.Errorf("failed to create %s: %w", instDir, err)
		}
		if err := env.overlay(ctx, base, disk, size); err != nil {
			return created, err
		}
		env.Logger.Info("created", "vm", inst.Name, "image", imageName)
		created = append(created, inst.Name)
	}
	return created, nil
}

// declare makes sure dir holds a vm.toml, recording image in it when given.
func declare(dir, image string) (*vmspec.Spec, error) {
	path := filepath.Join(dir, vmspec.FileName)

	spec, err := vmspec.Load(path)
	switch {
	case err == nil:
		if image == "" || spec.Image == image {
			return spec, nil
		}
	case errors.Is(err, fs.ErrNotExist):
		spec = &vmspec.Spec{}
	default:
		return nil, err
	}

	spec.Image = image
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := vmspec.Save(path, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func (e *Env) overlay(ctx context.Context, base, disk string, size uint64) error {
	args := []string{"create", "-f", "qcow2", "-F", "qcow2", "-b", base, disk}
	if size > 0 {
		args = append(args, strconv.FormatUint(size, 10))
	}
	return e.qemuImg(ctx, args)
}

func (e *Env) qemuImg(ctx context.Context, args []string) error {
	e.Logger.Debug("running qemu-img", "args", args)
	out, err := exec.CommandContext(ctx, e.Tools.QEMUImg, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("qemu-img %s failed: %w: %s", args[0], err, out)
	}
	return nil
}

// StoreDisk flattens the VM disk into a standalone image at dst. The image
// appears at dst only once complete.
func (v *VM) StoreDisk(ctx context.Context, dst string, force bool) error {
	if !v.HasDisk() {
		return fmt.Errorf("%w: %s", ErrNoDisk, v.DiskPath())
	}
	if _, err := os.Stat(dst); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrImageExists, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp")
	defer os.Remove(tmp)

	if err := v.env.qemuImg(ctx, []string{"convert", "-O", "qcow2", v.DiskPath(), tmp}); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("failed to store %s: %w", dst, err)
	}
	v.env.Logger.Info("stored disk", "vm", v.Name, "image", dst)
	return nil
}
