// Package vm drives the lifecycle of resolved VMs through qemu, ssh and rsync.
package vm

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/images"
	"github.com/vmlab/vml/internal/template"
	"github.com/vmlab/vml/internal/vmspec"
)

const (
	diskFile      = "disk.qcow2"
	cloudInitFile = "cloud-init.iso"
)

// VM is a concrete, fully merged and rendered VM definition.
type VM struct {
	Name       string
	FoldedName string
	// Declared is the name of the vm.toml the VM was resolved from.
	Declared  string
	Dir       string
	Ancestors []string
	Spec      vmspec.Spec
	Context   template.Context

	pid int
	env *Env
}

// New binds a resolved definition to env.
func New(env *Env, name, folded, declared, dir string, ancestors []string, spec vmspec.Spec, ctx template.Context) *VM {
	return &VM{
		Name:       name,
		FoldedName: folded,
		Declared:   declared,
		Dir:        dir,
		Ancestors:  ancestors,
		Spec:       spec,
		Context:    ctx,
		env:        env,
	}
}

// Hyphenize turns a VM name into a single path element.
func Hyphenize(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// NewContext returns the template context of the VM called name.
func NewContext(cfg *config.Config, name, folded, dir string) template.Context {
	ctx := template.NewContext(
		[2]string{"name", name},
		[2]string{"hname", Hyphenize(name)},
		[2]string{"fname", folded},
		[2]string{"hfname", Hyphenize(folded)},
		[2]string{"vm_dir", dir},
		[2]string{"vms_dir", cfg.VMsDir},
		[2]string{"images_dir", cfg.Images.Directory},
		[2]string{"run_dir", cfg.RunDir},
		[2]string{"config_dir", cfg.ConfigDir},
		[2]string{"arch", images.HostArch()},
	)
	if u, err := user.Current(); err == nil {
		ctx["user"] = u.Username
		ctx["home"] = u.HomeDir
	}
	return ctx
}

// Hyphenized returns the name with slashes replaced by hyphens.
func (v *VM) Hyphenized() string {
	return Hyphenize(v.Name)
}

// PID returns the discovered process id.
func (v *VM) PID() (int, bool) {
	return v.pid, v.pid > 0
}

// HasPID reports whether a live process was discovered.
func (v *VM) HasPID() bool {
	return v.pid > 0
}

// SetPID records the discovered process id; 0 clears it.
func (v *VM) SetPID(pid int) {
	v.pid = pid
}

// DiskPath returns the path of the VM's main disk.
func (v *VM) DiskPath() string {
	return filepath.Join(v.Dir, diskFile)
}

// CloudInitPath returns the path of the VM's seed image.
func (v *VM) CloudInitPath() string {
	return filepath.Join(v.Dir, cloudInitFile)
}

// HasDisk reports whether the main disk exists.
func (v *VM) HasDisk() bool {
	info, err := os.Stat(v.DiskPath())
	return err == nil && info.Mode().IsRegular()
}

// Arch returns the guest architecture, the host's by default.
func (v *VM) Arch() string {
	if v.Spec.Arch != "" {
		return v.Spec.Arch
	}
	return images.HostArch()
}
