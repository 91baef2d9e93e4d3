package vmspec

import (
	"github.com/vmlab/vml/internal/template"
)

// Render renders every string field of the spec against ctx. The first
// failing field aborts with a RenderError naming it.
func (s Spec) Render(ctx template.Context) (Spec, error) {
	r := renderer{ctx: ctx}
	out := s

	out.Tags = r.list("tags", s.Tags)
	out.Arch = r.str("arch", s.Arch)
	out.Memory = r.str("memory", s.Memory)
	out.Image = r.str("image", s.Image)
	out.DiskSize = r.str("disk-size", s.DiskSize)
	out.Disks = r.list("disks", s.Disks)
	out.Display = r.str("display", s.Display)
	out.Hostname = r.str("hostname", s.Hostname)
	out.Shares = r.list("shares", s.Shares)
	out.QEMUArgs = r.list("qemu-args", s.QEMUArgs)

	out.Net.Address = r.str("net.address", s.Net.Address)
	out.Net.Gateway = r.str("net.gateway", s.Net.Gateway)
	out.Net.Nameservers = r.list("net.nameservers", s.Net.Nameservers)
	out.Net.Tap = r.str("net.tap", s.Net.Tap)
	out.Net.MAC = r.str("net.mac", s.Net.MAC)

	out.SSH.User = r.str("ssh.user", s.SSH.User)
	out.SSH.Host = r.str("ssh.host", s.SSH.Host)
	out.SSH.Key = r.str("ssh.key", s.SSH.Key)
	out.SSH.Options = r.list("ssh.options", s.SSH.Options)
	out.SSH.AuthorizedKeys = r.list("ssh.authorized-keys", s.SSH.AuthorizedKeys)

	if r.err != nil {
		return Spec{}, r.err
	}
	return out, nil
}

// renderer keeps the first error and turns later calls into no-ops.
type renderer struct {
	ctx template.Context
	err error
}

func (r *renderer) str(field, v string) string {
	if r.err != nil {
		return v
	}
	out, err := template.Render(r.ctx, v)
	if err != nil {
		r.err = &RenderError{Field: field, Err: err}
		return v
	}
	return out
}

func (r *renderer) list(field string, vs []string) []string {
	if r.err != nil || vs == nil {
		return vs
	}
	out, err := template.RenderAll(r.ctx, vs)
	if err != nil {
		r.err = &RenderError{Field: field, Err: err}
		return vs
	}
	return out
}
