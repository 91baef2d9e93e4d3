package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vmlab/vml/internal/mount"
	"github.com/vmlab/vml/internal/vmspec"
)

const defaultDisplay = "none"

// StartOptions tune a single start.
type StartOptions struct {
	CloudInit bool
	// Drives are extra disk images attached for this run only.
	Drives []string
}

// Args returns the qemu-system argv (without the binary) starting the VM.
// shares must be the parsed shares of the spec.
func (v *VM) Args(opts StartOptions, shares []mount.Share) ([]string, error) {
	args := []string{
		"-name", v.Name,
		"-machine", "accel=kvm:tcg",
		"-cpu", "max",
	}

	if v.Spec.Memory != "" {
		mib, err := v.Spec.MemoryMiB()
		if err != nil {
			return nil, err
		}
		args = append(args, "-m", strconv.FormatUint(mib, 10))
	}
	if v.Spec.Nproc != nil {
		args = append(args, "-smp", strconv.Itoa(*v.Spec.Nproc))
	}

	args = append(args, "-drive", driveArg(v.DiskPath(), "virtio", ""))
	for _, disk := range v.Spec.Disks {
		args = append(args, "-drive", driveArg(disk, "virtio", ""))
	}
	if opts.CloudInit {
		args = append(args, "-drive", driveArg(v.CloudInitPath(), "virtio", "raw")+",readonly=on")
	}
	for _, drive := range opts.Drives {
		args = append(args, "-drive", driveArg(drive, "virtio", ""))
	}

	display := v.Spec.Display
	if display == "" {
		display = defaultDisplay
	}
	args = append(args, "-display", display)

	args = append(args, v.netArgs()...)
	args = append(args, mount.QEMUArgs(shares)...)

	if v.env != nil {
		args = append(args,
			"-qmp", fmt.Sprintf("unix:%s,server=on,wait=off", v.env.Runs.MonitorSocket(v.Name)),
			"-pidfile", v.env.Runs.PIDFile(v.Name),
		)
	}
	args = append(args, "-daemonize")

	return append(args, v.Spec.QEMUArgs...), nil
}

func driveArg(path, iface, format string) string {
	arg := "file=" + escapeOption(path) + ",if=" + iface
	if format != "" {
		arg += ",format=" + format
	}
	return arg
}

// escapeOption doubles commas, which qemu treats as option separators.
func escapeOption(v string) string {
	return strings.ReplaceAll(v, ",", ",,")
}

func (v *VM) netArgs() []string {
	net := v.Spec.Net
	switch net.Type {
	case vmspec.NetNone:
		return []string{"-nic", "none"}
	case vmspec.NetTap:
		nic := "tap,model=virtio-net-pci,script=no,downscript=no"
		if net.Tap != "" {
			nic += ",ifname=" + net.Tap
		}
		if net.MAC != "" {
			nic += ",mac=" + net.MAC
		}
		return []string{"-nic", nic}
	default:
		nic := "user,model=virtio-net-pci"
		if port, ok := v.SSHPort(); ok && v.forwardsSSH() {
			nic += fmt.Sprintf(",hostfwd=tcp:127.0.0.1:%d-:22", port)
		}
		if net.MAC != "" {
			nic += ",mac=" + net.MAC
		}
		return []string{"-nic", nic}
	}
}

// forwardsSSH reports whether the ssh port is a host port forwarded by the
// user network.
func (v *VM) forwardsSSH() bool {
	t := v.Spec.Net.Type
	return (t == "" || t == vmspec.NetUser) && v.Spec.SSH.Host == ""
}

// SSHPort returns the configured ssh port.
func (v *VM) SSHPort() (int, bool) {
	if v.Spec.SSH.Port == nil {
		return 0, false
	}
	return *v.Spec.SSH.Port, true
}

// SSHHost returns the address ssh connects to.
func (v *VM) SSHHost() string {
	switch {
	case v.Spec.SSH.Host != "":
		return v.Spec.SSH.Host
	case v.forwardsSSH():
		return "localhost"
	case v.Spec.Net.Address != "":
		return strings.SplitN(v.Spec.Net.Address, "/", 2)[0]
	case v.Spec.Hostname != "":
		return v.Spec.Hostname
	default:
		return v.Hyphenized()
	}
}

// SSHUser returns the configured login user, falling back to the local user.
func (v *VM) SSHUser() string {
	if v.Spec.SSH.User != "" {
		return v.Spec.SSH.User
	}
	return v.Context["user"]
}

// Command returns the qemu-system binary for the VM's arch.
func (v *VM) Command() string {
	prefix := DefaultTools().QEMUSystem
	if v.env != nil {
		prefix = v.env.Tools.QEMUSystem
	}
	return prefix + v.Arch()
}
