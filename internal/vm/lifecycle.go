package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/vmlab/vml/internal/cloudinit"
	"github.com/vmlab/vml/internal/mount"
	"github.com/vmlab/vml/internal/runstate"
	"github.com/vmlab/vml/internal/vmspec"
)

// stopTimeout bounds how long Stop waits for a forced VM to exit.
const stopTimeout = 5 * time.Second

// Start boots the VM in the background and records its run state.
func (v *VM) Start(ctx context.Context, opts StartOptions) error {
	log := v.env.Logger.With("vm", v.Name)

	if !v.HasDisk() {
		return fmt.Errorf("%w: %s", ErrNoDisk, v.DiskPath())
	}

	shares, err := mount.ParseAll(v.Spec.Shares)
	if err != nil {
		return err
	}
	validator, err := mount.NewValidator(v.env.Config.BlockedPaths)
	if err != nil {
		return err
	}
	if err := validator.ValidateAll(shares); err != nil {
		return err
	}

	if opts.CloudInit {
		if err := v.writeCloudInit(shares); err != nil {
			return err
		}
	}

	if err := v.env.Runs.Prepare(v.Name); err != nil {
		return err
	}
	// A stale pidfile would be mistaken for the new process.
	_ = os.Remove(v.env.Runs.PIDFile(v.Name))

	args, err := v.Args(opts, shares)
	if err != nil {
		return err
	}

	log.Debug("starting qemu", "command", v.Command(), "args", args)
	cmd := exec.CommandContext(ctx, v.Command(), args...)
	cmd.Dir = v.Dir
	cmd.Stdout = v.env.Stdout
	cmd.Stderr = v.env.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to start %s: %w", v.Name, err)
	}

	pid, err := v.env.Runs.ReadPIDFile(v.Name)
	if err != nil {
		return fmt.Errorf("failed to read pid of %s: %w", v.Name, err)
	}
	v.SetPID(pid)

	rec := &runstate.Record{
		ID:            uuid.New().String()[:8],
		Name:          v.Name,
		PID:           pid,
		StartedAt:     time.Now(),
		MonitorSocket: v.env.Runs.MonitorSocket(v.Name),
		CloudInit:     opts.CloudInit,
		Drives:        opts.Drives,
		Args:          args,
	}
	if port, ok := v.SSHPort(); ok {
		rec.SSHPort = port
	}
	if err := v.env.Runs.Save(rec); err != nil {
		return err
	}

	log.Info("started", "pid", pid)
	return nil
}

func (v *VM) writeCloudInit(shares []mount.Share) error {
	cfg := &cloudinit.Config{
		Name:     v.Name,
		Hostname: v.Spec.Hostname,
		User:     v.Spec.SSH.User,
		Shares:   shares,
	}

	keys := append([]string(nil), v.Spec.SSH.AuthorizedKeys...)
	if v.env.Keys != nil {
		if pub, err := v.env.Keys.PublicKeyContent(); err == nil {
			keys = append(keys, pub)
		} else {
			v.env.Logger.Warn("no vml ssh key available", "error", err)
		}
	}
	cfg.AuthorizedKeys = keys

	net := v.Spec.Net
	if net.Address != "" || net.MAC != "" || len(net.Nameservers) > 0 {
		cfg.Network = &cloudinit.Network{
			MAC:         net.MAC,
			Address:     net.Address,
			Gateway:     net.Gateway,
			Nameservers: net.Nameservers,
		}
	}

	return cloudinit.WriteISO(cfg, v.CloudInitPath())
}

// Stop asks the guest to power down, or terminates qemu when force is set.
// QMP is tried first; signals are the fallback.
func (v *VM) Stop(force bool) error {
	pid, ok := v.PID()
	if !ok {
		pid, ok = v.env.Runs.FindPID(v.Name)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, v.Name)
	}
	log := v.env.Logger.With("vm", v.Name, "pid", pid)

	command, signal := "system_powerdown", unix.SIGTERM
	if force {
		command, signal = "quit", unix.SIGKILL
	}

	if _, err := v.execute(command, nil); err != nil {
		log.Debug("monitor unavailable, signalling", "error", err)
		if err := unix.Kill(pid, signal); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("failed to stop %s: %w", v.Name, err)
		}
	}

	if !force {
		log.Info("powering down")
		return nil
	}

	waitExit(pid, stopTimeout)
	v.SetPID(0)
	if err := v.env.Runs.Delete(v.Name); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func waitExit(pid int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for runstate.Alive(pid) && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
}

// Remove deletes the VM's files. The directory itself is only removed once
// empty, so nested VM directories survive.
func (v *VM) Remove() error {
	for _, name := range []string{diskFile, cloudInitFile} {
		if err := os.Remove(filepath.Join(v.Dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if v.Declared == v.Name {
		if err := os.Remove(filepath.Join(v.Dir, vmspec.FileName)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", vmspec.FileName, err)
		}
	}

	if err := os.Remove(v.Dir); err != nil && !os.IsNotExist(err) && !isNotEmpty(err) {
		return fmt.Errorf("failed to remove %s: %w", v.Dir, err)
	}

	return v.env.Runs.Delete(v.Name)
}

func isNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST)
}
