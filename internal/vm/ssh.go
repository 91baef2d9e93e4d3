package vm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"

	"github.com/vmlab/vml/internal/template"
)

// sshBaseOptions keep throwaway guests out of known_hosts.
var sshBaseOptions = []string{
	"StrictHostKeyChecking=no",
	"UserKnownHostsFile=/dev/null",
	"LogLevel=ERROR",
}

// keyPath returns the identity file for the VM: the configured key, else the
// vml key when generated.
func (v *VM) keyPath() string {
	if v.Spec.SSH.Key != "" {
		if p, err := homedir.Expand(v.Spec.SSH.Key); err == nil {
			return p
		}
		return v.Spec.SSH.Key
	}
	if v.env.Keys != nil {
		if p, err := v.env.Keys.PrivateKeyPath(); err == nil {
			return p
		}
	}
	return ""
}

// sshOptions returns the -o/-i/-p style options shared by ssh and rsync.
func (v *VM) sshOptions(extra []string) []string {
	var args []string
	for _, o := range sshBaseOptions {
		args = append(args, "-o", o)
	}
	for _, o := range v.Spec.SSH.Options {
		args = append(args, "-o", o)
	}
	for _, o := range extra {
		args = append(args, "-o", o)
	}
	if port, ok := v.SSHPort(); ok {
		args = append(args, "-p", strconv.Itoa(port))
	}
	if key := v.keyPath(); key != "" {
		args = append(args, "-i", key)
	}
	return args
}

func (v *VM) destination(user string) string {
	if user == "" {
		user = v.SSHUser()
	}
	if user == "" {
		return v.SSHHost()
	}
	return user + "@" + v.SSHHost()
}

// SSHArgs returns the ssh argv (without the binary).
func (v *VM) SSHArgs(user string, options, flags, command []string) []string {
	args := v.sshOptions(options)
	args = append(args, flags...)
	args = append(args, v.destination(user))
	if len(command) > 0 {
		args = append(args, "--")
		args = append(args, command...)
	}
	return args
}

// SSH runs ssh against the VM attached to the environment's stdio and
// returns the remote exit code.
func (v *VM) SSH(user string, options, flags, command []string) (int, error) {
	args := v.SSHArgs(user, options, flags, command)
	v.env.Logger.Debug("running ssh", "vm", v.Name, "args", args)
	return v.exec(v.env.Tools.SSH, args)
}

func (v *VM) exec(bin string, args []string) (int, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdin = v.env.Stdin
	cmd.Stdout = v.env.Stdout
	cmd.Stderr = v.env.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to run %s: %w", bin, err)
	}
	return 0, nil
}

// WaitSSHOptions bound the reachability loop.
type WaitSSHOptions struct {
	Repeat int
	Sleep  time.Duration
	// Attempts is the number of connection attempts per probe.
	Attempts int
	Timeout  time.Duration
}

// dialRetryDelay separates the connection attempts of one probe.
var dialRetryDelay = time.Second

// WaitSSH probes the guest's ssh server until it answers or Repeat probes
// have failed. The loop stops early when ctx is done.
func (v *VM) WaitSSH(ctx context.Context, opts WaitSSHOptions) error {
	addr := net.JoinHostPort(v.SSHHost(), strconv.Itoa(v.sshPortOrDefault()))
	log := v.env.Logger.With("vm", v.Name, "addr", addr)

	var lastErr error
	for i := 0; i < max(opts.Repeat, 1); i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Sleep):
			}
		}
		if lastErr = v.probeSSH(ctx, addr, opts.Attempts, opts.Timeout); lastErr == nil {
			log.Debug("ssh reachable", "attempt", i+1)
			return nil
		}
		log.Debug("ssh not reachable", "attempt", i+1, "error", lastErr)
	}
	return &SSHFailedError{Name: v.Name, Err: lastErr}
}

func (v *VM) sshPortOrDefault() int {
	if port, ok := v.SSHPort(); ok {
		return port
	}
	return 22
}

// probeSSH completes an ssh handshake with addr, trying to connect up to
// attempts times. A server rejecting our credentials is up, so
// authentication failures count as success.
func (v *VM) probeSSH(ctx context.Context, addr string, attempts int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            v.SSHUser(),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	if key := v.keyPath(); key != "" {
		if signer, err := loadSigner(key); err == nil {
			cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		}
	}

	conn, err := dialAttempts(ctx, addr, attempts, timeout)
	if err != nil {
		return err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil
		}
		return err
	}
	return ssh.NewClient(c, chans, reqs).Close()
}

func dialAttempts(ctx context.Context, addr string, attempts int, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dialRetryDelay):
			}
		}
		var conn net.Conn
		if conn, err = d.DialContext(ctx, "tcp", addr); err == nil {
			return conn, nil
		}
	}
	return nil, err
}

// RsyncTo copies local sources to dest in the guest. An empty dest lists the
// sources instead of copying.
func (v *VM) RsyncTo(user string, sources []string, dest string, flags []string) (int, error) {
	args := v.rsyncArgs(flags)
	args = append(args, sources...)
	if dest != "" {
		args = append(args, v.destination(user)+":"+dest)
	}
	return v.rsync(args)
}

// RsyncToTemplate renders tmpl against the VM context and copies the
// resulting whitespace separated sources to dest.
func (v *VM) RsyncToTemplate(user, tmpl, dest string, flags []string) (int, error) {
	rendered, err := template.Render(v.Context, tmpl)
	if err != nil {
		return -1, err
	}
	return v.RsyncTo(user, strings.Fields(rendered), dest, flags)
}

// RsyncFrom copies guest sources to the local dest. An empty dest lists the
// sources instead of copying.
func (v *VM) RsyncFrom(user string, sources []string, dest string, flags []string) (int, error) {
	args := v.rsyncArgs(flags)
	remote := v.destination(user)
	for _, src := range sources {
		args = append(args, remote+":"+src)
	}
	if dest != "" {
		args = append(args, dest)
	}
	return v.rsync(args)
}

func (v *VM) rsyncArgs(flags []string) []string {
	shell := append([]string{v.env.Tools.SSH}, v.sshOptions(nil)...)
	args := []string{"-e", strings.Join(shell, " ")}
	return append(args, flags...)
}

func (v *VM) rsync(args []string) (int, error) {
	v.env.Logger.Debug("running rsync", "vm", v.Name, "args", args)
	return v.exec(v.env.Tools.Rsync, args)
}
