package vm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/vmlab/vml/internal/vmspec"
)

func TestSSHArgs(t *testing.T) {
	env, _ := newTestEnv(t)
	v := newTestVM(t, env, "web", vmspec.Spec{
		SSH: vmspec.SSH{
			User:    "debian",
			Port:    intPtr(2222),
			Key:     "/keys/id",
			Options: []string{"ForwardAgent=yes"},
		},
	})

	args := v.SSHArgs("", []string{"ConnectTimeout=1"}, []string{"-t"}, []string{"uname", "-a"})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-o StrictHostKeyChecking=no")
	assert.Contains(t, joined, "-o ForwardAgent=yes")
	assert.Contains(t, joined, "-o ConnectTimeout=1")
	assert.Contains(t, joined, "-p 2222")
	assert.Contains(t, joined, "-i /keys/id")
	assert.Equal(t, []string{"-t", "debian@localhost", "--", "uname", "-a"}, args[len(args)-5:])

	// the user from user@name wins
	args = v.SSHArgs("root", nil, nil, nil)
	assert.Equal(t, "root@localhost", args[len(args)-1])
}

func TestSSHArgsUsesGeneratedKey(t *testing.T) {
	env, _ := newTestEnv(t)
	key, err := env.Keys.EnsureKeyPair()
	require.NoError(t, err)

	v := newTestVM(t, env, "web", vmspec.Spec{})
	assert.Contains(t, strings.Join(v.SSHArgs("", nil, nil, nil), " "), "-i "+key)
}

func TestSSHExitCode(t *testing.T) {
	env, root := newTestEnv(t)
	env.Tools.SSH = writeTool(t, filepath.Join(root, "bin"), "ssh-fail", "exit 3\n")
	v := newTestVM(t, env, "web", vmspec.Spec{})

	code, err := v.SSH("", nil, nil, []string{"false"})
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	code, err = newTestVM(t, &Env{
		Config: env.Config, Runs: env.Runs, Logger: env.Logger,
		Tools: Tools{SSH: filepath.Join(root, "missing")},
	}, "web", vmspec.Spec{}).SSH("", nil, nil, nil)
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestRsync(t *testing.T) {
	env, _ := newTestEnv(t)
	v := newTestVM(t, env, "web", vmspec.Spec{SSH: vmspec.SSH{User: "debian", Port: intPtr(2222)}})

	t.Run("to home", func(t *testing.T) {
		code, err := v.RsyncTo("", []string{"a.txt", "b.txt"}, "~", []string{"-av"})
		require.NoError(t, err)
		assert.Equal(t, 0, code)

		args := toolArgs(t, env.Tools.Rsync)
		require.GreaterOrEqual(t, len(args), 6)
		assert.Equal(t, "-e", args[0])
		assert.True(t, strings.HasPrefix(args[1], env.Tools.SSH+" "))
		assert.Contains(t, args[1], "-p 2222")
		assert.Equal(t, []string{"-av", "a.txt", "b.txt", "debian@localhost:~"}, args[2:])
	})

	t.Run("to without destination lists", func(t *testing.T) {
		_, err := v.RsyncTo("", []string{"a.txt"}, "", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt"}, toolArgs(t, env.Tools.Rsync)[2:])
	})

	t.Run("from into a directory", func(t *testing.T) {
		_, err := v.RsyncFrom("root", []string{"/etc/hosts", "/etc/motd"}, "/tmp/out", nil)
		require.NoError(t, err)
		args := toolArgs(t, env.Tools.Rsync)
		assert.Equal(t, []string{"root@localhost:/etc/hosts", "root@localhost:/etc/motd", "/tmp/out"}, args[2:])
	})

	t.Run("from without destination lists", func(t *testing.T) {
		_, err := v.RsyncFrom("", []string{"/var/log"}, "", nil)
		require.NoError(t, err)
		args := toolArgs(t, env.Tools.Rsync)
		assert.Equal(t, []string{"debian@localhost:/var/log"}, args[2:])
	})

	t.Run("to template", func(t *testing.T) {
		_, err := v.RsyncToTemplate("", "{{.vm_dir}}/notes {{.name}}.conf", "/etc", nil)
		require.NoError(t, err)
		args := toolArgs(t, env.Tools.Rsync)
		assert.Equal(t, []string{v.Dir + "/notes", "web.conf", "debian@localhost:/etc"}, args[2:])
	})

	t.Run("to template with unknown key", func(t *testing.T) {
		_, err := v.RsyncToTemplate("", "{{.nope}}", "", nil)
		assert.Error(t, err)
	})
}

// serveSSH runs an ssh server on a random local port that accepts no
// credentials and returns its port.
func serveSSH(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveSSHOn(t, ln)
	return ln.Addr().(*net.TCPAddr).Port
}

// serveSSHOn serves the credential-rejecting ssh server on ln.
func serveSSHOn(t *testing.T, ln net.Listener) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(hostKey)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _, _, _ = ssh.NewServerConn(conn, cfg)
			}()
		}
	}()
}

func TestWaitSSH(t *testing.T) {
	t.Run("server answering counts as reachable", func(t *testing.T) {
		env, _ := newTestEnv(t)
		port := serveSSH(t)
		v := newTestVM(t, env, "web", vmspec.Spec{SSH: vmspec.SSH{Host: "127.0.0.1", Port: intPtr(port)}})

		err := v.WaitSSH(context.Background(), WaitSSHOptions{Repeat: 3, Sleep: 10 * time.Millisecond, Timeout: time.Second})
		assert.NoError(t, err)
	})

	t.Run("gives up after repeat probes", func(t *testing.T) {
		env, _ := newTestEnv(t)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		v := newTestVM(t, env, "web", vmspec.Spec{SSH: vmspec.SSH{Host: "127.0.0.1", Port: intPtr(port)}})

		start := time.Now()
		err = v.WaitSSH(context.Background(), WaitSSHOptions{Repeat: 3, Sleep: 20 * time.Millisecond, Timeout: 100 * time.Millisecond})
		var sshErr *SSHFailedError
		require.ErrorAs(t, err, &sshErr)
		assert.Equal(t, "web", sshErr.Name)
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("connection attempts outlast a late server", func(t *testing.T) {
		env, _ := newTestEnv(t)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		restore := dialRetryDelay
		dialRetryDelay = 50 * time.Millisecond
		t.Cleanup(func() { dialRetryDelay = restore })

		ready := make(chan net.Listener, 1)
		go func() {
			time.Sleep(80 * time.Millisecond)
			late, err := net.Listen("tcp", addr)
			if err != nil {
				close(ready)
				return
			}
			ready <- late
		}()

		v := newTestVM(t, env, "web", vmspec.Spec{SSH: vmspec.SSH{Host: "127.0.0.1", Port: intPtr(port)}})
		done := make(chan error, 1)
		go func() {
			done <- v.WaitSSH(context.Background(), WaitSSHOptions{Repeat: 1, Attempts: 10, Timeout: time.Second})
		}()

		late, ok := <-ready
		require.True(t, ok, "port was taken before the server came up")
		serveSSHOn(t, late)
		assert.NoError(t, <-done)
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		env, _ := newTestEnv(t)
		v := newTestVM(t, env, "web", vmspec.Spec{SSH: vmspec.SSH{Host: "127.0.0.1", Port: intPtr(1)}})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := v.WaitSSH(ctx, WaitSSHOptions{Repeat: 5, Sleep: time.Hour, Timeout: 100 * time.Millisecond})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSSHKeyManager(t *testing.T) {
	dir := t.TempDir()
	m := NewSSHKeyManager(dir)

	assert.False(t, m.KeyPairExists())
	_, err := m.PrivateKeyPath()
	assert.Error(t, err)

	path, err := m.EnsureKeyPair()
	require.NoError(t, err)
	assert.True(t, m.KeyPairExists())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	pub, err := m.PublicKeyContent()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub, "ssh-ed25519 "))

	signer, err := m.Signer()
	require.NoError(t, err)
	assert.Equal(t, pub, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))+" vml")

	// a second call keeps the existing pair
	again, err := m.EnsureKeyPair()
	require.NoError(t, err)
	assert.Equal(t, path, again)
	pub2, err := m.PublicKeyContent()
	require.NoError(t, err)
	assert.Equal(t, pub, pub2)
}
