package vm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/logger"
	"github.com/vmlab/vml/internal/runstate"
	"github.com/vmlab/vml/internal/vmspec"
)

func intPtr(i int) *int { return &i }

// newTestEnv returns an environment rooted in a temp dir whose tools are
// shell scripts logging their argv to <root>/<tool>.log.
func newTestEnv(t *testing.T) (*Env, string) {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		VMsDir:    filepath.Join(root, "vms"),
		RunDir:    filepath.Join(root, "run"),
		ConfigDir: filepath.Join(root, "config"),
		Images: config.Images{
			Directory: filepath.Join(root, "images"),
		},
	}
	require.NoError(t, os.MkdirAll(cfg.VMsDir, 0755))
	require.NoError(t, os.MkdirAll(cfg.Images.Directory, 0755))

	runs, err := runstate.NewStore(cfg.RunDir)
	require.NoError(t, err)

	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0755))

	env := &Env{
		Config: cfg,
		Runs:   runs,
		Keys:   NewSSHKeyManager(filepath.Join(root, "data")),
		Tools: Tools{
			QEMUSystem: filepath.Join(bin, "qemu-system-"),
			QEMUImg:    writeTool(t, bin, "qemu-img", qemuImgScript),
			SSH:        writeTool(t, bin, "ssh", "exit 0\n"),
			Rsync:      writeTool(t, bin, "rsync", "exit 0\n"),
		},
		Logger: logger.New(io.Discard, false),
		Stdin:  strings.NewReader(""),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}
	return env, root
}

// qemuImgScript creates or converts disks like qemu-img would.
const qemuImgScript = `case "$1" in
create) echo "overlay of $7" > "$8" ;;
convert) cp "$4" "$5" ;;
esac
`

// writeTool writes an executable script logging its arguments, one per line.
func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	log := path + ".log"
	script := "#!/bin/sh\nfor a in \"$@\"; do echo \"$a\"; done > '" + log + "'\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// toolArgs returns the arguments of the last invocation of the tool at path.
func toolArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path + ".log")
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

// newTestVM returns a VM bound to env with its directory created.
func newTestVM(t *testing.T, env *Env, name string, spec vmspec.Spec) *VM {
	t.Helper()
	dir := filepath.Join(env.Config.VMsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	ctx := NewContext(env.Config, name, name, dir)
	ctx["user"] = "tester"
	return New(env, name, name, name, dir, nil, spec, ctx)
}

func touchDisk(t *testing.T, v *VM) {
	t.Helper()
	require.NoError(t, os.WriteFile(v.DiskPath(), []byte("disk"), 0644))
}

// fakeMonitor answers QMP commands from a table keyed by command name.
type fakeMonitor struct {
	replies   map[string]string
	commands  []string
	lines     []string
	connected bool
	onRun     func(command string)
}

func newFakeMonitor(replies map[string]string) *fakeMonitor {
	return &fakeMonitor{replies: replies}
}

func (m *fakeMonitor) Connect() error    { m.connected = true; return nil }
func (m *fakeMonitor) Disconnect() error { m.connected = false; return nil }

func (m *fakeMonitor) Run(raw []byte) ([]byte, error) {
	var cmd struct {
		Execute   string            `json:"execute"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, err
	}
	m.commands = append(m.commands, cmd.Execute)
	if m.onRun != nil {
		m.onRun(cmd.Execute)
	}

	key := cmd.Execute
	if line, ok := cmd.Arguments["command-line"]; ok {
		m.lines = append(m.lines, line)
		key = line
	}
	reply, ok := m.replies[key]
	if !ok {
		return nil, errors.New("CommandNotFound")
	}
	return []byte(reply), nil
}

func withMonitor(env *Env, mon MonitorConn) {
	env.DialMonitor = func(string) (MonitorConn, error) { return mon, nil }
}
