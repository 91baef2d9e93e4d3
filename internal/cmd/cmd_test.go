package cmd

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/vm"
)

// resetFlags restores every flag of c and its children to its default.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, child := range c.Commands() {
		resetFlags(child)
	}
}

// labDirs points the config and data directories at a temp dir and
// returns the directory holding the vm.toml files.
func labDirs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	return filepath.Join(root, "data", "vml", "vms")
}

func declare(t *testing.T, vmsDir, name, content string) {
	t.Helper()
	dir := filepath.Join(vmsDir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vm.toml"), []byte(content), 0644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { env = nil })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseUserAtName(t *testing.T) {
	user, name := parseUserAtName("admin@web-1")
	assert.Equal(t, "admin", user)
	assert.Equal(t, "web-1", name)

	user, name = parseUserAtName("web-1")
	assert.Empty(t, user)
	assert.Equal(t, "web-1", name)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes ", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		assert.Equal(t, tt.want, confirm(strings.NewReader(tt.input), &out, "sure?"), "input %q", tt.input)
		assert.Equal(t, "sure?\n", out.String())
	}
}

func TestFolding(t *testing.T) {
	off := config.ListCommand{}
	on := config.ListCommand{Fold: true}

	assert.False(t, folding(off, false, false))
	assert.True(t, folding(off, true, false))
	assert.True(t, folding(on, false, false))
	assert.False(t, folding(on, false, true))
}

func TestPrintNames(t *testing.T) {
	vms := []*vm.VM{
		{Name: "web-2", FoldedName: "web-{1..2}"},
		{Name: "db", FoldedName: "db"},
		{Name: "web-1", FoldedName: "web-{1..2}"},
	}

	var out bytes.Buffer
	printNames(&out, vms, false)
	assert.Equal(t, "db\nweb-1\nweb-2\n", out.String())

	out.Reset()
	printNames(&out, vms, true)
	assert.Equal(t, "db\nweb-{1..2}\n", out.String())
}

func TestCreateTargets(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, createTargets([]string{"x"}, []string{"a", "b"}))
	assert.Equal(t, []string{"x"}, createTargets([]string{"x"}, nil))
}

func TestForEachVM(t *testing.T) {
	vms := []*vm.VM{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	boom := errors.New("boom")

	var visited []string
	err := forEachVM(vms, func(v *vm.VM) error {
		visited = append(visited, v.Name)
		if v.Name == "b" {
			return boom
		}
		return nil
	})

	assert.Equal(t, []string{"a", "b", "c"}, visited)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")

	assert.NoError(t, forEachVM(vms, func(*vm.VM) error { return nil }))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, ExitCode(errors.New("plain")))

	sshErr := &vm.SSHFailedError{Name: "web", ExitCode: 7}
	assert.Equal(t, 7, ExitCode(errors.Join(errors.New("other"), sshErr)))
	assert.Equal(t, 1, ExitCode(&vm.SSHFailedError{Name: "web", ExitCode: -1}))
}

func TestListCommand(t *testing.T) {
	vmsDir := labDirs(t)
	declare(t, vmsDir, "base", "abstract = true\ntags = [\"lab\"]\n")
	declare(t, vmsDir, "web-{1..2}", "parent = \"base\"\n")
	declare(t, vmsDir, "db", "parent = \"base\"\n")

	out, err := execute(t, "list", "--all")
	require.NoError(t, err)
	assert.Equal(t, "db\nweb-1\nweb-2\n", out)

	out, err = execute(t, "list", "--all", "--fold")
	require.NoError(t, err)
	assert.Equal(t, "db\nweb-{1..2}\n", out)

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Empty(t, out, "nothing is running")
}

func TestShowCommand(t *testing.T) {
	vmsDir := labDirs(t)
	declare(t, vmsDir, "base", "abstract = true\nmemory = \"2G\"\n")
	declare(t, vmsDir, "web", "parent = \"base\"\nhostname = \"{{.hname}}.lab\"\n")

	out, err := execute(t, "show", "web")
	require.NoError(t, err)
	assert.Contains(t, out, "# name: web")
	assert.Contains(t, out, "2G")
	assert.Contains(t, out, "web.lab")

	_, err = execute(t, "show", "missing")
	assert.Error(t, err)
}

func TestPruneCommand(t *testing.T) {
	labDirs(t)

	out, err := execute(t, "prune")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to prune.\n", out)
}

func TestImageListCommand(t *testing.T) {
	vmsDir := labDirs(t)
	imagesDir := filepath.Join(filepath.Dir(vmsDir), "images")
	require.NoError(t, os.MkdirAll(imagesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "debian-12"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, ".alpine.tmp"), nil, 0644))

	out, err := execute(t, "image", "list")
	require.NoError(t, err)
	assert.Equal(t, "debian-12\n", out)
}

func TestImagePullCommand(t *testing.T) {
	vmsDir := labDirs(t)
	imagesDir := filepath.Join(filepath.Dir(vmsDir), "images")

	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/broken.qcow2" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("disk"))
	}))
	defer srv.Close()

	configDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "vml")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	catalog := "[broken]\nurl = \"" + srv.URL + "/broken.qcow2\"\n\n" +
		"[good]\nurl = \"" + srv.URL + "/good.qcow2\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "images.toml"), []byte(catalog), 0644))

	_, err := execute(t, "image", "pull", "broken", "good", "good")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.NotContains(t, err.Error(), "good")

	data, err := os.ReadFile(filepath.Join(imagesDir, "good"))
	require.NoError(t, err, "a failed image does not stop the others")
	assert.Equal(t, "disk", string(data))
	assert.NoFileExists(t, filepath.Join(imagesDir, "broken"))
	assert.Equal(t, 1, hits["/good.qcow2"], "duplicates are pulled once")
}
