package selection

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/logger"
	"github.com/vmlab/vml/internal/runstate"
	"github.com/vmlab/vml/internal/template"
	"github.com/vmlab/vml/internal/vm"
	"github.com/vmlab/vml/internal/vmspec"
)

// fakeFinder reports the VMs in running as alive and records every probe.
type fakeFinder struct {
	running map[string]int
	probed  []string
}

func (f *fakeFinder) FindPID(name string) (int, bool) {
	f.probed = append(f.probed, name)
	pid, ok := f.running[name]
	return pid, ok
}

func writeSpec(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, vmspec.FileName), []byte(content), 0644))
}

// newLab returns an environment whose storage declares:
//
//	base (abstract) -> base/web, base/db
//	node-{1..2} with parent base
//	solo
func newLab(t *testing.T) *vm.Env {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		VMsDir: filepath.Join(root, "vms"),
		RunDir: filepath.Join(root, "run"),
		Images: config.Images{Directory: filepath.Join(root, "images")},
	}

	writeSpec(t, cfg.VMsDir, "base", "abstract = true\ntags = [\"lab\"]\nmemory = \"1G\"\n")
	writeSpec(t, cfg.VMsDir, "base/web", "tags = [\"web\"]\nhostname = \"{{.hname}}.lab\"\n")
	writeSpec(t, cfg.VMsDir, "base/db", "tags = [\"db\"]\nmemory = \"4G\"\n")
	writeSpec(t, cfg.VMsDir, "node-{1..2}", "parent = \"base\"\ntags = [\"node\"]\n")
	writeSpec(t, cfg.VMsDir, "solo", "image = \"debian-12\"\n")

	runs, err := runstate.NewStore(cfg.RunDir)
	require.NoError(t, err)
	return &vm.Env{Config: cfg, Runs: runs, Logger: logger.New(io.Discard, false)}
}

func vmNames(vms []*vm.VM) []string {
	names := make([]string, 0, len(vms))
	for _, v := range vms {
		names = append(names, v.Name)
	}
	return names
}

func resolveNames(t *testing.T, s *Selector) []string {
	t.Helper()
	vms, err := s.Resolve()
	require.NoError(t, err)
	return vmNames(vms)
}

func TestResolveCriteria(t *testing.T) {
	tests := []struct {
		name string
		pick func(s *Selector)
		want []string
	}{
		{
			name: "nothing selected",
			pick: func(s *Selector) {},
			want: []string{},
		},
		{
			name: "all",
			pick: func(s *Selector) { s.All() },
			want: []string{"base/db", "base/web", "node-1", "node-2", "solo"},
		},
		{
			name: "exact name",
			pick: func(s *Selector) { s.Name("solo") },
			want: []string{"solo"},
		},
		{
			name: "directory prefix",
			pick: func(s *Selector) { s.Name("base") },
			want: []string{"base/db", "base/web"},
		},
		{
			name: "folded name",
			pick: func(s *Selector) { s.Name("node-{1..2}") },
			want: []string{"node-1", "node-2"},
		},
		{
			name: "names ignore all",
			pick: func(s *Selector) { s.All().Names("node-2", "solo") },
			want: []string{"node-2", "solo"},
		},
		{
			name: "unknown name",
			pick: func(s *Selector) { s.Name("nope") },
			want: []string{},
		},
		{
			name: "tag alone selects from everything",
			pick: func(s *Selector) { s.Tags("lab") },
			want: []string{"base/db", "base/web", "node-1", "node-2"},
		},
		{
			name: "tags are combined with and",
			pick: func(s *Selector) { s.Tags("lab", "web") },
			want: []string{"base/web"},
		},
		{
			name: "parent filter",
			pick: func(s *Selector) { s.Parents("base") },
			want: []string{"base/db", "base/web", "node-1", "node-2"},
		},
		{
			name: "names and tags",
			pick: func(s *Selector) { s.Names("solo", "node-1").Tags("lab") },
			want: []string{"node-1"},
		},
		{
			name: "parents and tags",
			pick: func(s *Selector) { s.Parents("base").Tags("node") },
			want: []string{"node-1", "node-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newLab(t))
			tt.pick(s)
			got := resolveNames(t, s)
			assert.ElementsMatch(t, tt.want, got)
			assert.IsNonDecreasing(t, got)
		})
	}
}

func TestResolveRenderedTags(t *testing.T) {
	env := newLab(t)
	writeSpec(t, env.Config.VMsDir, "edge-{1..2}", "tags = [\"{{.name}}-role\"]\n")

	assert.Equal(t, []string{"edge-2"}, resolveNames(t, New(env).Tags("edge-2-role")))
	assert.Empty(t, resolveNames(t, New(env).Tags("{{.name}}-role")))
}

func TestResolveCascade(t *testing.T) {
	env := newLab(t)
	vms, err := New(env).Name("base").Resolve()
	require.NoError(t, err)
	require.Len(t, vms, 2)

	db, web := vms[0], vms[1]

	assert.Equal(t, "4G", db.Spec.Memory)
	assert.Equal(t, "1G", web.Spec.Memory)
	assert.Equal(t, []string{"lab", "web"}, web.Spec.Tags)
	assert.Equal(t, "base-web.lab", web.Spec.Hostname)
	assert.Equal(t, []string{"base"}, web.Ancestors)
	assert.Equal(t, filepath.Join(env.Config.VMsDir, "base", "web"), web.Dir)
	assert.False(t, web.Spec.Abstract)
}

func TestResolveFanOut(t *testing.T) {
	env := newLab(t)
	vms, err := New(env).Name("node-2").Resolve()
	require.NoError(t, err)
	require.Len(t, vms, 1)

	node := vms[0]
	assert.Equal(t, "node-2", node.Name)
	assert.Equal(t, "node-{1..2}", node.FoldedName)
	assert.Equal(t, "node-{1..2}", node.Declared)
	assert.Equal(t, filepath.Join(env.Config.VMsDir, "node-2"), node.Dir)
	assert.Equal(t, []string{"lab", "node"}, node.Spec.Tags)
	assert.Equal(t, "node-{1..2}", node.Context["fname"])
}

func TestResolveDefaultConfig(t *testing.T) {
	env := newLab(t)
	env.Config.Default = map[string]any{
		"nproc":  2,
		"memory": "512M",
		"tags":   []any{"managed"},
	}

	vms, err := New(env).Names("solo", "base/db").Resolve()
	require.NoError(t, err)
	require.Len(t, vms, 2)

	db, solo := vms[0], vms[1]
	require.NotNil(t, solo.Spec.Nproc)
	assert.Equal(t, 2, *solo.Spec.Nproc)
	assert.Equal(t, "512M", solo.Spec.Memory)
	assert.Equal(t, "4G", db.Spec.Memory)
	assert.Equal(t, []string{"managed", "lab", "db"}, db.Spec.Tags)

	t.Run("minimal config skips defaults", func(t *testing.T) {
		vms, err := New(env).Name("solo").MinimalVMConfig().Resolve()
		require.NoError(t, err)
		require.Len(t, vms, 1)
		assert.Nil(t, vms[0].Spec.Nproc)
		assert.Empty(t, vms[0].Spec.Memory)
	})

	t.Run("invalid defaults fail", func(t *testing.T) {
		env.Config.Default = map[string]any{"bogus": true}
		_, err := New(env).Name("solo").Resolve()
		assert.ErrorIs(t, err, vmspec.ErrSpecParse)
	})
}

func TestResolveVMConfigOverride(t *testing.T) {
	env := newLab(t)
	s := New(env).All()
	require.NoError(t, s.VMConfig("memory = \"8G\"\ntags = [\"oneshot\"]\n"))

	vms, err := s.Resolve()
	require.NoError(t, err)
	require.NotEmpty(t, vms)
	for _, v := range vms {
		assert.Equal(t, "8G", v.Spec.Memory, v.Name)
		assert.Contains(t, v.Spec.Tags, "oneshot", v.Name)
	}

	assert.ErrorIs(t, New(env).VMConfig("memory = ["), vmspec.ErrSpecParse)
}

func TestResolveFailures(t *testing.T) {
	t.Run("render failure aborts everything", func(t *testing.T) {
		env := newLab(t)
		writeSpec(t, env.Config.VMsDir, "broken", "hostname = \"{{.missing}}\"\n")

		vms, err := New(env).All().Resolve()
		assert.Nil(t, vms)
		var renderErr *vmspec.RenderError
		require.ErrorAs(t, err, &renderErr)
		assert.Equal(t, "hostname", renderErr.Field)
		assert.ErrorIs(t, err, template.ErrTemplate)
	})

	t.Run("cyclic parents", func(t *testing.T) {
		env := newLab(t)
		writeSpec(t, env.Config.VMsDir, "a", "parent = \"b\"\n")
		writeSpec(t, env.Config.VMsDir, "b", "parent = \"a\"\n")

		_, err := New(env).Name("a").Resolve()
		var cycleErr *vmspec.CyclicParentError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Chain)
	})

	t.Run("unknown parent", func(t *testing.T) {
		env := newLab(t)
		writeSpec(t, env.Config.VMsDir, "orphan", "parent = \"ghost\"\n")

		_, err := New(env).Name("orphan").Resolve()
		var parentErr *vmspec.UnknownParentError
		require.ErrorAs(t, err, &parentErr)
		assert.Equal(t, "ghost", parentErr.Parent)
	})

	t.Run("error on empty", func(t *testing.T) {
		_, err := New(newLab(t)).Name("nope").ErrorOnEmpty().Resolve()
		assert.ErrorIs(t, err, ErrNoMatchingVM)
	})

	t.Run("empty without error on empty", func(t *testing.T) {
		vms, err := New(newLab(t)).Name("nope").Resolve()
		assert.NoError(t, err)
		assert.Empty(t, vms)
	})
}

func TestResolveRunningState(t *testing.T) {
	running := func() *fakeFinder {
		return &fakeFinder{running: map[string]int{"node-1": 101, "solo": 102}}
	}
	selectAll := func(t *testing.T, finder *fakeFinder, state RunningState) *Selector {
		return New(newLab(t)).Names("node-1", "node-2", "solo").WithLiveness(finder).WithPID(state)
	}

	t.Run("without never probes", func(t *testing.T) {
		finder := running()
		vms, err := selectAll(t, finder, Without).Resolve()
		require.NoError(t, err)
		assert.Equal(t, []string{"node-1", "node-2", "solo"}, vmNames(vms))
		assert.Empty(t, finder.probed)
		for _, v := range vms {
			assert.False(t, v.HasPID())
		}
	})

	t.Run("filter keeps running vms", func(t *testing.T) {
		vms, err := selectAll(t, running(), Filter).Resolve()
		require.NoError(t, err)
		assert.Equal(t, []string{"node-1", "solo"}, vmNames(vms))
		pid, ok := vms[0].PID()
		assert.True(t, ok)
		assert.Equal(t, 101, pid)
	})

	t.Run("error names the first vm not running", func(t *testing.T) {
		vms, err := selectAll(t, running(), Error).Resolve()
		assert.Nil(t, vms)
		var notRunning *NotRunningError
		require.ErrorAs(t, err, &notRunning)
		assert.Equal(t, "node-2", notRunning.Name)
	})

	t.Run("error passes when everything runs", func(t *testing.T) {
		vms, err := New(newLab(t)).Names("node-1", "solo").WithLiveness(running()).WithPID(Error).Resolve()
		require.NoError(t, err)
		assert.Len(t, vms, 2)
	})

	t.Run("option annotates only", func(t *testing.T) {
		finder := running()
		vms, err := selectAll(t, finder, Option).Resolve()
		require.NoError(t, err)
		require.Len(t, vms, 3)
		assert.True(t, vms[0].HasPID())
		assert.False(t, vms[1].HasPID())
		assert.True(t, vms[2].HasPID())
		assert.Len(t, finder.probed, 3)
	})

	t.Run("filter to empty with error on empty", func(t *testing.T) {
		_, err := New(newLab(t)).Name("node-2").WithLiveness(running()).WithPID(Filter).ErrorOnEmpty().Resolve()
		assert.ErrorIs(t, err, ErrNoMatchingVM)
	})
}

func TestRunStoreIsDefaultFinder(t *testing.T) {
	env := newLab(t)
	require.NoError(t, env.Runs.Save(&runstate.Record{Name: "solo", PID: os.Getpid()}))

	vms, err := New(env).All().WithPID(Filter).Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, vmNames(vms))
}

func TestRunningStateString(t *testing.T) {
	assert.Equal(t, "without", Without.String())
	assert.Equal(t, "filter", Filter.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "option", Option.String())
	assert.Equal(t, "RunningState(9)", RunningState(9).String())
}

func TestIsAll(t *testing.T) {
	s := New(newLab(t))
	assert.False(t, s.IsAll())
	assert.True(t, s.All().IsAll())
}
