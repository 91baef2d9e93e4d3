// Package selection turns selection criteria into the sorted set of
// resolved VMs a command operates on.
package selection

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/vmlab/vml/internal/logger"
	"github.com/vmlab/vml/internal/vm"
	"github.com/vmlab/vml/internal/vmspec"
)

// ProcessFinder discovers the live process of a VM.
type ProcessFinder interface {
	FindPID(name string) (int, bool)
}

// Selector accumulates the criteria of one invocation.
type Selector struct {
	env     *vm.Env
	storage *vmspec.Storage
	finder  ProcessFinder
	log     *slog.Logger

	names        []string
	parents      []string
	tags         []string
	all          bool
	override     *vmspec.Spec
	minimal      bool
	running      RunningState
	errorOnEmpty bool
}

// New returns a selector over the VMs stored under env's vms-dir. Liveness
// is read from env's run state unless WithLiveness replaces it.
func New(env *vm.Env) *Selector {
	return &Selector{
		env:     env,
		storage: vmspec.NewStorage(env.Config.VMsDir),
		finder:  env.Runs,
		log:     logger.OrDefault(env.Logger),
	}
}

// Name adds a single VM name. Folded names and directory prefixes match too.
func (s *Selector) Name(name string) *Selector {
	s.names = append(s.names, name)
	return s
}

// Names adds several VM names.
func (s *Selector) Names(names ...string) *Selector {
	s.names = append(s.names, names...)
	return s
}

// Parents keeps VMs having any of parents among their ancestors.
func (s *Selector) Parents(parents ...string) *Selector {
	s.parents = append(s.parents, parents...)
	return s
}

// Tags keeps VMs carrying every tag.
func (s *Selector) Tags(tags ...string) *Selector {
	s.tags = append(s.tags, tags...)
	return s
}

// All selects every VM when no names are given.
func (s *Selector) All() *Selector {
	s.all = true
	return s
}

// IsAll reports whether All was requested.
func (s *Selector) IsAll() bool {
	return s.all
}

// VMConfig parses an ad hoc spec applied on top of every resolved VM.
func (s *Selector) VMConfig(spec string) error {
	parsed, err := vmspec.Parse([]byte(spec))
	if err != nil {
		return err
	}
	s.override = parsed
	return nil
}

// MinimalVMConfig skips the [default] spec of the configuration.
func (s *Selector) MinimalVMConfig() *Selector {
	s.minimal = true
	return s
}

// WithPID sets the running state mode.
func (s *Selector) WithPID(state RunningState) *Selector {
	s.running = state
	return s
}

// ErrorOnEmpty makes an empty result an error.
func (s *Selector) ErrorOnEmpty() *Selector {
	s.errorOnEmpty = true
	return s
}

// WithLiveness replaces the process finder.
func (s *Selector) WithLiveness(finder ProcessFinder) *Selector {
	s.finder = finder
	return s
}

// Resolve returns the selected VMs sorted by name. Any resolution failure
// aborts the whole call.
func (s *Selector) Resolve() ([]*vm.VM, error) {
	declared, err := s.storage.Declared()
	if err != nil {
		return nil, err
	}
	instances, err := vmspec.Instances(declared)
	if err != nil {
		return nil, err
	}
	lookup := vmspec.Lookup(declared)

	root, err := s.root()
	if err != nil {
		return nil, err
	}

	var vms []*vm.VM
	for _, inst := range s.candidates(instances) {
		merged, ancestors, err := vmspec.Cascade(lookup, inst.Declared)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", inst.Name, err)
		}
		if !s.matchesParents(ancestors) {
			continue
		}

		spec := merged.Over(root)
		if s.override != nil {
			spec = s.override.Over(spec)
		}
		dir, err := s.storage.Dir(inst.Name)
		if err != nil {
			return nil, err
		}
		ctx := vm.NewContext(s.env.Config, inst.Name, inst.Folded, dir)
		rendered, err := spec.Render(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", inst.Name, err)
		}
		if !s.matchesTags(rendered.Tags) {
			continue
		}

		vms = append(vms, vm.New(s.env, inst.Name, inst.Folded, inst.Declared, dir, ancestors, rendered, ctx))
	}

	sort.Slice(vms, func(i, j int) bool { return vms[i].Name < vms[j].Name })

	vms, err = s.applyRunning(vms)
	if err != nil {
		return nil, err
	}

	if len(vms) == 0 && s.errorOnEmpty {
		return nil, ErrNoMatchingVM
	}
	s.log.Debug("resolved vms", "count", len(vms), "running", s.running)
	return vms, nil
}

// root returns the base of every cascade: the configured [default] spec.
func (s *Selector) root() (vmspec.Spec, error) {
	if s.minimal || len(s.env.Config.Default) == 0 {
		return vmspec.Spec{}, nil
	}
	spec, err := vmspec.FromMap(s.env.Config.Default)
	if err != nil {
		return vmspec.Spec{}, fmt.Errorf("[default]: %w", err)
	}
	spec.Parent = ""
	spec.Abstract = false
	return *spec, nil
}

// candidates applies the name criteria: names narrow the instances when
// given; otherwise every instance is a candidate when All or another filter
// is set, and none otherwise.
func (s *Selector) candidates(instances []vmspec.Concrete) []vmspec.Concrete {
	if len(s.names) > 0 {
		return lo.Filter(instances, func(c vmspec.Concrete, _ int) bool {
			return lo.SomeBy(s.names, func(name string) bool { return matchesName(c, name) })
		})
	}
	if s.all || len(s.parents) > 0 || len(s.tags) > 0 {
		return instances
	}
	return nil
}

func matchesName(c vmspec.Concrete, name string) bool {
	name = strings.TrimSuffix(name, "/")
	return c.Name == name || c.Folded == name || strings.HasPrefix(c.Name, name+"/")
}

func (s *Selector) matchesParents(ancestors []string) bool {
	return len(s.parents) == 0 || lo.Some(ancestors, s.parents)
}

func (s *Selector) matchesTags(tags []string) bool {
	return lo.Every(tags, s.tags)
}

// applyRunning attaches liveness and applies the running state mode.
func (s *Selector) applyRunning(vms []*vm.VM) ([]*vm.VM, error) {
	switch s.running {
	case Without:
		return vms, nil
	case Filter:
		s.probe(vms)
		return lo.Filter(vms, func(v *vm.VM, _ int) bool { return v.HasPID() }), nil
	case Error:
		s.probe(vms)
		for _, v := range vms {
			if !v.HasPID() {
				return nil, &NotRunningError{Name: v.Name}
			}
		}
		return vms, nil
	case Option:
		s.probe(vms)
		return vms, nil
	default:
		return nil, fmt.Errorf("unknown running state %s", s.running)
	}
}

func (s *Selector) probe(vms []*vm.VM) {
	for _, v := range vms {
		if pid, ok := s.finder.FindPID(v.Name); ok {
			v.SetPID(pid)
		}
	}
}
