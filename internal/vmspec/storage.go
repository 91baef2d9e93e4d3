package vmspec

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Declared is a vm.toml found in the VM storage tree.
type Declared struct {
	// Name is the spec directory relative to the storage root, slash separated.
	Name string
	Dir  string
	Spec *Spec
}

// Concrete is an instance together with the declared spec it comes from.
type Concrete struct {
	Instance
	// Declared is the name of the declared spec the instance resolves from.
	Declared string
}

// Storage is the directory tree holding VM specs and disks.
type Storage struct {
	Root string
}

// NewStorage returns the storage rooted at root.
func NewStorage(root string) *Storage {
	return &Storage{Root: root}
}

// Dir returns the directory of the VM called name.
func (s *Storage) Dir(name string) (string, error) {
	p, err := securejoin.SecureJoin(s.Root, name)
	if err != nil {
		return "", fmt.Errorf("vm directory for %s: %w", name, err)
	}
	return p, nil
}

// Declared walks the storage tree and loads every vm.toml, sorted by name.
// Hidden directories are skipped. A missing root declares nothing. A spec
// directory whose name is not a valid pattern fails with its path.
func (s *Storage) Declared() ([]Declared, error) {
	var declared []Declared

	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.Root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != s.Root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != FileName || filepath.Dir(path) == s.Root {
			return nil
		}

		dir := filepath.Dir(path)
		rel, err := filepath.Rel(s.Root, dir)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if _, err := Expand(name); err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		spec, err := Load(path)
		if err != nil {
			return err
		}
		declared = append(declared, Declared{Name: name, Dir: dir, Spec: spec})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(declared, func(i, j int) bool { return declared[i].Name < declared[j].Name })
	return declared, nil
}

// Lookup returns the declared specs keyed by name.
func Lookup(declared []Declared) map[string]*Spec {
	lookup := make(map[string]*Spec, len(declared))
	for _, d := range declared {
		lookup[d.Name] = d.Spec
	}
	return lookup
}

// Instances expands the non-abstract declared specs into concrete VMs,
// sorted by name. A plainly declared name wins over a fan-out instance of
// the same name.
func Instances(declared []Declared) ([]Concrete, error) {
	byName := map[string]Concrete{}

	for _, d := range declared {
		if d.Spec.Abstract {
			continue
		}
		expanded, err := Expand(d.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		for _, inst := range expanded {
			existing, taken := byName[inst.Name]
			if taken && !IsPattern(existing.Declared) {
				continue
			}
			if taken && IsPattern(d.Name) {
				// two fan-outs produce the same name: first in name order wins
				continue
			}
			byName[inst.Name] = Concrete{Instance: inst, Declared: d.Name}
		}
	}

	out := make([]Concrete, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
