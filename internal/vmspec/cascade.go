package vmspec

import (
	"fmt"
	"path"

	"github.com/samber/lo"
)

// Over returns s layered on top of base: scalars set in s win, unset ones
// are inherited, list fields are concatenated base first without
// duplicates. Abstract and Parent are never inherited.
func (s Spec) Over(base Spec) Spec {
	out := base
	out.Parent = s.Parent
	out.Abstract = s.Abstract

	out.Tags = concat(base.Tags, s.Tags)
	out.Arch = lo.CoalesceOrEmpty(s.Arch, base.Arch)
	out.Memory = lo.CoalesceOrEmpty(s.Memory, base.Memory)
	out.Nproc = coalescePtr(s.Nproc, base.Nproc)
	out.Image = lo.CoalesceOrEmpty(s.Image, base.Image)
	out.DiskSize = lo.CoalesceOrEmpty(s.DiskSize, base.DiskSize)
	out.Disks = concat(base.Disks, s.Disks)
	out.Display = lo.CoalesceOrEmpty(s.Display, base.Display)
	out.CloudInit = coalescePtr(s.CloudInit, base.CloudInit)
	out.Hostname = lo.CoalesceOrEmpty(s.Hostname, base.Hostname)
	out.Shares = concat(base.Shares, s.Shares)
	out.QEMUArgs = concat(base.QEMUArgs, s.QEMUArgs)

	out.Net.Type = lo.CoalesceOrEmpty(s.Net.Type, base.Net.Type)
	out.Net.Address = lo.CoalesceOrEmpty(s.Net.Address, base.Net.Address)
	out.Net.Gateway = lo.CoalesceOrEmpty(s.Net.Gateway, base.Net.Gateway)
	if len(s.Net.Nameservers) > 0 {
		out.Net.Nameservers = s.Net.Nameservers
	}
	out.Net.Tap = lo.CoalesceOrEmpty(s.Net.Tap, base.Net.Tap)
	out.Net.MAC = lo.CoalesceOrEmpty(s.Net.MAC, base.Net.MAC)

	out.SSH.User = lo.CoalesceOrEmpty(s.SSH.User, base.SSH.User)
	out.SSH.Host = lo.CoalesceOrEmpty(s.SSH.Host, base.SSH.Host)
	out.SSH.Port = coalescePtr(s.SSH.Port, base.SSH.Port)
	out.SSH.Key = lo.CoalesceOrEmpty(s.SSH.Key, base.SSH.Key)
	out.SSH.Options = concat(base.SSH.Options, s.SSH.Options)
	out.SSH.AuthorizedKeys = concat(base.SSH.AuthorizedKeys, s.SSH.AuthorizedKeys)

	return out
}

func concat(base, child []string) []string {
	if len(base) == 0 && len(child) == 0 {
		return nil
	}
	return lo.Uniq(append(append([]string{}, base...), child...))
}

func coalescePtr[T any](child, base *T) *T {
	if child != nil {
		return child
	}
	return base
}

// ParentOf returns the parent name of the spec declared as name: its explicit
// parent, or else the nearest enclosing directory that declares a spec.
func ParentOf(lookup map[string]*Spec, name string) (string, bool) {
	s, ok := lookup[name]
	if !ok {
		return "", false
	}
	if s.Parent != "" {
		return s.Parent, true
	}
	for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, ok := lookup[dir]; ok {
			return dir, true
		}
	}
	return "", false
}

// Ancestors walks the parent chain of name, nearest first. The walk keeps a
// visited set and fails on the first repeated name.
func Ancestors(lookup map[string]*Spec, name string) ([]string, error) {
	visited := map[string]bool{name: true}
	chain := []string{name}
	var ancestors []string

	for current := name; ; {
		parent, ok := ParentOf(lookup, current)
		if !ok {
			return ancestors, nil
		}
		if _, declared := lookup[parent]; !declared {
			return nil, &UnknownParentError{Name: current, Parent: parent}
		}
		chain = append(chain, parent)
		if visited[parent] {
			return nil, &CyclicParentError{Chain: chain}
		}
		visited[parent] = true
		ancestors = append(ancestors, parent)
		current = parent
	}
}

// Cascade resolves the effective spec of the declared spec name by applying
// every ancestor from the root down. It returns the merged spec and the
// ancestor chain, nearest first.
func Cascade(lookup map[string]*Spec, name string) (Spec, []string, error) {
	s, ok := lookup[name]
	if !ok {
		return Spec{}, nil, fmt.Errorf("%w: %s", ErrUnknownSpec, name)
	}

	ancestors, err := Ancestors(lookup, name)
	if err != nil {
		return Spec{}, nil, err
	}

	var merged Spec
	for i := len(ancestors) - 1; i >= 0; i-- {
		merged = lookup[ancestors[i]].Over(merged)
	}
	merged = s.Over(merged)

	return merged, ancestors, nil
}
