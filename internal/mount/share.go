// Package mount turns share specifications from vm.toml into host to guest
// 9p shares and guards them against protected host paths.
package mount

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

var ErrInvalidShare = errors.New("invalid share")

// maxTagLen is the 9p mount_tag limit enforced by virtio-9p.
const maxTagLen = 31

// Share is a host directory exported to the guest
type Share struct {
	Source   string // Host path (expanded absolute path)
	Target   string // Guest mount point (defaults to Source)
	ReadOnly bool   // Default true
	Tag      string // 9p mount tag, unique per VM
}

// Parse parses a share specification.
//
// Formats:
//   - "~/src" -> source and target are the expanded path, read-only
//   - "~/src:rw" -> same, read-write
//   - "/srv/data:/data" -> explicit target, read-only
//   - "/srv/data:/data:rw" -> explicit target and mode
//
// The guest side is not expanded against the host home directory unless it
// starts with ~, in which case it mirrors the host path.
func Parse(spec string) (*Share, error) {
	if spec == "" {
		return nil, fmt.Errorf("%w: specification cannot be empty", ErrInvalidShare)
	}

	parts := strings.Split(spec, ":")
	if len(parts) > 3 {
		return nil, fmt.Errorf("%w: %q has too many colons", ErrInvalidShare, spec)
	}

	source, err := expandPath(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: source of %q: %w", ErrInvalidShare, spec, err)
	}
	share := &Share{Source: source, Target: source, ReadOnly: true}

	rest := parts[1:]
	if n := len(rest); n > 0 && (rest[n-1] == "ro" || rest[n-1] == "rw") {
		share.ReadOnly = rest[n-1] == "ro"
		rest = rest[:n-1]
	} else if n == 2 {
		return nil, fmt.Errorf("%w: invalid mode %q: must be ro or rw", ErrInvalidShare, rest[1])
	}

	if len(rest) == 1 {
		target, err := guestPath(rest[0])
		if err != nil {
			return nil, fmt.Errorf("%w: target of %q: %w", ErrInvalidShare, spec, err)
		}
		share.Target = target
	}

	return share, nil
}

// ParseAll parses specs and assigns each share a stable tag by position.
func ParseAll(specs []string) ([]Share, error) {
	shares := make([]Share, 0, len(specs))
	for i, spec := range specs {
		s, err := Parse(spec)
		if err != nil {
			return nil, err
		}
		s.Tag = fmt.Sprintf("vmlshare%d", i)
		shares = append(shares, *s)
	}
	return shares, nil
}

// QEMUArgs returns the -virtfs arguments exporting shares to the guest.
func QEMUArgs(shares []Share) []string {
	var args []string
	for i, s := range shares {
		tag := tagOf(s, i)
		opt := fmt.Sprintf("local,path=%s,mount_tag=%s,security_model=mapped-xattr,id=%s", s.Source, tag, tag)
		if s.ReadOnly {
			opt += ",readonly=on"
		}
		args = append(args, "-virtfs", opt)
	}
	return args
}

// MountScript generates a shell script mounting the 9p shares in the guest
func MountScript(shares []Share) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -e\n\n")

	for i, s := range shares {
		opts := "trans=virtio,version=9p2000.L,rw"
		if s.ReadOnly {
			opts = "trans=virtio,version=9p2000.L,ro"
		}
		fmt.Fprintf(&b, "mkdir -p '%s'\n", s.Target)
		fmt.Fprintf(&b, "mount -t 9p -o %s %s '%s'\n", opts, tagOf(s, i), s.Target)
	}

	return b.String()
}

func tagOf(s Share, i int) string {
	tag := s.Tag
	if tag == "" {
		tag = fmt.Sprintf("vmlshare%d", i)
	}
	if len(tag) > maxTagLen {
		tag = tag[:maxTagLen]
	}
	return tag
}

// expandPath expands ~ to home directory and returns a clean absolute path
func expandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %w", err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to convert to absolute path: %w", err)
	}

	return filepath.Clean(abs), nil
}

// guestPath validates a guest mount point. It must be absolute (or start
// with ~, which mirrors the host home directory).
func guestPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		return expandPath(path)
	}
	if path == "" {
		return "", errors.New("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("guest path %q must be absolute", path)
	}
	return filepath.Clean(path), nil
}
