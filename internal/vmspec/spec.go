// Package vmspec reads vm.toml files and resolves their parent cascade.
package vmspec

import (
	"bytes"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the spec file looked up in every VM directory.
const FileName = "vm.toml"

// Spec is a declarative VM description. Pointer and empty values mean
// "unset" and are inherited from the parent.
type Spec struct {
	Parent   string `toml:"parent,omitempty"`
	Abstract bool   `toml:"abstract,omitempty"`

	Tags      []string `toml:"tags,omitempty"`
	Arch      string   `toml:"arch,omitempty"`
	Memory    string   `toml:"memory,omitempty"`
	Nproc     *int     `toml:"nproc,omitempty"`
	Image     string   `toml:"image,omitempty"`
	DiskSize  string   `toml:"disk-size,omitempty"`
	Disks     []string `toml:"disks,omitempty"`
	Display   string   `toml:"display,omitempty"`
	CloudInit *bool    `toml:"cloud-init,omitempty"`
	Hostname  string   `toml:"hostname,omitempty"`
	Shares    []string `toml:"shares,omitempty"`
	QEMUArgs  []string `toml:"qemu-args,omitempty"`

	Net Net `toml:"net,omitempty"`
	SSH SSH `toml:"ssh,omitempty"`
}

// Net describes the guest network interface.
type Net struct {
	// Type is user (slirp), tap or none.
	Type        string   `toml:"type,omitempty"`
	Address     string   `toml:"address,omitempty"`
	Gateway     string   `toml:"gateway,omitempty"`
	Nameservers []string `toml:"nameservers,omitempty"`
	Tap         string   `toml:"tap,omitempty"`
	MAC         string   `toml:"mac,omitempty"`
}

// SSH describes how to reach the guest.
type SSH struct {
	User           string   `toml:"user,omitempty"`
	Host           string   `toml:"host,omitempty"`
	Port           *int     `toml:"port,omitempty"`
	Key            string   `toml:"key,omitempty"`
	Options        []string `toml:"options,omitempty"`
	AuthorizedKeys []string `toml:"authorized-keys,omitempty"`
}

// Network types.
const (
	NetUser = "user"
	NetTap  = "tap"
	NetNone = "none"
)

// Parse decodes a vm.toml document. Unknown keys are rejected.
func Parse(data []byte) (*Spec, error) {
	var s Spec
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpecParse, err)
	}
	return &s, nil
}

// Load reads and parses the spec at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpecRead, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// FromMap converts a decoded TOML table (such as the [default] table of the
// configuration) into a spec.
func FromMap(m map[string]any) (*Spec, error) {
	if len(m) == 0 {
		return &Spec{}, nil
	}
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpecParse, err)
	}
	return Parse(data)
}

// Save writes the spec to path.
func Save(path string, s *Spec) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpecWrite, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %w", ErrSpecWrite, err)
	}
	return nil
}

// Validate checks the fields that have a fixed syntax.
func (s *Spec) Validate() error {
	if s.Memory != "" {
		if _, err := parseSize(s.Memory); err != nil {
			return fmt.Errorf("%w: memory: %w", ErrSpecParse, err)
		}
	}
	if s.DiskSize != "" {
		if _, err := parseSize(s.DiskSize); err != nil {
			return fmt.Errorf("%w: disk-size: %w", ErrSpecParse, err)
		}
	}
	if s.Nproc != nil && *s.Nproc < 1 {
		return fmt.Errorf("%w: nproc must be at least 1", ErrSpecParse)
	}
	switch s.Net.Type {
	case "", NetUser, NetTap, NetNone:
	default:
		return fmt.Errorf("%w: net.type must be user, tap or none, got %q", ErrSpecParse, s.Net.Type)
	}
	return nil
}

// MemoryMiB returns the memory size in MiB, 0 when unset.
func (s *Spec) MemoryMiB() (uint64, error) {
	if s.Memory == "" {
		return 0, nil
	}
	size, err := parseSize(s.Memory)
	if err != nil {
		return 0, err
	}
	return size.Bytes() / datasize.MB.Bytes(), nil
}

// DiskSizeBytes returns the requested disk size, 0 when unset.
func (s *Spec) DiskSizeBytes() (uint64, error) {
	if s.DiskSize == "" {
		return 0, nil
	}
	size, err := parseSize(s.DiskSize)
	if err != nil {
		return 0, err
	}
	return size.Bytes(), nil
}

func parseSize(v string) (datasize.ByteSize, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return size, nil
}
