// Package runstate persists what vml knows about running VMs: one JSON record
// per VM next to its QMP socket and qemu pidfile.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"
)

var ErrRecordNotFound = errors.New("run record not found")

const (
	recordExt  = ".json"
	monitorExt = ".qmp"
	pidExt     = ".pid"
)

// Store manages run records under the configured run directory
type Store struct {
	dir string
}

// NewStore creates a run-state store rooted at dir, creating it if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path returns <dir>/<name><ext>. VM names may contain slashes; they map
// to subdirectories and cannot escape dir.
func (s *Store) path(name, ext string) string {
	p, err := securejoin.SecureJoin(s.dir, name+ext)
	if err != nil {
		return filepath.Join(s.dir, filepath.Base(name)+ext)
	}
	return p
}

// MonitorSocket returns the QMP socket path for VM name
func (s *Store) MonitorSocket(name string) string {
	return s.path(name, monitorExt)
}

// PIDFile returns the qemu pidfile path for VM name
func (s *Store) PIDFile(name string) string {
	return s.path(name, pidExt)
}

// Prepare creates the directory holding the run files of VM name
func (s *Store) Prepare(name string) error {
	if err := os.MkdirAll(filepath.Dir(s.path(name, recordExt)), 0755); err != nil {
		return fmt.Errorf("failed to create run directory for %s: %w", name, err)
	}
	return nil
}

// Save persists a run record to disk
func (s *Store) Save(rec *Record) error {
	if err := s.Prepare(rec.Name); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	if err := os.WriteFile(s.path(rec.Name, recordExt), data, 0644); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}

	return nil
}

// Load reads the run record of VM name
func (s *Store) Load(name string) (*Record, error) {
	data, err := os.ReadFile(s.path(name, recordExt))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
		}
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}

	return &rec, nil
}

// List returns every readable run record, alive or not
func (s *Store) List() ([]*Record, error) {
	var records []*Record

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != recordExt {
			return nil
		}

		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return nil
		}
		rec, err := s.Load(strings.TrimSuffix(filepath.ToSlash(rel), recordExt))
		if err != nil {
			return nil // Skip invalid records
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	return records, nil
}

// Delete removes the run files of VM name
func (s *Store) Delete(name string) error {
	for _, ext := range []string{recordExt, monitorExt, pidExt} {
		if err := os.Remove(s.path(name, ext)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete run file: %w", err)
		}
	}
	return nil
}

// Dir returns the run directory
func (s *Store) Dir() string {
	return s.dir
}

// ReadPIDFile returns the pid qemu wrote for VM name
func (s *Store) ReadPIDFile(name string) (int, error) {
	data, err := os.ReadFile(s.PIDFile(name))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pidfile %s: %w", s.PIDFile(name), err)
	}
	return pid, nil
}

// FindPID returns the pid of VM name when its process is alive. The run
// record is consulted first, then the qemu pidfile.
func (s *Store) FindPID(name string) (int, bool) {
	if rec, err := s.Load(name); err == nil && Alive(rec.PID) {
		return rec.PID, true
	}
	if pid, err := s.ReadPIDFile(name); err == nil && Alive(pid) {
		return pid, true
	}
	return 0, false
}

// Prune deletes the run files of VMs whose process is gone and returns their names
func (s *Store) Prune() ([]string, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, rec := range records {
		if _, alive := s.FindPID(rec.Name); alive {
			continue
		}
		if err := s.Delete(rec.Name); err != nil {
			return pruned, err
		}
		pruned = append(pruned, rec.Name)
	}
	return pruned, nil
}

// Alive reports whether a process with pid exists. EPERM means it exists
// but belongs to another user.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
