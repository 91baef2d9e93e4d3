package mount

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/samber/lo"
)

var ErrBlockedShare = errors.New("share blocked")

// Validator rejects shares exporting protected host paths
type Validator struct {
	blockedPaths []string // resolved absolute paths
}

// NewValidator creates a Validator for the given blocked paths.
// Each path is expanded, made absolute and resolved through symlinks so that
// comparisons happen on real paths.
func NewValidator(blockedPaths []string) (*Validator, error) {
	blocked := make([]string, 0, len(blockedPaths))

	for _, path := range lo.Compact(blockedPaths) {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand blocked path '%s': %w", path, err)
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to convert blocked path '%s' to absolute: %w", path, err)
		}
		blocked = append(blocked, realPath(abs))
	}

	return &Validator{blockedPaths: lo.Uniq(blocked)}, nil
}

// Validate returns ErrBlockedShare when the share source is, or lives under,
// a blocked path.
func (v *Validator) Validate(s Share) error {
	source := s.Source
	if expanded, err := homedir.Expand(source); err == nil {
		source = expanded
	}
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}

	resolved := realPath(source)
	for _, blocked := range v.blockedPaths {
		if !isUnderOrEqual(resolved, blocked) {
			continue
		}
		if resolved != source {
			return fmt.Errorf("%w: %s resolves to protected path %s", ErrBlockedShare, s.Source, blocked)
		}
		return fmt.Errorf("%w: %s is a protected path", ErrBlockedShare, blocked)
	}

	return nil
}

// ValidateAll validates every share, stopping at the first blocked one.
func (v *Validator) ValidateAll(shares []Share) error {
	for _, s := range shares {
		if err := v.Validate(s); err != nil {
			return err
		}
	}
	return nil
}

// realPath resolves symlinks, falling back to the cleaned path for paths
// that do not exist (yet).
func realPath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return resolved
}

// isUnderOrEqual returns true if testPath is under or equal to basePath.
//   - "/home/user/.ssh/id_rsa" is under "/home/user/.ssh"
//   - "/home/user/.sshrc" is NOT under "/home/user/.ssh"
func isUnderOrEqual(testPath, basePath string) bool {
	if testPath == basePath {
		return true
	}
	baseWithSep := basePath
	if !strings.HasSuffix(baseWithSep, string(filepath.Separator)) {
		baseWithSep += string(filepath.Separator)
	}
	return strings.HasPrefix(testPath, baseWithSep)
}
