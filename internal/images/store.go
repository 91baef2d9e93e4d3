package images

import (
	"fmt"
	"os"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// List returns the sorted, de-duplicated image file names found in dirs.
// Directories that do not exist are skipped, as are hidden (in-flight) files.
func List(dirs []string) ([]string, error) {
	seen := map[string]bool{}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: list %s: %w", ErrFileSystem, dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			seen[entry.Name()] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Path returns the path of image name inside dir.
func Path(dir, name string) (string, error) {
	p, err := securejoin.SecureJoin(dir, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrImageNotFound, name, err)
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrImageNotFound, name)
	}
	return p, nil
}

// Find returns the path of image name in the first of dirs that holds it.
func Find(dirs []string, name string) (string, error) {
	for _, dir := range dirs {
		if p, err := Path(dir, name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrImageNotFound, name)
}

// Remove deletes image name from dir.
func Remove(dir, name string) error {
	p, err := securejoin.SecureJoin(dir, name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFileSystem, name, err)
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrFileSystem, p, err)
	}
	return nil
}
