package vmspec

import (
	"fmt"
	"strconv"
	"strings"
)

// Instance is one concrete VM produced by a declared spec.
type Instance struct {
	// Name is the concrete VM name.
	Name string
	// Folded is the unexpanded name pattern, equal to Name for plain names.
	Folded string
}

// IsPattern reports whether name contains a fan-out group.
func IsPattern(name string) bool {
	open := strings.IndexByte(name, '{')
	return open >= 0 && strings.IndexByte(name[open:], '}') > 0
}

// Expand fans a name pattern out into concrete instances, in declaration
// order. Groups are either ranges ({1..3}, {01..10}, {c..a}) or lists
// ({a,b}); several groups yield the cartesian product. Plain names expand
// to themselves.
func Expand(pattern string) ([]Instance, error) {
	names := []string{""}

	for rest := pattern; rest != ""; {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("%w: %q: unbalanced '}'", ErrInvalidPattern, pattern)
			}
			names = suffix(names, []string{rest})
			break
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return nil, fmt.Errorf("%w: %q: unbalanced '}'", ErrInvalidPattern, pattern)
		}

		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: %q: unbalanced '{'", ErrInvalidPattern, pattern)
		}
		end += open

		alternatives, err := group(rest[open+1 : end])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, pattern, err)
		}

		names = suffix(names, []string{rest[:open]})
		names = suffix(names, alternatives)
		rest = rest[end+1:]
	}

	instances := make([]Instance, 0, len(names))
	for _, n := range names {
		instances = append(instances, Instance{Name: n, Folded: pattern})
	}
	return instances, nil
}

func suffix(prefixes, alternatives []string) []string {
	out := make([]string, 0, len(prefixes)*len(alternatives))
	for _, p := range prefixes {
		for _, a := range alternatives {
			out = append(out, p+a)
		}
	}
	return out
}

// group expands the body of one {...} group.
func group(body string) ([]string, error) {
	if strings.ContainsRune(body, '{') {
		return nil, fmt.Errorf("nested group {%s}", body)
	}
	if from, to, ok := strings.Cut(body, ".."); ok {
		return expandRange(from, to)
	}

	items := strings.Split(body, ",")
	if len(items) < 2 {
		return nil, fmt.Errorf("group {%s} needs a range or at least two items", body)
	}
	return items, nil
}

func expandRange(from, to string) ([]string, error) {
	low, errLo := strconv.Atoi(from)
	high, errHi := strconv.Atoi(to)
	if errLo == nil && errHi == nil {
		width := 0
		if padded(from) || padded(to) {
			width = max(len(from), len(to))
		}
		var out []string
		for _, n := range steps(low, high) {
			out = append(out, fmt.Sprintf("%0*d", width, n))
		}
		return out, nil
	}

	if len(from) == 1 && len(to) == 1 && isLetter(from[0]) && isLetter(to[0]) {
		var out []string
		for _, c := range steps(int(from[0]), int(to[0])) {
			out = append(out, string(rune(c)))
		}
		return out, nil
	}

	return nil, fmt.Errorf("invalid range {%s..%s}", from, to)
}

func steps(from, to int) []int {
	var out []int
	if from <= to {
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	}
	for i := from; i >= to; i-- {
		out = append(out, i)
	}
	return out
}

func padded(s string) bool {
	return len(s) > 1 && s[0] == '0'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
