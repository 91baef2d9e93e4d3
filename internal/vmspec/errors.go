package vmspec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSpecRead       = errors.New("failed to read vm spec")
	ErrSpecParse      = errors.New("failed to parse vm spec")
	ErrSpecWrite      = errors.New("failed to write vm spec")
	ErrInvalidPattern = errors.New("invalid name pattern")
	ErrUnknownSpec    = errors.New("unknown vm spec")
)

// CyclicParentError reports a parent chain that loops back on itself.
type CyclicParentError struct {
	Chain []string
}

func (e *CyclicParentError) Error() string {
	return fmt.Sprintf("cyclic parent chain: %s", strings.Join(e.Chain, " -> "))
}

// UnknownParentError reports a parent reference to an undeclared spec.
type UnknownParentError struct {
	Name   string
	Parent string
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("vm %s: unknown parent %q", e.Name, e.Parent)
}

// RenderError reports a template failure in one field of a spec.
type RenderError struct {
	Field string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Field, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
