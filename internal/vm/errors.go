package vm

import (
	"errors"
	"fmt"
)

var (
	ErrVMExists    = errors.New("vm already exists")
	ErrNoDisk      = errors.New("vm has no disk")
	ErrNoImage     = errors.New("no image given")
	ErrNotRunning  = errors.New("vm is not running")
	ErrImageExists = errors.New("image already exists")
	ErrMonitor     = errors.New("monitor command failed")
)

// SSHFailedError reports an ssh session or probe that did not succeed.
type SSHFailedError struct {
	Name     string
	ExitCode int
	Err      error
}

func (e *SSHFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ssh to %s failed: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("ssh to %s failed with exit code %d", e.Name, e.ExitCode)
}

func (e *SSHFailedError) Unwrap() error {
	return e.Err
}
