package selection

import "fmt"

// RunningState decides how the liveness of resolved VMs shapes the result.
type RunningState int

const (
	// Without never probes liveness.
	Without RunningState = iota
	// Filter drops VMs that are not running.
	Filter
	// Error fails the resolution when a VM is not running.
	Error
	// Option probes and annotates without filtering.
	Option
)

func (s RunningState) String() string {
	switch s {
	case Without:
		return "without"
	case Filter:
		return "filter"
	case Error:
		return "error"
	case Option:
		return "option"
	default:
		return fmt.Sprintf("RunningState(%d)", int(s))
	}
}
