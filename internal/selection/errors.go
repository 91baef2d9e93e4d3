package selection

import (
	"errors"
	"fmt"
)

var ErrNoMatchingVM = errors.New("no matching vm")

// NotRunningError names the first selected VM without a live process.
type NotRunningError struct {
	Name string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("vm %s is not running", e.Name)
}
