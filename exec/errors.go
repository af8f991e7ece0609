package exec

import (
	"errors"
	"fmt"
)

// ErrNilOperator is returned by ForEach when no operator is supplied.
var ErrNilOperator = errors.New("exec: nil operator")

// ErrNilRange is returned by ForEach when no range is supplied.
var ErrNilRange = errors.New("exec: nil range")

// OperatorError wraps a non-conflict error returned by the operator. The
// first failure shuts the loop down break-style; it is returned from ForEach
// after all workers have exited and counters have been reported.
type OperatorError struct {
	Tid int
	Err error
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator failed on thread %d: %v", e.Tid, e.Err)
}

// Unwrap enables error unwrapping for errors.Is and errors.As.
func (e *OperatorError) Unwrap() error {
	return e.Err
}
