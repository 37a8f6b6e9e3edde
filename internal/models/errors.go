package models

import "fmt"

// InvariantError flags a violation of one of the spec's quantified invariants
// (§8). Per the error-handling design, an invariant violation is logged at
// ERROR and healed at the next reconcile — it is never a panic.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string { return e.msg }

func newInvariantError(format string, args ...any) error {
	return &InvariantError{msg: fmt.Sprintf(format, args...)}
}
