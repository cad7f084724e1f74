package orders

import "errors"

var (
	// ErrInvalidOrder: malformed checkout input (empty cart, non-positive
	// total). Not retryable.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidState: the requested transition violates the installment
	// state machine. Retrying without a state change fails identically.
	ErrInvalidState = errors.New("invalid installment state")

	// ErrConflict: a concurrent update won the compare-and-swap. The caller
	// should re-fetch and may retry once.
	ErrConflict = errors.New("conflicting concurrent update")

	ErrNotFound = errors.New("not found")
)
