package loyalty

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleAccount marks a result that arrived after the active account changed.
	// It is internal and never shown to the user.
	ErrStaleAccount = errors.New("loyalty: result belongs to a previous account")
	// ErrBusy is returned when a write is already in flight for the account.
	ErrBusy = errors.New("loyalty: a trade is already in flight for this account")
	// ErrNoAccount is returned when an operation needs a connected account.
	ErrNoAccount = errors.New("loyalty: no account connected")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("loyalty: session closed")
)

// ValidationError reports malformed user input. It is raised before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ReadError wraps a failed or timed out contract read.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failed or rejected transaction.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write simulateTrade: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
