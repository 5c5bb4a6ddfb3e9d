package timer

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning  = errors.New("timer: scheduler already running")
	ErrStopInProgress  = errors.New("timer: previous worker still exiting")
	ErrInvalidDelay    = errors.New("timer: delay must be >= 0")
	ErrInvalidInterval = errors.New("timer: interval must be > 0")
	ErrNilCallback     = errors.New("timer: callback is nil")
)

// PanicError describes a callback that panicked. The worker recovers it and
// keeps serving other timers.
type PanicError struct {
	ID    ID
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("timer %d: callback panic: %v", e.ID, e.Value) }

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
