package cycle

import (
	"errors"
	"fmt"
)

var (
	// ErrReused is returned by Run on a cycle that already ran.
	ErrReused = errors.New("cycle: request cycle cannot be reused")

	// ErrInfiniteLoop is the fault raised when a cycle exceeds its step
	// budget, typically through repeated restarts.
	ErrInfiniteLoop = errors.New("cycle: too many steps, probably an infinite loop")

	// ErrNoTarget is the fault raised when the processor resolves nothing.
	ErrNoTarget = errors.New("cycle: no request target resolved")

	// ErrAccessDenied is returned by access checks that refuse a target
	// without substituting another one.
	ErrAccessDenied = errors.New("cycle: access denied")
)

// StepError is a fault raised by a step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("cycle: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PanicError is a panic recovered from a step or a target.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cycle: panic: %v", e.Value)
}

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Restart is a navigation outcome, not a fault: returning it from any step
// abandons the work in progress and responds with Target instead. The
// exception responder never sees it.
type Restart struct {
	Target Target
}

// RestartWith returns a Restart outcome for t.
func RestartWith(t Target) error {
	return &Restart{Target: t}
}

func (r *Restart) Error() string {
	return fmt.Sprintf("cycle: restart with %v", r.Target)
}
