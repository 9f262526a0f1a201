package processor

import (
	"errors"
	"fmt"
)

// errReported marks a step that returned false without an error.
var errReported = errors.New(MsgReported)

// StepError wraps any error returned by a step.
type StepError struct {
	Phase string
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("phase %s: %v", e.Phase, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// FatalPreflightError is returned when a fatal phase fails. it stops the run before any later phase.
type FatalPreflightError struct {
	Phase string
	Err   error
}

func (e *FatalPreflightError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal pre-flight phase %s failed", e.Phase)
	}
	var se *StepError
	if errors.As(e.Err, &se) {
		return fmt.Sprintf("fatal pre-flight phase %s: %v", e.Phase, se.Err)
	}
	return fmt.Sprintf("fatal pre-flight phase %s: %v", e.Phase, e.Err)
}

func (e *FatalPreflightError) Unwrap() error { return e.Err }
