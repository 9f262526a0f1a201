// Package status defines the per-phase state model shared by the sequencer, the runner and the log.
// the Registry is the single source of truth for phase outcomes during a run.
package status

import "fmt"

// State represents the lifecycle state of a phase.
type State string

// State constants. Pending -> InProgress -> {Success, Failed}, terminal states are final.
const (
	Pending    State = "pending"
	InProgress State = "in-progress"
	Success    State = "success"
	Failed     State = "failed"
)

// Terminal returns true for states that can't be left during a run.
func (s State) Terminal() bool {
	return s == Success || s == Failed
}

// CanMoveTo reports whether next may follow s: Pending only to InProgress,
// InProgress only to a terminal state, terminal states nowhere.
func (s State) CanMoveTo(next State) bool {
	switch s {
	case Pending:
		return next == InProgress
	case InProgress:
		return next.Terminal()
	}
	return false
}

// Valid returns true if s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case Pending, InProgress, Success, Failed:
		return true
	}
	return false
}

// Label returns upper-case label used in reports, e.g. "FAILED".
func (s State) Label() string {
	switch s {
	case Success:
		return "OK"
	case Failed:
		return "FAILED"
	case InProgress:
		return "RUNNING"
	default:
		return "PENDING"
	}
}

// RunState represents the global state of a sequencer run.
type RunState string

// RunState constants.
const (
	NotStarted RunState = "not-started"
	Running    RunState = "running"
	Completed  RunState = "completed"
)

// TransitionError is returned by Registry.Set for illegal transitions.
type TransitionError struct {
	Name string
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("phase %q: illegal transition %s -> %s", e.Name, e.From, e.To)
}
