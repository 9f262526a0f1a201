package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCommand is returned for a CommandSpec without argv. it is a programming error and never retried.
var ErrEmptyCommand = errors.New("empty command")

// maxTailLines and maxTailBytes bound the stderr excerpt carried by ExecutionError.
const (
	maxTailLines = 5
	maxTailBytes = 512
)

// ExecutionError is returned when a command exhausted its attempts.
type ExecutionError struct {
	Command    string // joined argv of the last attempt
	ExitCode   int    // -1 when the process never exited normally (spawn error, timeout)
	StderrTail string // last lines of stderr from the last attempt
	Attempts   int
	Err        error // underlying cause of the last failure, nil for plain non-zero exit
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q failed after %d attempt(s)", e.Command, e.Attempts)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.StderrTail != "" {
		fmt.Fprintf(&b, ": %s", e.StderrTail)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SpawnError reports that a command could not be started at all (not found, not executable).
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("start %s: %v", e.Name, e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }

// tail returns the last maxTailLines non-empty lines of s, capped at maxTailBytes.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxTailLines {
		lines = lines[len(lines)-maxTailLines:]
	}
	res := strings.Join(lines, " | ")
	if len(res) > maxTailBytes {
		res = "..." + res[len(res)-maxTailBytes:]
	}
	return res
}
