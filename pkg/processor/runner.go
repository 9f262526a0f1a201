// Package processor sequences phases: each phase runs through the display arbiter, its
// outcome is recorded in the status registry, and a failing phase never stops the next one
// unless it is marked fatal.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/status"
)

// status messages recorded for outcomes without an error text.
const (
	MsgRunning   = "running"
	MsgCompleted = "completed"
	MsgReported  = "step reported failure"
)

// Logger provides logging functionality.
type Logger interface {
	Print(format string, args ...any)
	Warn(format string, args ...any)
	PrintSection(section status.Section)
	Event(event string, kv ...any)
}

// Step is the body of a phase. it reports success with (true, nil), failure with (false, nil)
// or any error, and reports progress only through p.
type Step func(ctx context.Context, p display.Progress) (bool, error)

// ErrStep adapts a step that fails by returning an error.
func ErrStep(fn func(ctx context.Context, p display.Progress) error) Step {
	return func(ctx context.Context, p display.Progress) (bool, error) {
		if err := fn(ctx, p); err != nil {
			return false, err
		}
		return true, nil
	}
}

// BoolStep adapts a step that reports its outcome as a boolean.
func BoolStep(fn func(ctx context.Context, p display.Progress) bool) Step {
	return func(ctx context.Context, p display.Progress) (bool, error) {
		return fn(ctx, p), nil
	}
}

// Phase is a named, independently failing unit of work.
type Phase struct {
	Name    string // stable identifier, e.g. "ssh"
	Title   string // display title, Name if empty
	Fatal   bool   // failure aborts the run, for pre-flight checks
	Reports bool   // the step drives its own progress, no animated bar
	Run     Step
}

// DisplayTitle returns Title, falling back to Name.
func (p Phase) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	return p.Name
}

// Validate checks that phases have unique non-empty names and a step each.
func Validate(phases []Phase) error {
	seen := make(map[string]bool, len(phases))
	for i, ph := range phases {
		if ph.Name == "" {
			return fmt.Errorf("phase #%d has no name", i+1)
		}
		if seen[ph.Name] {
			return fmt.Errorf("duplicate phase name %q", ph.Name)
		}
		if ph.Run == nil {
			return fmt.Errorf("phase %q has no step", ph.Name)
		}
		seen[ph.Name] = true
	}
	return nil
}

// RendererFactory makes a fresh renderer for each phase.
type RendererFactory func() display.Renderer

// Config holds sequencer dependencies.
type Config struct {
	Registry    *status.Registry
	Arbiter     *display.Arbiter
	NewRenderer RendererFactory // nil picks a bar or plain renderer for stdout
	Log         Logger // nil discards
}

// Sequencer runs phases in declared order, one at a time.
type Sequencer struct {
	phases      []Phase
	registry    *status.Registry
	arbiter     *display.Arbiter
	newRenderer RendererFactory
	log         Logger

	mu    sync.Mutex
	state status.RunState
}

// New makes a Sequencer for phases.
func New(phases []Phase, cfg Config) *Sequencer {
	s := &Sequencer{
		phases:      phases,
		registry:    cfg.Registry,
		arbiter:     cfg.Arbiter,
		newRenderer: cfg.NewRenderer,
		log:         cfg.Log,
		state:       status.NotStarted,
	}
	if s.registry == nil {
		s.registry = status.NewRegistry()
	}
	if s.arbiter == nil {
		s.arbiter = display.NewArbiter()
	}
	if s.newRenderer == nil {
		s.newRenderer = func() display.Renderer { return display.NewRenderer(os.Stdout) }
	}
	if s.log == nil {
		s.log = nopLogger{}
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Print(string, ...any)        {}
func (nopLogger) Warn(string, ...any)         {}
func (nopLogger) PrintSection(status.Section) {}
func (nopLogger) Event(string, ...any)        {}

// Registry returns the status registry the sequencer writes to.
func (s *Sequencer) Registry() *status.Registry { return s.registry }

// Phases returns the phase list.
func (s *Sequencer) Phases() []Phase { return s.phases }

// State returns the global run state.
func (s *Sequencer) State() status.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sequencer) setState(st status.RunState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run executes every phase in order. failures are recorded and the run continues;
// the only early exits are a failed fatal phase (*FatalPreflightError) and ctx cancellation.
// a phase is registered when it is reached, so phases after an early exit have no entry.
func (s *Sequencer) Run(ctx context.Context) error {
	if err := Validate(s.phases); err != nil {
		return fmt.Errorf("invalid phases: %w", err)
	}

	s.setState(status.Running)
	defer s.setState(status.Completed)

	started := time.Now()
	s.log.Event("sequence_start", "phases", len(s.phases))
	defer func() {
		c := s.registry.Counts()
		s.log.Event("sequence_end", "success", c.Success, "failed", c.Failed,
			"duration", time.Since(started).Round(time.Millisecond))
	}()

	total := len(s.phases)
	for i, ph := range s.phases {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted before phase %s: %w", ph.Name, err)
		}

		s.registry.Register(ph.Name)
		s.log.PrintSection(status.NewPhaseSection(i+1, total, ph.DisplayTitle()))
		if err := s.registry.Set(ph.Name, status.InProgress, MsgRunning); err != nil {
			return fmt.Errorf("start phase %s: %w", ph.Name, err)
		}

		stepErr := s.runPhase(ctx, ph)
		state, msg := outcome(stepErr)
		if err := s.registry.Set(ph.Name, state, msg); err != nil {
			return fmt.Errorf("finish phase %s: %w", ph.Name, err)
		}

		if state == status.Failed {
			s.log.Warn("phase %s failed: %s", ph.Name, msg)
			var pe *display.PanicError
			if errors.As(stepErr, &pe) {
				s.log.Event("phase_panic", "phase", ph.Name, "stack", string(pe.Stack))
			}
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted during phase %s: %w", ph.Name, err)
		}
		if state == status.Failed && ph.Fatal {
			return &FatalPreflightError{Phase: ph.Name, Err: stepErr}
		}
	}
	return nil
}

// runPhase runs one step under a fresh renderer and returns its failure, nil on success.
// a (false, nil) step result becomes errReported.
func (s *Sequencer) runPhase(ctx context.Context, ph Phase) error {
	defer s.arbiter.Detach()

	var ok bool
	err := s.arbiter.Run(ctx, s.newRenderer(), ph.DisplayTitle(), !ph.Reports,
		func(ctx context.Context, p display.Progress) error {
			var err error
			ok, err = ph.Run(ctx, p)
			return err
		})
	switch {
	case err != nil:
		var pe *display.PanicError
		if errors.As(err, &pe) {
			return err
		}
		return &StepError{Phase: ph.Name, Err: err}
	case !ok:
		return errReported
	default:
		return nil
	}
}

// outcome maps a step failure to the recorded state and message.
func outcome(err error) (status.State, string) {
	var se *StepError
	var pe *display.PanicError
	switch {
	case err == nil:
		return status.Success, MsgCompleted
	case errors.Is(err, errReported):
		return status.Failed, MsgReported
	case errors.As(err, &pe):
		return status.Failed, fmt.Sprintf("panic: %v", pe.Value)
	case errors.As(err, &se):
		return status.Failed, se.Err.Error()
	default:
		return status.Failed, err.Error()
	}
}
