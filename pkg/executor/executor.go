// Package executor runs external commands with per-attempt timeouts, bounded retries
// with exponential backoff, and verified substitution of faster tool front-ends.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"strings"
	"time"
)

//go:generate moq -out mocks/command_runner.go -pkg mocks -skip-ensure -fmt goimports . CommandRunner

// defaults used when neither the CommandSpec nor the Executor options set a value.
const (
	DefaultTimeout   = 10 * time.Minute
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// CommandSpec describes one external invocation.
type CommandSpec struct {
	Argv         []string      // command and arguments, Argv[0] is the baseline tool
	Timeout      time.Duration // per attempt, zero uses the executor default
	MaxAttempts  int           // zero uses the executor default
	AllowFailure bool          // non-zero exit is returned as a result, not an error
	Prefer       string        // explicit faster alternative for Argv[0], overrides the substitution table
	NoSubstitute bool          // never rewrite Argv[0]
	Dir          string
	Env          []string // extra KEY=VALUE pairs on top of the process environment
	Stdin        string
}

// String returns the command line for logs.
func (s CommandSpec) String() string {
	return strings.Join(s.Argv, " ")
}

// Command is a single resolved invocation handed to a CommandRunner.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Stdin string
}

// Output is what a CommandRunner captured from one invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Result holds the outcome of Execute.
type Result struct {
	Argv     []string // argv actually used for the last attempt, after substitution
	ExitCode int
	Stdout   string
	Stderr   string
	Attempts int
	Duration time.Duration
}

// OK returns true for a zero exit code.
func (r Result) OK() bool { return r.ExitCode == 0 }

// CommandRunner abstracts process execution for testing.
// it returns a *SpawnError when the process can't be started, ctx.Err() wrapped when
// ctx ended before the process did, and nil error for any exit code otherwise.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// Logger receives structured events for every attempt and outcome.
type Logger interface {
	Event(event string, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Event(string, ...any) {}

// execCommandRunner is the default command runner using os/exec.
type execCommandRunner struct{}

// Run starts cmd in its own process group and waits for it, killing the group when ctx ends.
func (r *execCommandRunner) Run(ctx context.Context, c Command) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("context already canceled: %w", err)
	}

	// exec.Command (not CommandContext) because cancellation kills the whole process group
	cmd := exec.Command(c.Name, c.Args...) //nolint:noctx,gosec // argv comes from phase definitions
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	if err := startInGroup(cmd); err != nil {
		return Output{ExitCode: -1}, &SpawnError{Name: c.Name, Err: err}
	}
	waitErr := waitOrKill(cmd, ctx.Done(), killGrace)

	out := Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("command interrupted: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return out, waitErr
	}
	return out, nil
}

// Options configures an Executor.
type Options struct {
	Runner       CommandRunner // nil uses os/exec
	Availability *Availability // nil disables tool substitution
	Log          Logger        // nil discards events
	MaxAttempts  int
	Timeout      time.Duration
	BaseDelay    time.Duration // first backoff pause, doubled per failed attempt
	MaxDelay     time.Duration // backoff cap
}

// Executor runs CommandSpecs with retry and substitution. it is safe for concurrent use.
type Executor struct {
	runner      CommandRunner
	avail       *Availability
	log         Logger
	maxAttempts int
	timeout     time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New makes an Executor, filling unset options with defaults.
func New(opts Options) *Executor {
	e := &Executor{
		runner:      opts.Runner,
		avail:       opts.Availability,
		log:         opts.Log,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		sleep:       sleepContext,
	}
	if e.runner == nil {
		e.runner = &execCommandRunner{}
	}
	if e.log == nil {
		e.log = nopLogger{}
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = 1
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.baseDelay <= 0 {
		e.baseDelay = DefaultBaseDelay
	}
	if e.maxDelay <= 0 {
		e.maxDelay = DefaultMaxDelay
	}
	return e
}

// Availability returns the tool availability cache, may be nil.
func (e *Executor) Availability() *Availability { return e.avail }

// Execute runs spec until it succeeds or MaxAttempts is exhausted.
// a failed attempt is a spawn error, a timeout, or a non-zero exit unless AllowFailure is set.
// on exhaustion it returns *ExecutionError, or the last result with nil error when AllowFailure is set.
// an interrupted parent context always returns an error.
func (e *Executor) Execute(ctx context.Context, spec CommandSpec) (Result, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return Result{}, ErrEmptyCommand
	}

	attempts := spec.MaxAttempts
	if attempts <= 0 {
		attempts = e.maxAttempts
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	started := time.Now()
	var res Result
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		argv, alt := e.resolve(ctx, spec)
		out, err := e.attempt(ctx, spec, argv, timeout)
		res = Result{
			Argv: argv, ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr,
			Attempts: attempt, Duration: time.Since(started),
		}

		// an alternative that can't even be spawned is broken for the rest of the run,
		// retry the same attempt with the baseline tool
		var spawnErr *SpawnError
		if alt != "" && errors.As(err, &spawnErr) {
			e.avail.Disable(alt)
			e.log.Event("substitution_disabled", "tool", alt, "baseline", spec.Argv[0], "err", err)
			attempt--
			continue
		}

		switch {
		case err == nil && (out.ExitCode == 0 || spec.AllowFailure):
			e.log.Event("command_done", "cmd", strings.Join(argv, " "), "attempt", attempt, "exit", out.ExitCode,
				"duration", time.Since(started).Round(time.Millisecond))
			return res, nil
		case err != nil:
			lastErr = err
		default:
			lastErr = nil
		}

		e.log.Event("command_failed", "cmd", strings.Join(argv, " "), "attempt", attempt, "of", attempts,
			"exit", out.ExitCode, "err", lastErr, "stderr", tail(out.Stderr))

		if ctx.Err() != nil {
			return res, &ExecutionError{Command: strings.Join(argv, " "), ExitCode: out.ExitCode,
				StderrTail: tail(out.Stderr), Attempts: attempt, Err: ctx.Err()}
		}
		if attempt == attempts {
			break
		}

		delay := e.backoff(attempt)
		e.log.Event("command_retry", "cmd", strings.Join(argv, " "), "next_attempt", attempt+1, "delay", delay)
		if err := e.sleep(ctx, delay); err != nil {
			return res, &ExecutionError{Command: strings.Join(argv, " "), ExitCode: out.ExitCode,
				StderrTail: tail(out.Stderr), Attempts: attempt, Err: err}
		}
	}

	if spec.AllowFailure {
		e.log.Event("command_failure_allowed", "cmd", strings.Join(res.Argv, " "), "exit", res.ExitCode)
		return res, nil
	}
	return res, &ExecutionError{
		Command:    strings.Join(res.Argv, " "),
		ExitCode:   res.ExitCode,
		StderrTail: tail(res.Stderr),
		Attempts:   res.Attempts,
		Err:        lastErr,
	}
}

// resolve returns the argv to run and the alternative tool used, empty when no substitution happened.
func (e *Executor) resolve(ctx context.Context, spec CommandSpec) (argv []string, alt string) {
	argv = append([]string(nil), spec.Argv...)
	if spec.NoSubstitute || e.avail == nil {
		return argv, ""
	}
	alt = spec.Prefer
	if alt == "" {
		var ok bool
		if alt, ok = e.avail.Alternative(spec.Argv[0]); !ok {
			return argv, ""
		}
	}
	if alt == spec.Argv[0] || !e.avail.Probe(ctx, alt) {
		return argv, ""
	}
	argv[0] = alt
	return argv, alt
}

// attempt runs argv once under its own timeout.
func (e *Executor) attempt(ctx context.Context, spec CommandSpec, argv []string, timeout time.Duration) (Output, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.log.Event("command_start", "cmd", strings.Join(argv, " "), "timeout", timeout)
	out, err := e.runner.Run(actx, Command{Name: argv[0], Args: argv[1:], Dir: spec.Dir, Env: spec.Env, Stdin: spec.Stdin})
	if err == nil && actx.Err() != nil && ctx.Err() == nil {
		// runner didn't notice the deadline but the attempt overran it
		err = actx.Err()
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return out, err
}

// backoff returns the pause after failed attempt n (1-based): baseDelay*2^(n-1) capped at maxDelay, with ±20% jitter.
func (e *Executor) backoff(n int) time.Duration {
	d := e.baseDelay
	for i := 1; i < n && d < e.maxDelay; i++ {
		d *= 2
	}
	if d > e.maxDelay {
		d = e.maxDelay
	}
	jitter := time.Duration(float64(d) * 0.2 * (rand.Float64()*2 - 1)) //nolint:gosec // jitter doesn't need crypto rand
	return d + jitter
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
