package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/serverprep/hardn/pkg/config"
	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/executor"
	"github.com/serverprep/hardn/pkg/executor/mocks"
	"github.com/serverprep/hardn/pkg/lock"
	"github.com/serverprep/hardn/pkg/processor"
	"github.com/serverprep/hardn/pkg/status"
)

// testAppConfig loads embedded defaults with every path under a temp dir.
func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "etc"), "")
	require.NoError(t, err)
	cfg.LogDir = filepath.Join(dir, "log")
	cfg.BackupDir = filepath.Join(dir, "backup")
	cfg.LockFile = filepath.Join(dir, "run", "hardn.lock")
	cfg.NotifyChannels = nil
	return cfg
}

func ok(context.Context, display.Progress) (bool, error) { return true, nil }

func fail(msg string) processor.Step {
	return processor.ErrStep(func(context.Context, display.Progress) error { return errors.New(msg) })
}

func newTestRunner(t *testing.T, app *config.Config, phases ...processor.Phase) (*Runner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r := New(Config{
		App:         app,
		Phases:      func(Deps) []processor.Phase { return phases },
		NoColor:     true,
		Version:     "test",
		NewRenderer: func() display.Renderer { return display.NewPlainRenderer(io.Discard) },
		Stdout:      &out,
	})
	return r, &out
}

func readReport(t *testing.T, app *config.Config) Report {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(app.LogDir, ReportFile))
	require.NoError(t, err)
	var rep Report
	require.NoError(t, yaml.Unmarshal(data, &rep))
	return rep
}

func readLog(t *testing.T, app *config.Config) string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(app.LogDir, "hardn-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	return string(data)
}

func TestRunner_AllSucceed(t *testing.T) {
	app := testAppConfig(t)
	r, out := newTestRunner(t, app,
		processor.Phase{Name: "update", Title: "System Update", Run: ok},
		processor.Phase{Name: "ssh", Title: "SSH Hardening", Run: ok},
	)

	assert.Equal(t, ExitOK, r.Run(context.Background()))

	rep := readReport(t, app)
	assert.Equal(t, OutcomeSuccess, rep.Outcome)
	assert.Equal(t, status.Counts{Success: 2}, rep.Counts)
	require.Len(t, rep.Phases, 2)
	assert.Equal(t, "System Update", rep.Phases[0].Title)

	assert.Contains(t, out.String(), "--- [1/2] System Update ---")
	assert.Contains(t, out.String(), "--- final report ---")
	assert.Contains(t, out.String(), "| 2 | SSH Hardening | OK |")

	log := readLog(t, app)
	assert.Contains(t, log, "event=phase_status phase=update from=pending to=in-progress")
	assert.Contains(t, log, "event=phase_status phase=ssh from=in-progress to=success msg=completed")
	assert.Contains(t, log, "event=run_report outcome=success exit=0")
}

func TestRunner_FailureContinues(t *testing.T) {
	app := testAppConfig(t)
	r, out := newTestRunner(t, app,
		processor.Phase{Name: "a", Run: ok},
		processor.Phase{Name: "b", Run: fail("boom")},
		processor.Phase{Name: "c", Run: ok},
	)

	assert.Equal(t, ExitFailed, r.Run(context.Background()))
	rep := readReport(t, app)
	assert.Equal(t, OutcomeFailure, rep.Outcome)
	assert.Equal(t, status.Counts{Success: 2, Failed: 1}, rep.Counts)
	assert.Equal(t, []string{"b"}, rep.FailedPhases())
	assert.Contains(t, out.String(), "WARN: phase b failed: boom")
}

func TestRunner_FatalPreflight(t *testing.T) {
	app := testAppConfig(t)
	r, _ := newTestRunner(t, app,
		processor.Phase{Name: "preflight", Fatal: true, Run: fail("must run as root")},
		processor.Phase{Name: "update", Run: ok},
		processor.Phase{Name: "ssh", Run: ok},
	)

	assert.Equal(t, ExitFatal, r.Run(context.Background()))
	rep := readReport(t, app)
	assert.Equal(t, OutcomeFatal, rep.Outcome)
	assert.Equal(t, status.Counts{Failed: 1, Pending: 2}, rep.Counts)
	assert.Equal(t, status.Pending, rep.Phases[2].State)
	assert.Contains(t, rep.Error, "must run as root")
}

func TestRunner_Signal(t *testing.T) {
	tests := []struct {
		sig  syscall.Signal
		want int
	}{
		{syscall.SIGINT, 130},
		{syscall.SIGTERM, 143},
	}
	for _, tc := range tests {
		t.Run(tc.sig.String(), func(t *testing.T) {
			app := testAppConfig(t)
			ctx, cancel := context.WithCancelCause(context.Background())
			r, _ := newTestRunner(t, app,
				processor.Phase{Name: "a", Run: func(context.Context, display.Progress) (bool, error) {
					cancel(&SignalError{Signal: tc.sig})
					return true, nil
				}},
				processor.Phase{Name: "b", Run: ok},
			)
			assert.Equal(t, tc.want, r.Run(ctx))
			rep := readReport(t, app)
			assert.Equal(t, OutcomeInterrupted, rep.Outcome)
			assert.Equal(t, status.Counts{Success: 1, Pending: 1}, rep.Counts)
		})
	}
}

func TestRunner_LockHeld(t *testing.T) {
	app := testAppConfig(t)
	held, err := lock.Acquire(app.LockFile)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	r, out := newTestRunner(t, app, processor.Phase{Name: "a", Run: ok})
	assert.Equal(t, ExitFailed, r.Run(context.Background()))
	assert.Contains(t, out.String(), "another run is in progress")
	_, err = os.Stat(app.LogDir)
	assert.True(t, os.IsNotExist(err), "no log without the lock")
}

func TestRunner_UnusableRuntimePathsStillRunPreflight(t *testing.T) {
	app := testAppConfig(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	app.LockFile = filepath.Join(blocker, "hardn.lock")
	app.LogDir = filepath.Join(blocker, "log")

	preflightRan := false
	r, out := newTestRunner(t, app,
		processor.Phase{Name: "preflight", Fatal: true, Run: processor.ErrStep(func(context.Context, display.Progress) error {
			preflightRan = true
			return errors.New("pre-flight checks failed: root")
		})},
		processor.Phase{Name: "update", Run: ok},
	)
	fallback := t.TempDir()
	r.cfg.FallbackDir = fallback

	assert.Equal(t, ExitFatal, r.Run(context.Background()))
	assert.True(t, preflightRan)
	assert.Contains(t, out.String(), "using "+fallback)

	app.LogDir = fallback
	rep := readReport(t, app)
	assert.Equal(t, OutcomeFatal, rep.Outcome)
	assert.Equal(t, status.Counts{Failed: 1, Pending: 1}, rep.Counts)
	log := readLog(t, app)
	assert.Contains(t, log, "event=runtime_fallback")
	assert.Contains(t, log, "event=run_report outcome=fatal exit=2")

	t.Run("held fallback lock is not bypassed", func(t *testing.T) {
		held, err := lock.Acquire(filepath.Join(fallback, "hardn.lock"))
		require.NoError(t, err)
		defer func() { _ = held.Release() }()
		assert.Equal(t, ExitFailed, r.Run(context.Background()))
		assert.Contains(t, out.String(), "another run is in progress")
	})
}

func TestRunner_UnknownOnlyPhase(t *testing.T) {
	app := testAppConfig(t)
	r, _ := newTestRunner(t, app, processor.Phase{Name: "a", Run: ok})
	r.cfg.Only = []string{"nope"}
	assert.Equal(t, ExitFailed, r.Run(context.Background()))
}

func TestRunner_DepsUseConfiguredExecutor(t *testing.T) {
	app := testAppConfig(t)
	app.Substitutions = map[string]string{"apt-get": "nala"}

	var got [][]string
	runner := &mocks.CommandRunnerMock{RunFunc: func(_ context.Context, c executor.Command) (executor.Output, error) {
		got = append(got, append([]string{c.Name}, c.Args...))
		return executor.Output{}, nil
	}}

	var out bytes.Buffer
	r := New(Config{
		App: app,
		Phases: func(d Deps) []processor.Phase {
			return []processor.Phase{{Name: "update", Run: processor.ErrStep(func(ctx context.Context, _ display.Progress) error {
				_, err := d.Executor.Execute(ctx, executor.CommandSpec{Argv: []string{"apt-get", "update"}})
				return err
			})}}
		},
		NoColor:       true,
		MaxAttempts:   1,
		CommandRunner: runner,
		NewRenderer:   func() display.Renderer { return display.NewPlainRenderer(io.Discard) },
		Stdout:        &out,
	})

	require.Equal(t, ExitOK, r.Run(context.Background()))
	assert.Equal(t, [][]string{{"nala", "--version"}, {"nala", "update"}}, got)
	assert.Contains(t, readLog(t, app), "event=tool_probe tool=nala available=true")
}

func TestRunner_FailingCommandSingleAttempt(t *testing.T) {
	app := testAppConfig(t)
	app.Substitutions = nil

	var calls []string
	runner := &mocks.CommandRunnerMock{RunFunc: func(_ context.Context, c executor.Command) (executor.Output, error) {
		calls = append(calls, c.Name+" "+strings.Join(c.Args, " "))
		return executor.Output{ExitCode: 100, Stderr: "E: Unable to locate package nosuchpkg\n"}, nil
	}}

	var out bytes.Buffer
	r := New(Config{
		App: app,
		Phases: func(d Deps) []processor.Phase {
			return []processor.Phase{
				{Name: "a", Run: ok},
				{Name: "b", Run: processor.ErrStep(func(ctx context.Context, _ display.Progress) error {
					_, err := d.Executor.Execute(ctx, executor.CommandSpec{Argv: []string{"apt-get", "install", "-y", "nosuchpkg"}})
					return err
				})},
				{Name: "c", Run: ok},
			}
		},
		NoColor:       true,
		MaxAttempts:   1,
		CommandRunner: runner,
		NewRenderer:   func() display.Renderer { return display.NewPlainRenderer(io.Discard) },
		Stdout:        &out,
	})

	assert.Equal(t, ExitFailed, r.Run(context.Background()))
	assert.Equal(t, []string{"apt-get install -y nosuchpkg"}, calls, "exactly one attempt")

	rep := readReport(t, app)
	assert.Equal(t, OutcomeFailure, rep.Outcome)
	assert.Equal(t, status.Counts{Success: 2, Failed: 1}, rep.Counts)
	require.Len(t, rep.Phases, 3)
	assert.Equal(t, status.Success, rep.Phases[0].State)
	assert.Equal(t, status.Failed, rep.Phases[1].State)
	assert.Contains(t, rep.Phases[1].Message, "Unable to locate package")
	assert.Equal(t, status.Success, rep.Phases[2].State)
}

func TestFilterPhases(t *testing.T) {
	phases := []processor.Phase{
		{Name: "preflight", Fatal: true, Run: ok},
		{Name: "update", Run: ok},
		{Name: "ssh", Run: ok},
		{Name: "firewall", Run: ok},
	}
	names := func(ps []processor.Phase) []string {
		res := make([]string, 0, len(ps))
		for _, p := range ps {
			res = append(res, p.Name)
		}
		return res
	}

	res, err := FilterPhases(phases, nil)
	require.NoError(t, err)
	assert.Len(t, res, 4)

	res, err = FilterPhases(phases, []string{"firewall", "update"})
	require.NoError(t, err)
	assert.Equal(t, []string{"preflight", "update", "firewall"}, names(res), "declared order and fatal phases kept")

	_, err = FilterPhases(phases, []string{"kernel"})
	require.EqualError(t, err, `unknown phase "kernel"`)
}

func TestClassify(t *testing.T) {
	sigCtx, cancel := context.WithCancelCause(context.Background())
	cancel(&SignalError{Signal: syscall.SIGHUP})
	plainCtx, cancelPlain := context.WithCancel(context.Background())
	cancelPlain()

	tests := []struct {
		name    string
		ctx     context.Context
		err     error
		counts  status.Counts
		outcome string
		code    int
	}{
		{"success", context.Background(), nil, status.Counts{Success: 3}, OutcomeSuccess, ExitOK},
		{"failed phase", context.Background(), nil, status.Counts{Success: 2, Failed: 1}, OutcomeFailure, ExitFailed},
		{"fatal", context.Background(), &processor.FatalPreflightError{Phase: "preflight"}, status.Counts{Failed: 1}, OutcomeFatal, ExitFatal},
		{"sighup", sigCtx, context.Canceled, status.Counts{}, OutcomeInterrupted, 129},
		{"cancel without signal", plainCtx, context.Canceled, status.Counts{}, OutcomeInterrupted, ExitSignalDefault},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outcome, code := classify(tc.ctx, tc.err, tc.counts)
			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestWatchSignals(t *testing.T) {
	ctx, stop := WatchSignals(context.Background(), syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by signal")
	}
	var se *SignalError
	require.ErrorAs(t, context.Cause(ctx), &se)
	assert.Equal(t, 128+int(syscall.SIGUSR1), se.ExitCode())
	assert.True(t, strings.HasPrefix(se.Error(), "received signal"))
}
