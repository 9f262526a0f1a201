package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_backoff(t *testing.T) {
	e := New(Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})

	within := func(t *testing.T, got, want time.Duration) {
		t.Helper()
		lo, hi := time.Duration(float64(want)*0.8), time.Duration(float64(want)*1.2)
		assert.GreaterOrEqual(t, got, lo)
		assert.LessOrEqual(t, got, hi)
	}
	within(t, e.backoff(1), 100*time.Millisecond)
	within(t, e.backoff(2), 200*time.Millisecond)
	within(t, e.backoff(3), 400*time.Millisecond)
	within(t, e.backoff(4), 800*time.Millisecond)
	within(t, e.backoff(5), time.Second)
	within(t, e.backoff(30), time.Second)
}

func TestExecutor_sleepsBetweenAttemptsOnly(t *testing.T) {
	var slept []time.Duration
	runner := &stubRunner{fn: func(Command) (Output, error) { return Output{ExitCode: 1}, nil }}
	e := New(Options{Runner: runner, BaseDelay: time.Second, MaxDelay: time.Second})
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := e.Execute(context.Background(), CommandSpec{Argv: []string{"x"}, MaxAttempts: 3})
	require.Error(t, err)
	assert.Len(t, slept, 2, "no pause after the last attempt")
}

func TestTail(t *testing.T) {
	assert.Empty(t, tail("  \n "))
	assert.Equal(t, "one", tail("one\n"))
	assert.Equal(t, "c | d | e | f | g", tail("a\nb\nc\nd\ne\nf\ng"))

	long := strings.Repeat("x", 2000)
	got := tail(long)
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.Len(t, got, maxTailBytes+3)
}

func TestExecCommandRunner(t *testing.T) {
	r := &execCommandRunner{}

	t.Run("captures output and exit code", func(t *testing.T) {
		out, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}})
		require.NoError(t, err)
		assert.Equal(t, 3, out.ExitCode)
		assert.Equal(t, "out\n", out.Stdout)
		assert.Equal(t, "err\n", out.Stderr)
	})

	t.Run("stdin and env", func(t *testing.T) {
		out, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "read x; echo $x-$HARDN_TEST"},
			Stdin: "hello\n", Env: []string{"HARDN_TEST=42"}})
		require.NoError(t, err)
		assert.Equal(t, 0, out.ExitCode)
		assert.Equal(t, "hello-42\n", out.Stdout)
	})

	t.Run("spawn error", func(t *testing.T) {
		_, err := r.Run(context.Background(), Command{Name: "/nonexistent/hardn-test-binary"})
		var spawnErr *SpawnError
		require.ErrorAs(t, err, &spawnErr)
		assert.Equal(t, "/nonexistent/hardn-test-binary", spawnErr.Name)
	})

	t.Run("timeout kills process group", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 30 & sleep 30"}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Run(ctx, Command{Name: "true"})
		require.ErrorIs(t, err, context.Canceled)
	})
}

// stubRunner is a minimal CommandRunner for internal tests.
type stubRunner struct {
	fn func(Command) (Output, error)
}

func (s *stubRunner) Run(_ context.Context, c Command) (Output, error) { return s.fn(c) }
