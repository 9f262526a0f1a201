package processor

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/status"
)

func newTestSequencer(phases []Phase) (*Sequencer, *stubLogger, *liveCounter) {
	log := &stubLogger{}
	live := &liveCounter{}
	mk := live.factory()
	s := New(phases, Config{
		Arbiter:     display.NewArbiter(display.WithTick(time.Millisecond, 0.5)),
		NewRenderer: func() display.Renderer { return mk() },
		Log:         log,
	})
	return s, log, live
}

func okStep(context.Context, display.Progress) (bool, error) { return true, nil }

func TestSequencer_FailureDoesNotStopLaterPhases(t *testing.T) {
	var ranC atomic.Bool
	s, log, _ := newTestSequencer([]Phase{
		{Name: "a", Run: okStep},
		{Name: "b", Title: "Phase B", Run: ErrStep(func(context.Context, display.Progress) error {
			return errors.New("apt-get exploded")
		})},
		{Name: "c", Run: func(context.Context, display.Progress) (bool, error) { ranC.Store(true); return true, nil }},
	})

	require.NoError(t, s.Run(context.Background()))
	assert.True(t, ranC.Load())
	assert.Equal(t, status.Completed, s.State())

	all := s.Registry().All()
	require.Len(t, all, 3)
	assert.Equal(t, status.Success, all[0].State)
	assert.Equal(t, status.Failed, all[1].State)
	assert.Equal(t, "apt-get exploded", all[1].Message)
	assert.Equal(t, status.Success, all[2].State)
	assert.Equal(t, MsgCompleted, all[2].Message)

	require.Len(t, log.sections, 3)
	assert.Equal(t, "[2/3] Phase B", log.sections[1].Label)
	require.Len(t, log.warns, 1)
	assert.Contains(t, log.warns[0], "phase b failed: apt-get exploded")
	assert.Equal(t, []string{"sequence_start", "sequence_end"}, log.events)
}

func TestSequencer_AllSucceed(t *testing.T) {
	s, log, _ := newTestSequencer([]Phase{{Name: "a", Run: okStep}, {Name: "b", Run: okStep}})
	require.NoError(t, s.Run(context.Background()))
	c := s.Registry().Counts()
	assert.Equal(t, status.Counts{Success: 2}, c)
	assert.Empty(t, log.warns)
}

func TestSequencer_FatalStopsRun(t *testing.T) {
	var ran atomic.Bool
	s, _, _ := newTestSequencer([]Phase{
		{Name: "preflight", Fatal: true, Run: ErrStep(func(context.Context, display.Progress) error {
			return errors.New("not running as root")
		})},
		{Name: "update", Run: func(context.Context, display.Progress) (bool, error) { ran.Store(true); return true, nil }},
	})

	err := s.Run(context.Background())
	require.Error(t, err)
	var fe *FatalPreflightError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "preflight", fe.Phase)
	assert.Equal(t, "fatal pre-flight phase preflight: not running as root", err.Error())

	assert.False(t, ran.Load())
	assert.Equal(t, 1, s.Registry().Len())
	_, ok := s.Registry().Get("update")
	assert.False(t, ok)
}

func TestSequencer_NonFatalFalseContinues(t *testing.T) {
	s, _, _ := newTestSequencer([]Phase{
		{Name: "check", Run: BoolStep(func(context.Context, display.Progress) bool { return false })},
		{Name: "next", Run: okStep},
	})
	require.NoError(t, s.Run(context.Background()))
	st, ok := s.Registry().Get("check")
	require.True(t, ok)
	assert.Equal(t, status.Failed, st.State)
	assert.Equal(t, MsgReported, st.Message)
	st, _ = s.Registry().Get("next")
	assert.Equal(t, status.Success, st.State)
}

func TestSequencer_PanicIsFailure(t *testing.T) {
	s, log, _ := newTestSequencer([]Phase{
		{Name: "boom", Run: func(context.Context, display.Progress) (bool, error) { panic("nil map") }},
		{Name: "after", Run: okStep},
	})
	require.NoError(t, s.Run(context.Background()))
	st, _ := s.Registry().Get("boom")
	assert.Equal(t, status.Failed, st.State)
	assert.Equal(t, "panic: nil map", st.Message)
	st, _ = s.Registry().Get("after")
	assert.Equal(t, status.Success, st.State)
	assert.Contains(t, log.events, "phase_panic")
}

func TestSequencer_OneRendererAtATime(t *testing.T) {
	phases := make([]Phase, 0, 5)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		phases = append(phases, Phase{Name: n, Run: func(context.Context, display.Progress) (bool, error) {
			time.Sleep(3 * time.Millisecond)
			return true, nil
		}})
	}
	s, _, live := newTestSequencer(phases)
	require.NoError(t, s.Run(context.Background()))

	live.mu.Lock()
	defer live.mu.Unlock()
	assert.Equal(t, 1, live.peak)
	assert.Equal(t, 5, live.created)
	assert.Equal(t, 5, live.stopped)
	assert.Equal(t, 0, live.cur)
}

func TestSequencer_InProgressDuringStep(t *testing.T) {
	var seen status.State
	var s *Sequencer
	s, _, _ = newTestSequencer([]Phase{{Name: "a", Run: func(context.Context, display.Progress) (bool, error) {
		st, _ := s.Registry().Get("a")
		seen = st.State
		return true, nil
	}}})
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, status.InProgress, seen)
}

func TestSequencer_ReportingStepDrivesProgress(t *testing.T) {
	var r *countingRenderer
	live := &liveCounter{}
	mk := live.factory()
	s := New([]Phase{{Name: "pkgs", Reports: true, Run: func(_ context.Context, p display.Progress) (bool, error) {
		p.Set(40)
		assert.InDelta(t, 40, r.Percent(), 0.001)
		p.Set(20) // never backwards
		assert.InDelta(t, 40, r.Percent(), 0.001)
		p.Set(100) // completion belongs to the arbiter
		assert.InDelta(t, display.DefaultCeiling, r.Percent(), 0.001)
		return true, nil
	}}}, Config{
		NewRenderer: func() display.Renderer { r = mk(); return r },
		Log:         &stubLogger{},
	})
	require.NoError(t, s.Run(context.Background()))
	assert.InDelta(t, 100, r.Percent(), 0.001)
	assert.Equal(t, "pkgs", r.title)
}

func TestSequencer_CancelledContext(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		s, _, _ := newTestSequencer([]Phase{{Name: "a", Run: okStep}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, s.Registry().Len())
	})

	t.Run("during phase", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s, _, _ := newTestSequencer([]Phase{
			{Name: "a", Run: ErrStep(func(ctx context.Context, _ display.Progress) error {
				cancel()
				<-ctx.Done()
				return ctx.Err()
			})},
			{Name: "b", Run: okStep},
		})
		err := s.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
		assert.Contains(t, err.Error(), "interrupted during phase a")
		st, _ := s.Registry().Get("a")
		assert.Equal(t, status.Failed, st.State)
		_, ok := s.Registry().Get("b")
		assert.False(t, ok)
	})
}

func TestSequencer_NilLoggerDiscards(t *testing.T) {
	s := New([]Phase{
		{Name: "a", Run: okStep},
		{Name: "b", Run: BoolStep(func(context.Context, display.Progress) bool { return false })},
	}, Config{NewRenderer: func() display.Renderer { return display.NewPlainRenderer(io.Discard) }})

	require.NotPanics(t, func() { require.NoError(t, s.Run(context.Background())) })
	assert.Equal(t, status.Counts{Success: 1, Failed: 1}, s.Registry().Counts())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		phases  []Phase
		wantErr string
	}{
		{name: "ok", phases: []Phase{{Name: "a", Run: okStep}, {Name: "b", Run: okStep}}},
		{name: "empty list", phases: nil},
		{name: "no name", phases: []Phase{{Run: okStep}}, wantErr: "phase #1 has no name"},
		{name: "duplicate", phases: []Phase{{Name: "a", Run: okStep}, {Name: "a", Run: okStep}}, wantErr: `duplicate phase name "a"`},
		{name: "no step", phases: []Phase{{Name: "a"}}, wantErr: `phase "a" has no step`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.phases)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.wantErr)
		})
	}

	s, _, _ := newTestSequencer([]Phase{{Name: "a"}})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, s.Registry().Len())
}

func TestFatalPreflightError_Unwrap(t *testing.T) {
	base := errors.New("no network")
	err := &FatalPreflightError{Phase: "preflight", Err: &StepError{Phase: "preflight", Err: base}}
	require.ErrorIs(t, err, base)
	assert.Equal(t, "fatal pre-flight phase preflight failed", (&FatalPreflightError{Phase: "preflight"}).Error())
}
