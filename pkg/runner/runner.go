// Package runner orchestrates one hardn run: it takes the run lock, opens the run log,
// builds the phase list, sequences it and turns the outcome into a report and an exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/serverprep/hardn/pkg/backup"
	"github.com/serverprep/hardn/pkg/config"
	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/executor"
	"github.com/serverprep/hardn/pkg/lock"
	"github.com/serverprep/hardn/pkg/notify"
	"github.com/serverprep/hardn/pkg/processor"
	"github.com/serverprep/hardn/pkg/progress"
	"github.com/serverprep/hardn/pkg/render"
	"github.com/serverprep/hardn/pkg/status"
)

// process exit codes.
const (
	ExitOK            = 0
	ExitFailed        = 1 // at least one phase failed, or the run could not start
	ExitFatal         = 2 // a fatal pre-flight phase failed
	ExitSignalDefault = 130
)

// Deps are the engine services handed to a PhaseSource.
type Deps struct {
	Config   *config.Config
	Executor *executor.Executor
	Backup   *backup.Store
	Log      *progress.Logger
}

// PhaseSource builds the ordered phase list for a run.
type PhaseSource func(d Deps) []processor.Phase

// Config holds runner configuration.
type Config struct {
	App         *config.Config
	Phases      PhaseSource
	Only        []string // phase names to run, fatal phases are always kept
	MaxAttempts int      // overrides config when > 0
	NoColor     bool
	Version     string

	FallbackDir string // lock and log location when the configured ones are unusable, empty uses a per-user temp dir

	CommandRunner executor.CommandRunner    // nil runs real processes
	NewRenderer   processor.RendererFactory // nil picks a renderer for stdout
	Stdout        io.Writer                 // nil uses os.Stdout
}

// Runner orchestrates a single run.
type Runner struct {
	cfg Config
	out io.Writer
}

// New creates a new Runner with the given configuration.
func New(cfg Config) *Runner {
	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}
	return &Runner{cfg: cfg, out: out}
}

// FilterPhases keeps phases named in only, plus every fatal phase. an empty only keeps all.
func FilterPhases(phases []processor.Phase, only []string) ([]processor.Phase, error) {
	if len(only) == 0 {
		return phases, nil
	}
	known := make(map[string]bool, len(phases))
	for _, ph := range phases {
		known[ph.Name] = true
	}
	for _, name := range only {
		if !known[name] {
			return nil, fmt.Errorf("unknown phase %q", name)
		}
	}
	res := make([]processor.Phase, 0, len(only))
	for _, ph := range phases {
		if ph.Fatal || slices.Contains(only, ph.Name) {
			res = append(res, ph)
		}
	}
	return res, nil
}

// Run executes all phases and returns the process exit code. it never panics on phase failure.
func (r *Runner) Run(ctx context.Context) int {
	app := r.cfg.App
	if app == nil || r.cfg.Phases == nil {
		fmt.Fprintln(r.out, "ERROR: runner is not configured")
		return ExitFailed
	}

	host, _ := os.Hostname()
	rl, log, err := r.open(host)
	if err != nil {
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		return ExitFailed
	}
	defer func() {
		_ = log.Close()
		_ = rl.Release()
	}()

	started := time.Now()
	log.Event("run_start", "run", log.RunID(), "lock", rl.Path(), "config", app.LocalPath())

	deps := r.deps(log)
	phases, err := FilterPhases(r.cfg.Phases(deps), r.cfg.Only)
	if err != nil {
		log.Error("%v", err)
		return ExitFailed
	}

	reg := status.NewRegistry()
	reg.OnChange(func(old, cur status.PhaseStatus) {
		log.Event("phase_status", "phase", cur.Name, "from", old.State, "to", cur.State, "msg", cur.Message)
	})

	seq := processor.New(phases, processor.Config{
		Registry:    reg,
		Arbiter:     display.NewArbiter(display.WithTick(app.Tick(), display.DefaultTickStep)),
		NewRenderer: r.cfg.NewRenderer,
		Log:         log,
	})
	runErr := seq.Run(ctx)

	rep := Report{
		RunID:   log.RunID(),
		Host:    host,
		Version: r.cfg.Version,
		Started: started,
		LogFile: log.Path(),
	}
	rep.Phases, rep.Counts = BuildPhaseReports(phases, reg)
	rep.Outcome, rep.ExitCode = classify(ctx, runErr, rep.Counts)
	rep.Duration = time.Since(started).Round(time.Millisecond).String()
	if runErr != nil {
		rep.Error = runErr.Error()
	}

	r.report(ctx, log, rep)
	return rep.ExitCode
}

// open takes the run lock and opens the run log. when the configured lock or log location
// can't be used (typically a non-root caller), both move to the fallback dir so pre-flight
// still runs and its failure is recorded. a lock held by another run is never bypassed.
func (r *Runner) open(host string) (*lock.RunLock, *progress.Logger, error) {
	app := r.cfg.App
	lockPath, logDir := app.LockFile, app.LogDir
	var moved error

	rl, err := lock.Acquire(lockPath)
	if err != nil && !errors.Is(err, lock.ErrLocked) {
		moved = err
		lockPath, logDir = filepath.Join(r.fallbackDir(), "hardn.lock"), r.fallbackDir()
		rl, err = lock.Acquire(lockPath)
	}
	if err != nil {
		return nil, nil, err
	}

	logCfg := progress.Config{
		Dir:     logDir,
		Host:    host,
		Version: r.cfg.Version,
		NoColor: r.cfg.NoColor,
		Colors:  progress.NewColors(app.Colors),
		Stdout:  r.out,
	}
	log, err := progress.NewLogger(logCfg)
	if err != nil && logDir != r.fallbackDir() {
		moved = err
		logCfg.Dir = r.fallbackDir()
		log, err = progress.NewLogger(logCfg)
	}
	if err != nil {
		_ = rl.Release()
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}

	if moved != nil {
		log.Warn("%v, using %s", moved, r.fallbackDir())
		log.Event("runtime_fallback", "dir", r.fallbackDir(), "lock", rl.Path(), "error", moved)
	}
	return rl, log, nil
}

func (r *Runner) fallbackDir() string {
	if r.cfg.FallbackDir != "" {
		return r.cfg.FallbackDir
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("hardn-%d", os.Geteuid()))
}

// deps wires the engine services for phases.
func (r *Runner) deps(log *progress.Logger) Deps {
	app := r.cfg.App
	attempts := app.MaxAttempts
	if r.cfg.MaxAttempts > 0 {
		attempts = r.cfg.MaxAttempts
	}
	avail := executor.NewAvailability(r.cfg.CommandRunner, app.Substitutions, log)
	avail.SetTimeout(app.ProbeTimeout())
	ex := executor.New(executor.Options{
		Runner:       r.cfg.CommandRunner,
		Availability: avail,
		Log:          log,
		MaxAttempts:  attempts,
		Timeout:      app.CommandTimeout(),
		BaseDelay:    app.RetryBaseDelay(),
		MaxDelay:     app.RetryMaxDelay(),
	})
	log.Event("executor_ready", "attempts", attempts, "substitutions", strings.Join(avail.Substitutions(), ","))
	return Deps{Config: app, Executor: ex, Backup: backup.NewStore(log), Log: log}
}

// classify maps the sequencer result to an outcome and exit code.
// signals win over everything, then fatal pre-flight, then any failed phase.
func classify(ctx context.Context, runErr error, c status.Counts) (string, int) {
	var sigErr *SignalError
	if errors.As(context.Cause(ctx), &sigErr) {
		return OutcomeInterrupted, sigErr.ExitCode()
	}
	if ctx.Err() != nil {
		return OutcomeInterrupted, ExitSignalDefault
	}
	var fatal *processor.FatalPreflightError
	if errors.As(runErr, &fatal) {
		return OutcomeFatal, ExitFatal
	}
	if runErr != nil || c.Failed > 0 {
		return OutcomeFailure, ExitFailed
	}
	return OutcomeSuccess, ExitOK
}

// report prints the summary, writes report.yaml and sends notifications. all of it is best-effort.
func (r *Runner) report(ctx context.Context, log *progress.Logger, rep Report) {
	log.PrintSection(status.NewGenericSection("final report"))
	out, err := render.RenderMarkdown(rep.Markdown(), r.cfg.NoColor, 0)
	if err != nil {
		log.Warn("render report: %v", err)
		out = rep.Markdown()
	}
	log.PrintRaw("%s\n", strings.TrimRight(out, "\n"))

	path, err := rep.WriteYAML(filepath.Dir(log.Path()))
	if err != nil {
		log.Warn("%v", err)
	}
	log.Event("run_report", "outcome", rep.Outcome, "exit", rep.ExitCode, "success", rep.Counts.Success,
		"failed", rep.Counts.Failed, "pending", rep.Counts.Pending, "report", path)

	svc, err := notify.New(r.cfg.App.NotifyParams(), log)
	if err != nil {
		log.Warn("notifications disabled: %v", err)
		return
	}
	nr := notify.Result{
		Status:       notify.StatusSuccess,
		RunID:        rep.RunID,
		Duration:     rep.Duration,
		Phases:       len(rep.Phases),
		Succeeded:    rep.Counts.Success,
		Failed:       rep.Counts.Failed,
		Pending:      rep.Counts.Pending + rep.Counts.InProgress,
		FailedPhases: rep.FailedPhases(),
		LogFile:      rep.LogFile,
		Error:        rep.Error,
	}
	if rep.Outcome != OutcomeSuccess {
		nr.Status = notify.StatusFailure
	}
	// the run context may already be cancelled by a signal
	svc.Send(context.WithoutCancel(ctx), nr)
}
