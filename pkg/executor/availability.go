package executor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultProbeTimeout bounds a single availability probe.
const DefaultProbeTimeout = 5 * time.Second

// probeEntry holds the cached availability of one tool.
type probeEntry struct {
	once     sync.Once
	ok       bool
	probed   atomic.Bool // set after ok is written
	disabled atomic.Bool
}

// Availability caches whether alternative tools are installed and working.
// each tool is probed at most once per run, and a negative result is permanent.
type Availability struct {
	runner    CommandRunner
	log       Logger
	timeout   time.Duration
	subs      map[string]string   // baseline tool -> faster alternative
	probeArgs map[string][]string // tool -> side-effect free args, default --version

	mu      sync.Mutex
	entries map[string]*probeEntry
}

// NewAvailability makes an availability cache for the given substitution table (baseline -> alternative).
func NewAvailability(runner CommandRunner, subs map[string]string, log Logger) *Availability {
	if runner == nil {
		runner = &execCommandRunner{}
	}
	if log == nil {
		log = nopLogger{}
	}
	table := make(map[string]string, len(subs))
	for k, v := range subs {
		if k != "" && v != "" && k != v {
			table[k] = v
		}
	}
	return &Availability{
		runner:    runner,
		log:       log,
		timeout:   DefaultProbeTimeout,
		subs:      table,
		probeArgs: map[string][]string{},
		entries:   map[string]*probeEntry{},
	}
}

// SetProbeArgs overrides the verification arguments for tool.
func (a *Availability) SetProbeArgs(tool string, args ...string) {
	a.mu.Lock()
	a.probeArgs[tool] = args
	a.mu.Unlock()
}

// SetTimeout overrides the probe timeout.
func (a *Availability) SetTimeout(d time.Duration) {
	if d > 0 {
		a.timeout = d
	}
}

// Alternative returns the faster front-end registered for a baseline tool.
func (a *Availability) Alternative(tool string) (string, bool) {
	alt, ok := a.subs[tool]
	return alt, ok
}

// Substitutions returns the table as sorted "baseline=alternative" pairs.
func (a *Availability) Substitutions() []string {
	res := make([]string, 0, len(a.subs))
	for k, v := range a.subs {
		res = append(res, k+"="+v)
	}
	sort.Strings(res)
	return res
}

// Probe reports whether tool is installed and functioning. the first call runs
// "<tool> <probe args>" with a short timeout; concurrent and later calls reuse the result.
func (a *Availability) Probe(ctx context.Context, tool string) bool {
	e := a.entry(tool)
	e.once.Do(func() {
		if e.disabled.Load() {
			return
		}
		e.ok = a.probe(ctx, tool)
		e.probed.Store(true)
	})
	return e.ok && !e.disabled.Load()
}

// Disable marks tool as unusable for the rest of the run, whether or not it was probed.
func (a *Availability) Disable(tool string) {
	e := a.entry(tool)
	e.disabled.Store(true)
	e.once.Do(func() {})
}

// Known returns the cached result for tool and whether it was determined already.
func (a *Availability) Known(tool string) (available, determined bool) {
	a.mu.Lock()
	e, ok := a.entries[tool]
	a.mu.Unlock()
	if !ok {
		return false, false
	}
	if e.disabled.Load() {
		return false, true
	}
	if !e.probed.Load() {
		return false, false
	}
	return e.ok, true
}

func (a *Availability) entry(tool string) *probeEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[tool]
	if !ok {
		e = &probeEntry{}
		a.entries[tool] = e
	}
	return e
}

func (a *Availability) probe(ctx context.Context, tool string) bool {
	a.mu.Lock()
	args, ok := a.probeArgs[tool]
	a.mu.Unlock()
	if !ok {
		args = []string{"--version"}
	}

	pctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.runner.Run(pctx, Command{Name: tool, Args: args})
	ok = err == nil && out.ExitCode == 0
	a.log.Event("tool_probe", "tool", tool, "available", ok, "exit", out.ExitCode, "err", err)
	return ok
}
