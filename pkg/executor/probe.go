package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// probe pool bounds, checks are read-only so a small pool is enough.
const (
	minProbeWorkers = 2
	maxProbeWorkers = 8
)

// Check is a read-only, idempotent question about the host, e.g. "is package X installed".
type Check struct {
	Name string
	Fn   func(ctx context.Context) (bool, error)
}

// CheckResult is the answer to a Check.
type CheckResult struct {
	Name string
	OK   bool
	Err  error
}

// ProbeAll runs checks over a bounded worker pool and returns results in input order,
// independent of completion order. a failing check doesn't cancel the others.
func ProbeAll(ctx context.Context, checks []Check, workers int) []CheckResult {
	workers = max(minProbeWorkers, min(workers, maxProbeWorkers))
	results := make([]CheckResult, len(checks))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, c := range checks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = CheckResult{Name: c.Name, Err: err}
				return nil
			}
			ok, err := c.Fn(ctx)
			results[i] = CheckResult{Name: c.Name, OK: ok, Err: err}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, failures live in results

	return results
}

// CommandCheck makes a Check that passes when argv exits with zero. it runs once, without retries.
func CommandCheck(e *Executor, name string, argv ...string) Check {
	return Check{
		Name: name,
		Fn: func(ctx context.Context) (bool, error) {
			res, err := e.Execute(ctx, CommandSpec{Argv: argv, MaxAttempts: 1, AllowFailure: true, NoSubstitute: true})
			if err != nil {
				return false, err
			}
			return res.OK(), nil
		},
	}
}
