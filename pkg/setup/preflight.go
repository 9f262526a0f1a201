package setup

import (
	"context"
	"fmt"
	"strings"

	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/executor"
)

// preflight fails unless the process is root, dpkg works and the mirror host resolves.
func (h *host) preflight(ctx context.Context, p display.Progress) error {
	p.Describe("checking privileges, tools and network")
	checks := []executor.Check{
		{Name: "root", Fn: func(context.Context) (bool, error) { return h.euid() == 0, nil }},
		executor.CommandCheck(h.exec, "dpkg", "dpkg", "--version"),
		executor.CommandCheck(h.exec, "network", "getent", "hosts", h.cfg.NetworkCheckHost),
	}

	var failed []string
	for _, r := range executor.ProbeAll(ctx, checks, h.cfg.ProbeWorkers) {
		h.log.Event("preflight_check", "check", r.Name, "ok", r.OK, "err", r.Err)
		switch {
		case r.Err != nil:
			failed = append(failed, fmt.Sprintf("%s (%v)", r.Name, r.Err))
		case !r.OK:
			failed = append(failed, r.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("pre-flight checks failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

// snapshot archives the configured paths once, before anything is changed.
func (h *host) snapshot(_ context.Context, p display.Progress) error {
	if len(h.cfg.SnapshotPaths) == 0 {
		p.Describe("snapshot disabled")
		return nil
	}
	paths := make([]string, 0, len(h.cfg.SnapshotPaths))
	for _, sp := range h.cfg.SnapshotPaths {
		paths = append(paths, h.path(sp))
	}
	out, err := h.bak.Snapshot(paths, h.path(h.cfg.BackupDir))
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	p.Describe(out)
	return nil
}

// update refreshes the package index. apt-get is swapped for a faster front-end when configured.
func (h *host) update(ctx context.Context, p display.Progress) error {
	p.Describe("refreshing package lists")
	res, err := h.exec.Execute(ctx, executor.CommandSpec{Argv: []string{"apt-get", "update"}, Env: aptEnv})
	if err != nil {
		return fmt.Errorf("update package index: %w", err)
	}
	p.Describe(fmt.Sprintf("%s done after %d attempt(s)", strings.Join(res.Argv, " "), res.Attempts))
	return nil
}
