package setup

import (
	"context"
	"fmt"
	"strings"

	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/executor"
)

// packages installs configured packages that dpkg doesn't report as installed.
// installation is per package, one broken package doesn't block the rest.
func (h *host) packages(ctx context.Context, p display.Progress) error {
	want := h.cfg.Packages
	if len(want) == 0 {
		p.Describe("no packages configured")
		return nil
	}

	missing, err := h.missingPackages(ctx, want)
	if err != nil {
		return err
	}
	p.Set(10)
	if len(missing) == 0 {
		p.Describe(fmt.Sprintf("all %d packages already installed", len(want)))
		return nil
	}

	var failed []string
	for i, pkg := range missing {
		p.Describe("installing " + pkg)
		_, err := h.exec.Execute(ctx, executor.CommandSpec{
			Argv: []string{"apt-get", "install", "-y", "--no-install-recommends", pkg},
			Env:  aptEnv,
		})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("install %s: %w", pkg, err)
			}
			failed = append(failed, pkg)
		}
		p.Set(10 + 90*float64(i+1)/float64(len(missing)))
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d packages failed: %s", errPartial, len(failed), len(missing), strings.Join(failed, ", "))
	}
	return nil
}

// missingPackages probes every package concurrently, results keep the configured order.
func (h *host) missingPackages(ctx context.Context, want []string) ([]string, error) {
	checks := make([]executor.Check, 0, len(want))
	for _, pkg := range want {
		checks = append(checks, executor.CommandCheck(h.exec, pkg, "dpkg", "-s", pkg))
	}
	var missing []string
	for _, r := range executor.ProbeAll(ctx, checks, h.cfg.ProbeWorkers) {
		if r.Err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("probe packages: %w", ctx.Err())
		}
		if !r.OK {
			missing = append(missing, r.Name)
		}
	}
	h.log.Event("packages_probed", "wanted", len(want), "missing", missing)
	return missing, nil
}
