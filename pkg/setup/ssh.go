package setup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/serverprep/hardn/pkg/config"
	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/executor"
)

// sshdConfig renders the hardening drop-in.
func sshdConfig(cfg *config.Config) []byte {
	var b strings.Builder
	b.WriteString("# managed by hardn, local changes are overwritten\n")
	fmt.Fprintf(&b, "Port %d\n", cfg.SSHPort)
	b.WriteString("PermitRootLogin no\n")
	b.WriteString("PasswordAuthentication no\n")
	b.WriteString("KbdInteractiveAuthentication no\n")
	b.WriteString("X11Forwarding no\n")
	b.WriteString("MaxAuthTries 3\n")
	if cfg.AdminUser != "" {
		fmt.Fprintf(&b, "AllowUsers %s\n", cfg.AdminUser)
	}
	return []byte(b.String())
}

// ssh installs the sshd drop-in. the old file is a sensitive backup, no backup means no write.
// a config sshd rejects is rolled back before the daemon is reloaded.
func (h *host) ssh(ctx context.Context, p display.Progress) error {
	path := h.path(sshDropIn)
	prev, err := os.ReadFile(path) //nolint:gosec // fixed path under root
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	p.Describe("writing " + sshDropIn)
	changed, err := h.bak.WriteFile(path, sshdConfig(h.cfg), 0o600, true)
	if err != nil {
		return fmt.Errorf("write sshd drop-in: %w", err)
	}
	if !changed {
		p.Describe("sshd drop-in up to date")
		return nil
	}

	p.Describe("validating sshd config")
	if _, err := h.exec.Execute(ctx, executor.CommandSpec{Argv: []string{"sshd", "-t"}, MaxAttempts: 1, NoSubstitute: true}); err != nil {
		if rerr := restore(path, prev, existed); rerr != nil {
			return fmt.Errorf("sshd rejected config (%w), restore failed: %w", err, rerr)
		}
		h.log.Event("sshd_config_restored", "path", path)
		return fmt.Errorf("sshd rejected config, previous restored: %w", err)
	}

	p.Describe("reloading sshd")
	if _, err := h.exec.Execute(ctx, executor.CommandSpec{Argv: []string{"systemctl", "reload", "ssh"}}); err != nil {
		return fmt.Errorf("reload sshd: %w", err)
	}
	return nil
}

// restore puts back prev, or removes path if it didn't exist before.
func restore(path string, prev []byte, existed bool) error {
	if !existed {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}
	if err := os.WriteFile(path, prev, 0o600); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	return nil
}

// autoUpgradeLines enable daily list refresh and unattended upgrades.
var autoUpgradeLines = []string{
	`APT::Periodic::Update-Package-Lists "1";`,
	`APT::Periodic::Unattended-Upgrade "1";`,
}

// autoUpdates makes sure unattended-upgrades is switched on. lines already present are left alone.
func (h *host) autoUpdates(_ context.Context, p display.Progress) error {
	path := h.path(autoUpgradesCfg)
	added := 0
	for _, line := range autoUpgradeLines {
		changed, err := h.bak.EnsureLine(path, line, false)
		if err != nil {
			return fmt.Errorf("update %s: %w", autoUpgradesCfg, err)
		}
		if changed {
			added++
		}
	}
	p.Describe(fmt.Sprintf("%d line(s) added to %s", added, autoUpgradesCfg))
	return nil
}
