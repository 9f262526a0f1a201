package setup

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/serverprep/hardn/pkg/display"
	"github.com/serverprep/hardn/pkg/executor"
)

// firewall sets ufw defaults, allows ssh and the configured rules, then enables ufw.
// existing allow rules are not re-added, an active firewall is not re-enabled.
func (h *host) firewall(ctx context.Context, p display.Progress) error {
	ufw := func(args ...string) (executor.Result, error) {
		return h.exec.Execute(ctx, executor.CommandSpec{Argv: append([]string{"ufw"}, args...), NoSubstitute: true})
	}

	p.Describe("reading ufw status")
	st, err := h.exec.Execute(ctx, executor.CommandSpec{Argv: []string{"ufw", "status"}, MaxAttempts: 1, AllowFailure: true})
	if err != nil {
		return fmt.Errorf("ufw status: %w", err)
	}
	active := strings.Contains(st.Stdout, "Status: active")

	for _, args := range [][]string{{"default", "deny", "incoming"}, {"default", "allow", "outgoing"}} {
		if _, err := ufw(args...); err != nil {
			return fmt.Errorf("ufw %s: %w", strings.Join(args, " "), err)
		}
	}

	rules := firewallRules(h.cfg.SSHPort, h.cfg.FirewallAllow)
	for _, rule := range rules {
		if hasAllowRule(st.Stdout, rule) {
			h.log.Event("firewall_rule_skipped", "rule", rule)
			continue
		}
		p.Describe("allowing " + rule)
		if _, err := ufw("allow", rule); err != nil {
			return fmt.Errorf("ufw allow %s: %w", rule, err)
		}
	}

	if active {
		p.Describe("ufw already active")
		return nil
	}
	p.Describe("enabling ufw")
	if _, err := ufw("--force", "enable"); err != nil {
		return fmt.Errorf("enable ufw: %w", err)
	}
	return nil
}

// firewallRules puts the ssh port first so enabling never locks out the session.
func firewallRules(sshPort int, allow []string) []string {
	rules := []string{fmt.Sprintf("%d/tcp", sshPort)}
	for _, r := range allow {
		if r = strings.TrimSpace(r); r != "" && !slices.Contains(rules, r) {
			rules = append(rules, r)
		}
	}
	return rules
}

// hasAllowRule reports whether "ufw status" output lists rule as ALLOW.
func hasAllowRule(statusOut, rule string) bool {
	for line := range strings.SplitSeq(statusOut, "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] == rule && f[1] == "ALLOW" {
			return true
		}
	}
	return false
}
