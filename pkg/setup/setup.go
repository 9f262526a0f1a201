// Package setup defines the host setup phases run by hardn: pre-flight checks, a config
// snapshot, package index refresh, package installs, automatic updates, sshd hardening
// and the firewall.
package setup

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/serverprep/hardn/pkg/backup"
	"github.com/serverprep/hardn/pkg/config"
	"github.com/serverprep/hardn/pkg/executor"
	"github.com/serverprep/hardn/pkg/processor"
)

// Logger receives structured events.
type Logger interface {
	Event(event string, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Event(string, ...any) {}

// Deps are the services the phases use.
type Deps struct {
	Exec   *executor.Executor
	Backup *backup.Store
	Log    Logger
	Root   string     // filesystem prefix for managed files, empty for /
	Euid   func() int // nil uses os.Geteuid
}

// errPartial marks a phase that applied some but not all of its changes.
var errPartial = errors.New("partially applied")

// aptEnv keeps package tools from prompting.
var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive", "NEEDRESTART_MODE=a"}

// managed file locations, relative to Deps.Root.
const (
	sshDropIn       = "/etc/ssh/sshd_config.d/10-hardn.conf"
	autoUpgradesCfg = "/etc/apt/apt.conf.d/20auto-upgrades"
)

// host carries the resolved dependencies shared by all phase steps.
type host struct {
	cfg  *config.Config
	exec *executor.Executor
	bak  *backup.Store
	log  Logger
	root string
	euid func() int
}

// Phases returns the setup phases in dependency order.
func Phases(cfg *config.Config, d Deps) []processor.Phase {
	h := &host{cfg: cfg, exec: d.Exec, bak: d.Backup, log: d.Log, root: d.Root, euid: d.Euid}
	if h.log == nil {
		h.log = nopLogger{}
	}
	if h.euid == nil {
		h.euid = os.Geteuid
	}

	return []processor.Phase{
		{Name: "preflight", Title: "Pre-flight Checks", Fatal: true, Run: processor.ErrStep(h.preflight)},
		{Name: "snapshot", Title: "Configuration Snapshot", Run: processor.ErrStep(h.snapshot)},
		{Name: "update", Title: "Package Index Update", Run: processor.ErrStep(h.update)},
		{Name: "packages", Title: "Package Installation", Reports: true, Run: processor.ErrStep(h.packages)},
		{Name: "autoupdates", Title: "Automatic Security Updates", Run: processor.ErrStep(h.autoUpdates)},
		{Name: "ssh", Title: "SSH Hardening", Run: processor.ErrStep(h.ssh)},
		{Name: "firewall", Title: "Firewall", Run: processor.ErrStep(h.firewall)},
	}
}

// path maps an absolute host path under the root prefix.
func (h *host) path(p string) string {
	if h.root == "" {
		return p
	}
	return filepath.Join(h.root, p)
}
