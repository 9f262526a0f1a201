// Package main provides hardn, an unattended server setup and hardening run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/serverprep/hardn/pkg/config"
	"github.com/serverprep/hardn/pkg/processor"
	"github.com/serverprep/hardn/pkg/render"
	"github.com/serverprep/hardn/pkg/runner"
	"github.com/serverprep/hardn/pkg/setup"
)

// opts holds all command-line options.
type opts struct {
	Config    string   `short:"c" long:"config" env:"HARDN_CONFIG" description:"local config file, overrides the global one"`
	ConfigDir string   `long:"config-dir" env:"HARDN_CONFIG_DIR" default:"/etc/hardn" description:"global config directory"`
	DryRun    bool     `short:"n" long:"dry-run" description:"print the phase plan and exit"`
	Only      []string `short:"o" long:"only" description:"run only these phases (repeatable or comma-separated), pre-flight always runs"`
	Attempts  int      `short:"a" long:"attempts" description:"max attempts per command, overrides config"`
	NoColor   bool     `long:"no-color" description:"disable color output"`
	Version   bool     `short:"v" long:"version" description:"print version and exit"`
}

var revision = "unknown"

func main() {
	var o opts
	parser := flags.NewParser(&o, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(runner.ExitFailed)
	}

	if o.Version {
		fmt.Printf("hardn %s\n", revision)
		os.Exit(0)
	}

	restoreTerm := quietTerminal()
	ctx, stop := runner.WatchSignals(context.Background())
	code := run(ctx, o, os.Stdout)
	stop()
	restoreTerm()
	os.Exit(code)
}

// run loads config and either prints the plan or executes it, returning the exit code.
func run(ctx context.Context, o opts, out io.Writer) int {
	cfg, err := config.Load(o.ConfigDir, o.Config)
	if err != nil {
		fmt.Fprintf(out, "ERROR: load config: %v\n", err)
		return runner.ExitFailed
	}
	only := splitOnly(o.Only)

	if o.DryRun {
		if err := printPlan(out, cfg, only, o); err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			return runner.ExitFailed
		}
		return runner.ExitOK
	}

	fmt.Fprintf(out, "hardn %s\n", revision)
	r := runner.New(runner.Config{
		App:         cfg,
		Phases:      setupPhases,
		Only:        only,
		MaxAttempts: o.Attempts,
		NoColor:     o.NoColor,
		Version:     revision,
		Stdout:      out,
	})
	return r.Run(ctx)
}

// setupPhases adapts the engine services to the setup phases.
func setupPhases(d runner.Deps) []processor.Phase {
	return setup.Phases(d.Config, setup.Deps{Exec: d.Executor, Backup: d.Backup, Log: d.Log})
}

// splitOnly flattens repeated and comma-separated --only values.
func splitOnly(vals []string) []string {
	var res []string
	for _, v := range vals {
		for p := range strings.SplitSeq(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				res = append(res, p)
			}
		}
	}
	return res
}

// printPlan shows the phases a run would execute and the settings that shape it.
func printPlan(out io.Writer, cfg *config.Config, only []string, o opts) error {
	phases, err := runner.FilterPhases(setup.Phases(cfg, setup.Deps{}), only)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(phases))
	for i, ph := range phases {
		var attrs []string
		if ph.Fatal {
			attrs = append(attrs, "fatal")
		}
		if ph.Reports {
			attrs = append(attrs, "reports progress")
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), ph.Name, ph.DisplayTitle(), strings.Join(attrs, ", ")})
	}

	attempts := cfg.MaxAttempts
	if o.Attempts > 0 {
		attempts = o.Attempts
	}
	subs := "none"
	if len(cfg.Substitutions) > 0 {
		pairs := make([]string, 0, len(cfg.Substitutions))
		for k, v := range cfg.Substitutions {
			pairs = append(pairs, k+" -> "+v)
		}
		slices.Sort(pairs)
		subs = strings.Join(pairs, ", ")
	}

	var b strings.Builder
	b.WriteString("## hardn plan\n\n")
	b.WriteString(render.Table([]string{"#", "name", "phase", "attributes"}, rows))
	b.WriteString("\n")
	fmt.Fprintf(&b, "- attempts per command: %d, timeout %s\n", attempts, cfg.CommandTimeout())
	fmt.Fprintf(&b, "- substitutions: %s\n", subs)
	fmt.Fprintf(&b, "- log dir: `%s`, backups: `%s`\n", cfg.LogDir, cfg.BackupDir)

	md, err := render.RenderMarkdown(b.String(), o.NoColor, 0)
	if err != nil {
		return fmt.Errorf("render plan: %w", err)
	}
	fmt.Fprint(out, md)
	return nil
}
