package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/serverprep/hardn/pkg/processor"
	"github.com/serverprep/hardn/pkg/render"
	"github.com/serverprep/hardn/pkg/status"
)

// run outcomes written to the report and used to pick notifications.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeFatal       = "fatal"
	OutcomeInterrupted = "interrupted"
)

// ReportFile is the report name written next to the run log.
const ReportFile = "report.yaml"

// PhaseReport is one row of the final report.
type PhaseReport struct {
	Name     string       `yaml:"name"`
	Title    string       `yaml:"title"`
	State    status.State `yaml:"state"`
	Message  string       `yaml:"message,omitempty"`
	Duration string       `yaml:"duration,omitempty"`
}

// Report summarizes a finished run.
type Report struct {
	RunID    string        `yaml:"run_id"`
	Host     string        `yaml:"host"`
	Version  string        `yaml:"version"`
	Started  time.Time     `yaml:"started"`
	Duration string        `yaml:"duration"`
	Outcome  string        `yaml:"outcome"`
	ExitCode int           `yaml:"exit_code"`
	Counts   status.Counts `yaml:"counts"`
	Phases   []PhaseReport `yaml:"phases"`
	LogFile  string        `yaml:"log_file,omitempty"`
	Error    string        `yaml:"error,omitempty"`
}

// BuildPhaseReports lists every declared phase with its registry entry.
// phases the sequencer never reached have no entry and are reported pending.
func BuildPhaseReports(phases []processor.Phase, reg *status.Registry) ([]PhaseReport, status.Counts) {
	res := make([]PhaseReport, 0, len(phases))
	var c status.Counts
	for _, ph := range phases {
		pr := PhaseReport{Name: ph.Name, Title: ph.DisplayTitle(), State: status.Pending}
		if st, ok := reg.Get(ph.Name); ok {
			pr.State = st.State
			pr.Message = st.Message
			if d := st.Duration(); d > 0 {
				pr.Duration = d.Round(time.Millisecond).String()
			}
		}
		switch pr.State {
		case status.Success:
			c.Success++
		case status.Failed:
			c.Failed++
		case status.InProgress:
			c.InProgress++
		default:
			c.Pending++
		}
		res = append(res, pr)
	}
	return res, c
}

// FailedPhases returns names of failed phases in order.
func (r Report) FailedPhases() []string {
	var res []string
	for _, p := range r.Phases {
		if p.State == status.Failed {
			res = append(res, p.Name)
		}
	}
	return res
}

// Markdown renders the report as a markdown table with a summary line.
func (r Report) Markdown() string {
	rows := make([][]string, 0, len(r.Phases))
	for i, p := range r.Phases {
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), p.Title, p.State.Label(), p.Duration, p.Message})
	}

	var b strings.Builder
	b.WriteString("## hardn report\n\n")
	b.WriteString(render.Table([]string{"#", "phase", "status", "duration", "message"}, rows))
	fmt.Fprintf(&b, "\n**%d ok, %d failed, %d pending** in %s, exit code %d\n",
		r.Counts.Success, r.Counts.Failed, r.Counts.Pending+r.Counts.InProgress, r.Duration, r.ExitCode)
	if r.Error != "" {
		fmt.Fprintf(&b, "\nerror: `%s`\n", r.Error)
	}
	if r.LogFile != "" {
		fmt.Fprintf(&b, "\nlog: `%s`\n", r.LogFile)
	}
	return b.String()
}

// WriteYAML writes the report to dir/report.yaml and returns the path.
func (r Report) WriteYAML(dir string) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
