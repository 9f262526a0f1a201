// Package progress writes the run log: an append-only file of key=value events and a
// colored, timestamped console echo for the lines an operator should see.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/serverprep/hardn/pkg/status"
)

// Level is the severity written with every file line.
type Level string

// levels used in the run log.
const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger writes structured events to the run log file and human lines to the console.
// file and console have separate locks so a slow terminal never delays the file.
type Logger struct {
	fileMu sync.Mutex
	file   *os.File
	path   string

	consoleMu sync.Mutex
	stdout    io.Writer

	colors    *Colors
	runID     string
	startTime time.Time
	now       func() time.Time
}

// Config holds logger configuration.
type Config struct {
	Dir     string // directory for hardn-<timestamp>.log, created if missing
	Host    string
	Version string
	NoColor bool      // disable color output (sets color.NoColor globally)
	Colors  *Colors   // nil uses DefaultColors
	Stdout  io.Writer // console, nil uses os.Stdout
}

// fileStampLayout names log files, one per run.
const fileStampLayout = "20060102-150405"

// NewLogger creates the run log file and writes its header.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.NoColor {
		color.NoColor = true
	}

	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	started := time.Now()
	path := filepath.Join(dir, logFilename(started))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600) //nolint:gosec // path derived from config dir
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	l := &Logger{
		file:      f,
		path:      path,
		stdout:    os.Stdout,
		colors:    cfg.Colors,
		runID:     uuid.NewString(),
		startTime: started,
		now:       time.Now,
	}

	if l.colors == nil {
		l.colors = DefaultColors()
	}
	if cfg.Stdout != nil {
		l.stdout = cfg.Stdout
	}

	l.writeFile("# hardn run log\n")
	l.writeFile("Run: %s\n", l.runID)
	l.writeFile("Host: %s\n", cfg.Host)
	l.writeFile("Version: %s\n", cfg.Version)
	l.writeFile("Started: %s\n", started.Format("2006-01-02 15:04:05"))
	l.writeFile("%s\n", strings.Repeat("-", 60))
	return l, nil
}

// Path returns the log file path.
func (l *Logger) Path() string { return l.path }

// RunID returns the identifier written in the log header.
func (l *Logger) RunID() string { return l.runID }

// timestampFormat is the console format: YY-MM-DD HH:MM:SS
const timestampFormat = "06-01-02 15:04:05"

// Event writes a structured info line to the file only. kv are alternating keys and values.
func (l *Logger) Event(event string, kv ...any) {
	l.EventLevel(LevelInfo, event, kv...)
}

// EventLevel writes a structured line with the given level to the file only.
func (l *Logger) EventLevel(level Level, event string, kv ...any) {
	l.writeFile("%s\n", formatLine(l.now(), level, event, kv))
}

// Print writes a message event to the file and a timestamped line to the console.
func (l *Logger) Print(format string, args ...any) {
	l.message(LevelInfo, l.colors.info, "", format, args...)
}

// Warn writes a warning in yellow.
func (l *Logger) Warn(format string, args ...any) {
	l.message(LevelWarn, l.colors.warn, "WARN: ", format, args...)
}

// Error writes an error message in red.
func (l *Logger) Error(format string, args ...any) {
	l.message(LevelError, l.colors.err, "ERROR: ", format, args...)
}

func (l *Logger) message(level Level, c *color.Color, prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := l.now()
	l.writeFile("%s\n", formatLine(ts, level, "message", []any{"msg", msg}))

	tsStr := l.colors.timestamp.Sprintf("[%s]", ts.Format(timestampFormat))
	indent := strings.Repeat(" ", 20) // aligns with "[YY-MM-DD HH:MM:SS] "
	for i, line := range strings.Split(wrapText(prefix+msg, getTerminalWidth()), "\n") {
		if i == 0 {
			l.writeStdout("%s %s\n", tsStr, c.Sprint(line))
			continue
		}
		l.writeStdout("%s%s\n", indent, c.Sprint(line))
	}
}

// PrintSection writes a section header. phase sections are cyan, generic ones magenta.
func (l *Logger) PrintSection(s status.Section) {
	kv := []any{"label", s.Label}
	if s.Type == status.SectionPhase {
		kv = append(kv, "index", s.Index, "total", s.Total)
	}
	l.writeFile("%s\n", formatLine(l.now(), LevelInfo, "section", kv))

	c := l.colors.section
	if s.Type == status.SectionPhase {
		c = l.colors.phase
	}
	l.writeStdout("\n%s\n", c.Sprintf("--- %s ---", s.Label))
}

// PrintRaw writes text to the console only, used for rendered reports.
func (l *Logger) PrintRaw(format string, args ...any) {
	l.writeStdout(format, args...)
}

// Elapsed returns formatted elapsed time since start.
func (l *Logger) Elapsed() string {
	return humanize.RelTime(l.startTime, l.now(), "", "")
}

// Close writes the footer and closes the file.
func (l *Logger) Close() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file == nil {
		return nil
	}

	now := l.now()
	fmt.Fprintf(l.file, "%s\n", formatLine(now, LevelInfo, "run_end", []any{"duration", now.Sub(l.startTime).Round(time.Millisecond)}))
	fmt.Fprintf(l.file, "%s\n", strings.Repeat("-", 60))
	fmt.Fprintf(l.file, "Completed: %s (%s)\n", now.Format("2006-01-02 15:04:05"), l.Elapsed())

	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

func (l *Logger) writeFile(format string, args ...any) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file != nil {
		fmt.Fprintf(l.file, format, args...)
	}
}

func (l *Logger) writeStdout(format string, args ...any) {
	l.consoleMu.Lock()
	defer l.consoleMu.Unlock()
	fmt.Fprintf(l.stdout, format, args...)
}

// formatLine renders "ts=... level=... event=... k=v ..." with values quoted when needed.
// nil values are dropped, a dangling key gets the value "!MISSING".
func formatLine(ts time.Time, level Level, event string, kv []any) string {
	var b strings.Builder
	b.WriteString("ts=")
	b.WriteString(ts.Format(time.RFC3339Nano))
	b.WriteString(" level=")
	b.WriteString(string(level))
	b.WriteString(" event=")
	b.WriteString(quote(event))
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var val any = "!MISSING"
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		if val == nil {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quote(formatValue(val)))
	}
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	case time.Duration:
		return val.String()
	case []string:
		return strings.Join(val, ",")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// quote wraps s in double quotes when it is empty or contains spaces, quotes, '=' or control chars.
func quote(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '"' || r == '=' || r == 0x7f {
			return strconv.Quote(s)
		}
	}
	return s
}

// getTerminalWidth returns terminal width, using COLUMNS env var or syscall.
// Defaults to 80 if detection fails. Returns content width (total - 20 for timestamp).
func getTerminalWidth() int {
	const minWidth = 40

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if w, err := strconv.Atoi(cols); err == nil && w > 0 {
			return max(w-20, minWidth)
		}
	}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return max(w-20, minWidth)
	}
	return 80 - 20
}

// wrapText wraps text to specified width, breaking on word boundaries.
func wrapText(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	var result strings.Builder
	lineLen := 0
	for i, word := range strings.Fields(text) {
		if i > 0 && lineLen+1+len(word) <= width {
			result.WriteString(" ")
			lineLen++
		} else if i > 0 {
			result.WriteString("\n")
			lineLen = 0
		}
		result.WriteString(word)
		lineLen += len(word)
	}
	return result.String()
}

// logFilename returns the per-run log file name.
func logFilename(started time.Time) string {
	return fmt.Sprintf("hardn-%s.log", started.Format(fileStampLayout))
}
