package display

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// barScale is the bar's internal resolution, 1000 steps give smooth movement for fractional percents.
const barScale = 1000

// NewRenderer returns a bar renderer for terminals and a line-oriented one otherwise.
func NewRenderer(f *os.File) Renderer {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewBarRenderer(f, terminalWidth(f))
	}
	return NewPlainRenderer(f)
}

// terminalWidth returns f's width, 80 if unknown.
func terminalWidth(f *os.File) int {
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// BarRenderer draws a single-line progress bar using schollz/progressbar.
type BarRenderer struct {
	mu       sync.Mutex
	w        io.Writer
	width    int
	title    string
	bar      *progressbar.ProgressBar
	percent  float64
	finished bool
}

// NewBarRenderer makes a bar renderer for a terminal of the given width.
func NewBarRenderer(w io.Writer, termWidth int) *BarRenderer {
	return &BarRenderer{w: w, width: termWidth}
}

// Start creates the bar and draws its empty state.
func (b *BarRenderer) Start(title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.title = title
	b.percent = 0
	b.finished = false
	b.bar = progressbar.NewOptions(barScale,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(title),
		progressbar.OptionSetWidth(b.barWidth(title)),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(b.w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]",
		}),
	)
}

// barWidth leaves room for the title and the percent/elapsed suffix.
func (b *BarRenderer) barWidth(title string) int {
	w := b.width - len(title) - 24
	return max(10, min(w, 50))
}

// Set moves the bar to percent, clamped to [0, 100].
func (b *BarRenderer) Set(percent float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil || b.finished {
		return
	}
	percent = max(0, min(percent, 100))
	b.percent = percent
	_ = b.bar.Set(int(percent * barScale / 100))
}

// Percent returns the last value set.
func (b *BarRenderer) Percent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

// Describe appends text to the bar's title.
func (b *BarRenderer) Describe(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil || b.finished {
		return
	}
	b.bar.Describe(b.title + ": " + text)
}

// Finish completes the bar at 100%.
func (b *BarRenderer) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil || b.finished {
		return
	}
	b.percent = 100
	b.finished = true
	_ = b.bar.Finish()
}

// Stop releases the terminal line. an unfinished bar is left at its current state.
func (b *BarRenderer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return
	}
	if !b.finished {
		_ = b.bar.Exit()
		fmt.Fprintln(b.w)
	}
	b.bar = nil
}

// PlainRenderer writes one line per start, description and finish. used when output isn't a terminal.
type PlainRenderer struct {
	mu      sync.Mutex
	w       io.Writer
	title   string
	started time.Time
	percent float64
	active  bool
	now     func() time.Time
}

// NewPlainRenderer makes a line-oriented renderer.
func NewPlainRenderer(w io.Writer) *PlainRenderer {
	return &PlainRenderer{w: w, now: time.Now}
}

var arrowColor = color.New(color.FgCyan, color.Bold)

// Start prints the title line.
func (p *PlainRenderer) Start(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
	p.started = p.now()
	p.percent = 0
	p.active = true
	fmt.Fprintf(p.w, "%s %s\n", arrowColor.Sprint("==>"), title)
}

// Set records percent without output.
func (p *PlainRenderer) Set(percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = max(0, min(percent, 100))
}

// Percent returns the last value set.
func (p *PlainRenderer) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// Describe prints an indented detail line.
func (p *PlainRenderer) Describe(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	fmt.Fprintf(p.w, "    %s\n", text)
}

// Finish prints the completion line.
func (p *PlainRenderer) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	p.percent = 100
	fmt.Fprintf(p.w, "    done in %s\n", p.now().Sub(p.started).Round(time.Millisecond))
}

// Stop deactivates the renderer.
func (p *PlainRenderer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
}
