package processor

import (
	"fmt"
	"sync"

	"github.com/serverprep/hardn/pkg/status"
)

// stubLogger records everything the sequencer logs.
type stubLogger struct {
	mu       sync.Mutex
	prints   []string
	warns    []string
	sections []status.Section
	events   []string
}

func (s *stubLogger) Print(f string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prints = append(s.prints, fmt.Sprintf(f, a...))
}

func (s *stubLogger) Warn(f string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warns = append(s.warns, fmt.Sprintf(f, a...))
}

func (s *stubLogger) PrintSection(sec status.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections = append(s.sections, sec)
}

func (s *stubLogger) Event(event string, _ ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// countingRenderer tracks how many renderers are live at once.
type countingRenderer struct {
	mu      sync.Mutex
	percent float64
	live    *liveCounter
	title   string
}

type liveCounter struct {
	mu      sync.Mutex
	cur     int
	peak    int
	created int
	stopped int
}

func (l *liveCounter) factory() func() *countingRenderer {
	return func() *countingRenderer {
		l.mu.Lock()
		l.created++
		l.mu.Unlock()
		return &countingRenderer{live: l}
	}
}

func (r *countingRenderer) Start(title string) {
	r.title = title
	r.live.mu.Lock()
	r.live.cur++
	r.live.peak = max(r.live.peak, r.live.cur)
	r.live.mu.Unlock()
}

func (r *countingRenderer) Set(p float64) {
	r.mu.Lock()
	r.percent = p
	r.mu.Unlock()
}

func (r *countingRenderer) Percent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent
}

func (r *countingRenderer) Describe(string) {}
func (r *countingRenderer) Finish()         {}

func (r *countingRenderer) Stop() {
	r.live.mu.Lock()
	r.live.cur--
	r.live.stopped++
	r.live.mu.Unlock()
}
