// Package display owns the terminal progress output. an Arbiter keeps at most one live
// renderer attached to the terminal, and runs steps with an optional animated bar for
// work that offers no progress signal of its own.
package display

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// illusion defaults: every tick the bar covers tickStep of the distance left to the ceiling.
const (
	DefaultTick     = 100 * time.Millisecond
	DefaultTickStep = 0.04
	DefaultCeiling  = 99.0
)

// Renderer draws progress for one step. implementations must be safe for concurrent
// use, the ticker and the step may both drive it.
type Renderer interface {
	Start(title string)
	Set(percent float64)
	Percent() float64
	Describe(text string)
	Finish()
	Stop()
}

// Progress is the narrow handle a step gets for reporting. steps never create renderers.
type Progress interface {
	Set(percent float64)
	Describe(text string)
}

// StepFunc is the work run under an attached renderer.
type StepFunc func(ctx context.Context, p Progress) error

// PanicError is returned by Run when the step panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("step panicked: %v", e.Value) }

// Arbiter is the single owner of the currently attached renderer.
type Arbiter struct {
	mu      sync.Mutex
	current Renderer

	tick    time.Duration
	step    float64
	ceiling float64
}

// Option configures an Arbiter.
type Option func(a *Arbiter)

// WithTick sets the illusion cadence and the fraction of remaining distance covered per tick.
func WithTick(every time.Duration, step float64) Option {
	return func(a *Arbiter) {
		if every > 0 {
			a.tick = every
		}
		if step > 0 && step < 1 {
			a.step = step
		}
	}
}

// NewArbiter makes an Arbiter with nothing attached.
func NewArbiter(opts ...Option) *Arbiter {
	a := &Arbiter{tick: DefaultTick, step: DefaultTickStep, ceiling: DefaultCeiling}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Attach stops the currently attached renderer, if any, then starts and stores r.
func (a *Arbiter) Attach(r Renderer, title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.current.Stop()
	}
	a.current = r
	r.Start(title)
}

// Detach stops and clears the attached renderer. it is a no-op when nothing is attached.
func (a *Arbiter) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return
	}
	a.current.Stop()
	a.current = nil
}

// Current returns the attached renderer or nil.
func (a *Arbiter) Current() Renderer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Run attaches r and executes fn on a worker goroutine. with animate set, a ticker goroutine
// advances r towards the ceiling while the worker runs; the bar says nothing about real
// progress. when the worker returns the ticker is stopped and joined,
// r is driven to 100% and detached. fn's error (or panic) is the only outcome.
func (a *Arbiter) Run(ctx context.Context, r Renderer, title string, animate bool, fn StepFunc) error {
	a.Attach(r, title)
	defer a.Detach()

	h := &handle{r: r}
	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if rec := recover(); rec != nil {
				err = &PanicError{Value: rec, Stack: debug.Stack()}
			}
			done <- err
		}()
		err = fn(ctx, h)
	}()

	stop := make(chan struct{})
	tickerDone := make(chan struct{})
	if animate {
		go func() {
			defer close(tickerDone)
			a.animate(h, stop)
		}()
	} else {
		close(tickerDone)
	}

	err := <-done
	close(stop)
	<-tickerDone

	r.Set(100)
	r.Finish()
	return err
}

// animate moves the bar a fraction of the remaining distance to the ceiling every tick until stop closes.
func (a *Arbiter) animate(h *handle, stop <-chan struct{}) {
	t := time.NewTicker(a.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			h.raise(func(p float64) float64 {
				return min(p+(a.ceiling-p)*a.step, a.ceiling)
			})
		}
	}
}

// handle is the Progress given to steps. it never moves the bar backwards or to 100%,
// completion belongs to the arbiter.
type handle struct {
	mu sync.Mutex // serializes read-then-set between the step and the ticker
	r  Renderer
}

func (h *handle) Set(percent float64) {
	h.raise(func(float64) float64 { return min(percent, DefaultCeiling) })
}

// raise sets the renderer to next(current) when that is ahead of current.
func (h *handle) raise(next func(cur float64) float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := h.r.Percent()
	if n := next(cur); n > cur {
		h.r.Set(n)
	}
}

func (h *handle) Describe(text string) { h.r.Describe(text) }
