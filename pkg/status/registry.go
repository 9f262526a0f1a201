package status

import (
	"fmt"
	"sync"
	"time"
)

// PhaseStatus is the recorded outcome of a single named phase.
type PhaseStatus struct {
	Name     string    `yaml:"name"`
	State    State     `yaml:"state"`
	Message  string    `yaml:"message,omitempty"`
	Started  time.Time `yaml:"started,omitempty"`
	Finished time.Time `yaml:"finished,omitempty"`
}

// Duration returns how long the phase ran, zero if it never finished.
func (p PhaseStatus) Duration() time.Duration {
	if p.Started.IsZero() || p.Finished.IsZero() {
		return 0
	}
	return p.Finished.Sub(p.Started)
}

// Counts summarizes phase states.
type Counts struct {
	Success    int `yaml:"success"`
	Failed     int `yaml:"failed"`
	Pending    int `yaml:"pending"`
	InProgress int `yaml:"in_progress"`
}

// Registry maps phase names to their status, preserving registration order.
// Set is the only state mutator. the lock is for readers (report, log callback),
// writes come from the sequencer only.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	entries  map[string]*PhaseStatus
	onChange func(old, cur PhaseStatus)
	now      func() time.Time
}

// NewRegistry makes an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*PhaseStatus), now: time.Now}
}

// OnChange registers a callback fired after every accepted transition.
// only one callback is supported; subsequent calls replace the previous one.
func (r *Registry) OnChange(fn func(old, cur PhaseStatus)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds a Pending entry for name. registering an existing name is a no-op.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return
	}
	r.order = append(r.order, name)
	r.entries[name] = &PhaseStatus{Name: name, State: Pending}
}

// Set moves phase name to state with message. it rejects unknown phases, unknown states
// and any transition outside Pending -> InProgress -> {Success, Failed}.
func (r *Registry) Set(name string, state State, message string) error {
	if !state.Valid() {
		return fmt.Errorf("phase %q: unknown state %q", name, state)
	}

	r.mu.Lock()
	entry, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("phase %q is not registered", name)
	}
	if !entry.State.CanMoveTo(state) {
		from := entry.State
		r.mu.Unlock()
		return &TransitionError{Name: name, From: from, To: state}
	}

	old := *entry
	entry.State = state
	entry.Message = message
	switch {
	case state == InProgress:
		entry.Started = r.now()
	case state.Terminal():
		entry.Finished = r.now()
	}
	cur := *entry
	cb := r.onChange
	r.mu.Unlock()

	if cb != nil {
		cb(old, cur)
	}
	return nil
}

// Get returns a copy of the status for name.
func (r *Registry) Get(name string) (PhaseStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return PhaseStatus{}, false
	}
	return *entry, true
}

// All returns copies of all entries in registration order.
func (r *Registry) All() []PhaseStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]PhaseStatus, 0, len(r.order))
	for _, name := range r.order {
		res = append(res, *r.entries[name])
	}
	return res
}

// Len returns the number of registered phases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Counts tallies entries by state.
func (r *Registry) Counts() Counts {
	var c Counts
	for _, s := range r.All() {
		switch s.State {
		case Success:
			c.Success++
		case Failed:
			c.Failed++
		case InProgress:
			c.InProgress++
		default:
			c.Pending++
		}
	}
	return c
}
