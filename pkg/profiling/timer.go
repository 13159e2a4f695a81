// Package profiling records how long panel startup phases take and writes
// optional pprof profiles.
package profiling

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Stopper ends a timed phase.
type Stopper interface {
	Stop()
}

type phase struct {
	name     string
	start    time.Time
	duration time.Duration
	done     bool
}

// Timer collects sequential phases. The zero Timer is disabled and every
// call on it is a no-op.
type Timer struct {
	mu      sync.Mutex
	enabled bool
	start   time.Time
	phases  []*phase
}

// NewTimer returns a Timer that records phases when enabled.
func NewTimer(enabled bool) *Timer {
	return &Timer{enabled: enabled, start: time.Now()}
}

// Enabled reports whether t records phases.
func (t *Timer) Enabled() bool {
	return t != nil && t.enabled
}

type phaseStopper struct {
	t *Timer
	p *phase
}

func (s phaseStopper) Stop() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if !s.p.done {
		s.p.duration = time.Since(s.p.start)
		s.p.done = true
	}
}

type noopStopper struct{}

func (noopStopper) Stop() {}

// Start begins a phase. Stop the result when the phase ends.
func (t *Timer) Start(name string) Stopper {
	if !t.Enabled() {
		return noopStopper{}
	}
	p := &phase{name: name, start: time.Now()}
	t.mu.Lock()
	t.phases = append(t.phases, p)
	t.mu.Unlock()
	return phaseStopper{t: t, p: p}
}

// Summarize writes every finished phase with its share of the total.
func (t *Timer) Summarize(w io.Writer) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	total := time.Since(t.start)
	fmt.Fprintln(w, "\n--- Startup Timing ---")
	for _, p := range t.phases {
		if !p.done {
			continue
		}
		pct := 0.0
		if total > 0 {
			pct = float64(p.duration) / float64(total) * 100
		}
		fmt.Fprintf(w, "- %s (%v, %.1f%%)\n", p.name, p.duration.Round(100*time.Microsecond), pct)
	}
	fmt.Fprintf(w, "total %v\n", total.Round(100*time.Microsecond))
}
