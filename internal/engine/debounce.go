package engine

import (
	"sync"
	"time"
)

// DefaultCooldown absorbs app-lifecycle churn: foreground/background flaps
// that would otherwise trigger back-to-back cycles.
const DefaultCooldown = 30 * time.Second

// Debouncer suppresses sync cycles inside a cooldown window. Callers with a
// staleness-critical moment (just signed in, cold start) bypass it with
// force.
type Debouncer struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time
	ran      bool
}

// NewDebouncer builds a debouncer; a non-positive cooldown falls back to the
// default.
func NewDebouncer(cooldown time.Duration) *Debouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Debouncer{cooldown: cooldown}
}

// ShouldRun reports whether a cycle may start at now. A true decision marks
// the window immediately, so overlapping callers cannot both pass the gate.
func (d *Debouncer) ShouldRun(force bool, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !force && d.ran && now.Sub(d.last) < d.cooldown {
		return false
	}
	d.last = now
	d.ran = true
	return true
}

// LastMarked returns the time the gate last opened, if it ever has.
func (d *Debouncer) LastMarked() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.ran
}
