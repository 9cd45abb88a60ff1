// Package traffic keeps a short sliding history of request outcomes. It backs
// the health endpoint (error rate, denials) and the traffic gauges.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome uint8

const (
	Success Outcome = iota
	Error
	// Denied is a 429, from either the per-identity quota or the overload guard.
	Denied
)

// DefaultRetention bounds how far back the tracker remembers outcomes.
const DefaultRetention = 5 * time.Minute

var defaultTracker = NewTracker(DefaultRetention)

// RecordSuccess records a successful request outcome.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a failed request outcome (upstream error, timeout, etc.).
func RecordError() { defaultTracker.Record(Error) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.Counts(window).Total()
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Counts(window).Denied
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors (denied excluded).
func ErrorRate(window time.Duration) (errors, total int) {
	c := defaultTracker.Counts(window)
	return c.Errors, c.Errors + c.Successes
}

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// Counts is a snapshot of outcomes inside a window.
type Counts struct {
	Successes int
	Errors    int
	Denied    int
}

// Total is every outcome in the snapshot.
func (c Counts) Total() int { return c.Successes + c.Errors + c.Denied }

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker is a time-ordered log of outcomes, pruned to its retention on write.
type Tracker struct {
	mu        sync.Mutex
	events    []event
	retention time.Duration
	now       func() time.Time
}

// NewTracker returns a tracker that forgets outcomes older than retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// Record appends an outcome stamped with the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Counts tallies outcomes not older than window.
func (t *Tracker) Counts(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	var c Counts
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.outcome {
		case Success:
			c.Successes++
		case Error:
			c.Errors++
		case Denied:
			c.Denied++
		}
	}
	return c
}

// Reset forgets every outcome.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops the expired prefix. Caller holds mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
