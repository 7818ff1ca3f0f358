// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions. The scoring engine keys it
// by heuristic name so a failing history or network backend is skipped
// instead of being called on every transaction.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/mbd888/fraudwatch/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: calls flow through
	StateOpen                  // Tripped: calls are skipped
	StateHalfOpen              // Probing: one call allowed to test recovery
)

const (
	DefaultThreshold    = 5
	DefaultOpenDuration = 30 * time.Second
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// entry tracks per-key circuit state.
type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-key circuit breaker. It counts consecutive failures per
// key and trips open at the threshold. After openDuration the circuit moves
// to half-open and allows one probe.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	now          func() time.Time
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing. Non-positive
// arguments take the defaults.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if openDuration <= 0 {
		openDuration = DefaultOpenDuration
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// WithClock overrides the clock used for the open duration.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// Allow reports whether a call for key should go ahead. An open circuit
// whose openDuration has elapsed moves to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.openDuration {
			b.transition(e, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false // probe in flight
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure. A failed probe reopens the circuit; a
// closed circuit opens once failures reach the threshold.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}

	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, key, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		b.transition(e, key, StateOpen)
	}
}

// State returns the current state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// Open lists the keys whose circuit is not closed.
func (b *Breaker) Open() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k, e := range b.entries {
		if e.state != StateClosed {
			keys = append(keys, k)
		}
	}
	return keys
}

// transition changes state and counts it. Caller must hold b.mu.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	metrics.BreakerTransitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
}
