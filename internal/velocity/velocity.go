// Package velocity implements sliding-window transaction counters keyed by
// actor identity (user ID, source IP, ...).
//
// Each key owns a window of (event ID, timestamp) pairs. Recording an event
// under several keys and counting the union of those windows happens under
// one multi-key lock, so concurrent submissions for the same actor can never
// undercount each other.
package velocity

import (
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/fraudwatch/internal/syncutil"
)

// Scores awarded by the velocity heuristic.
const (
	ScoreLimitExceeded = 40
	ScoreHighVelocity  = 20
)

// event records a single transaction for sliding-window analysis.
type event struct {
	ID string
	At time.Time
}

type keyWindow struct {
	events []event
}

// Tracker holds per-key windows. The zero value is ready to use.
type Tracker struct {
	windows sync.Map // map[string]*keyWindow, mutated only under locks
	locks   syncutil.ShardedMutex
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// RecordAndCount records eventID at now under every key and returns the
// number of distinct events, across the union of keys, whose timestamp is
// at or after now-window. The current event is included.
func (t *Tracker) RecordAndCount(keys []string, eventID string, now time.Time, window time.Duration) int {
	keys = dedupe(keys)
	if len(keys) == 0 {
		return 1
	}
	cutoff := now.Add(-window)

	unlock := t.locks.LockKeys(keys...)
	defer unlock()

	seen := map[string]struct{}{eventID: {}}
	for _, k := range keys {
		w := t.window(k)
		w.evict(cutoff)
		for _, e := range w.events {
			seen[e.ID] = struct{}{}
		}
		w.events = append(w.events, event{ID: eventID, At: now})
	}
	return len(seen)
}

// Prune drops events older than window and removes keys whose window is
// empty. It returns the number of keys removed.
func (t *Tracker) Prune(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	removed := 0
	t.windows.Range(func(k, _ any) bool {
		key := k.(string)
		unlock := t.locks.Lock(key)
		if v, ok := t.windows.Load(key); ok {
			w := v.(*keyWindow)
			w.evict(cutoff)
			if len(w.events) == 0 {
				t.windows.Delete(key)
				removed++
			}
		}
		unlock()
		return true
	})
	return removed
}

// Keys returns the number of keys currently tracked.
func (t *Tracker) Keys() int {
	n := 0
	t.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// window returns or creates the window for key. Caller holds the key's shard lock.
func (t *Tracker) window(key string) *keyWindow {
	v, _ := t.windows.LoadOrStore(key, &keyWindow{})
	return v.(*keyWindow)
}

// evict removes entries older than cutoff. Timestamps may arrive out of
// order, so this filters instead of trimming a prefix.
func (w *keyWindow) evict(cutoff time.Time) {
	kept := w.events[:0]
	for _, e := range w.events {
		if !e.At.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(w.events); i++ {
		w.events[i] = event{}
	}
	w.events = kept
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Result is the velocity heuristic's contribution.
type Result struct {
	Count  int
	Score  int
	Reason string
}

// Score maps a window count to a contribution. count ≥ maxAllowed scores the
// limit; count ≥ maxAllowed-1 (floored at 0) scores high velocity. A
// non-positive maxAllowed disables the heuristic.
func Score(count, maxAllowed int, window time.Duration) Result {
	r := Result{Count: count}
	if maxAllowed <= 0 {
		return r
	}
	nearLimit := maxAllowed - 1
	if nearLimit < 0 {
		nearLimit = 0
	}
	switch {
	case count >= maxAllowed:
		r.Score = ScoreLimitExceeded
		r.Reason = fmt.Sprintf("%d transactions in %gs (velocity limit exceeded)", count, window.Seconds())
	case count >= nearLimit:
		r.Score = ScoreHighVelocity
		r.Reason = "High transaction velocity detected"
	}
	return r
}

// Check records the event and scores the resulting count in one call.
func (t *Tracker) Check(keys []string, eventID string, now time.Time, window time.Duration, maxAllowed int) Result {
	return Score(t.RecordAndCount(keys, eventID, now, window), maxAllowed, window)
}
