// Package review holds the priority queue of transactions awaiting manual
// review, ordered by risk score (highest first).
package review

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

// Entry is a queued transaction reference. Entries are never mutated once
// enqueued; a re-scored transaction is enqueued as a new entry.
type Entry struct {
	TransactionRef string    `json:"transactionId"`
	ActorID        string    `json:"userId,omitempty"`
	RiskScore      int       `json:"riskScore"`
	Status         string    `json:"status"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
}

// entryHeap implements heap.Interface as a max-heap on RiskScore.
type entryHeap []Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].RiskScore > h[j].RiskScore }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = Entry{}
	*h = old[:n-1]
	return e
}

// Queue is a concurrency-safe max-heap of review entries.
type Queue struct {
	mu sync.Mutex
	h  entryHeap
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds e in O(log n).
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	heap.Push(&q.h, e)
	q.mu.Unlock()
}

// Dequeue removes and returns the highest-risk entry. ok is false when the
// queue is empty.
func (q *Queue) Dequeue() (e Entry, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return heap.Pop(&q.h).(Entry), true
}

// Peek returns the highest-risk entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return q.h[0], true
}

// Snapshot returns a copy of every entry sorted by risk score descending.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	out := make([]Entry, len(q.h))
	copy(out, q.h)
	q.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// IsEmpty reports whether the queue has no entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// checkInvariant panics if any parent scores lower than a child.
func (q *Queue) checkInvariant() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 1; i < len(q.h); i++ {
		parent := (i - 1) / 2
		if q.h[parent].RiskScore < q.h[i].RiskScore {
			panic("review: heap invariant violated")
		}
	}
}
