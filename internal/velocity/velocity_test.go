package velocity

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 5 * time.Minute

func TestRecordAndCount_IncludesCurrent(t *testing.T) {
	tr := New()
	now := time.Now()

	assert.Equal(t, 1, tr.RecordAndCount([]string{"alice"}, "tx1", now, window))
	assert.Equal(t, 2, tr.RecordAndCount([]string{"alice"}, "tx2", now.Add(time.Second), window))
}

func TestRecordAndCount_UnionAcrossKeysCountsEventOnce(t *testing.T) {
	tr := New()
	now := time.Now()

	tr.RecordAndCount([]string{"alice", "10.0.0.1"}, "tx1", now, window)
	tr.RecordAndCount([]string{"bob", "10.0.0.1"}, "tx2", now, window)

	// alice's window holds tx1, the IP window holds tx1 and tx2.
	got := tr.RecordAndCount([]string{"alice", "10.0.0.1"}, "tx3", now, window)
	assert.Equal(t, 3, got)
}

func TestRecordAndCount_EvictsOutsideWindow(t *testing.T) {
	tr := New()
	start := time.Now()

	for i := 0; i < 6; i++ {
		at := start.Add(time.Duration(i) * (window + time.Second))
		got := tr.RecordAndCount([]string{"alice"}, fmt.Sprintf("tx%d", i), at, window)
		assert.Equal(t, 1, got, "event %d should be alone in its window", i)
	}
}

func TestRecordAndCount_WindowBoundaryInclusive(t *testing.T) {
	tr := New()
	start := time.Now()

	tr.RecordAndCount([]string{"alice"}, "tx1", start, window)
	got := tr.RecordAndCount([]string{"alice"}, "tx2", start.Add(window), window)
	assert.Equal(t, 2, got, "event exactly at now-window is still inside")
}

func TestCheck_LimitExceededAtMaxPlusOne(t *testing.T) {
	tr := New()
	now := time.Now()
	const max = 5

	var last Result
	for i := 0; i < max+1; i++ {
		last = tr.Check([]string{"alice"}, fmt.Sprintf("tx%d", i), now.Add(time.Duration(i)*time.Second), window, max)
	}
	assert.Equal(t, ScoreLimitExceeded, last.Score)
	assert.Equal(t, 6, last.Count)
	assert.Equal(t, "6 transactions in 300s (velocity limit exceeded)", last.Reason)
}

func TestCheck_SpacedBeyondWindowScoresZero(t *testing.T) {
	tr := New()
	start := time.Now()
	const max = 5

	for i := 0; i < max+1; i++ {
		r := tr.Check([]string{"alice"}, fmt.Sprintf("tx%d", i), start.Add(time.Duration(i)*2*window), window, max)
		assert.Equal(t, 0, r.Score)
		assert.Empty(t, r.Reason)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		max       int
		wantScore int
	}{
		{"below", 3, 5, 0},
		{"one below limit", 4, 5, ScoreHighVelocity},
		{"at limit", 5, 5, ScoreLimitExceeded},
		{"over limit", 9, 5, ScoreLimitExceeded},
		{"max one", 1, 1, ScoreLimitExceeded},
		{"max one empty window", 0, 1, ScoreHighVelocity},
		{"max two empty window", 0, 2, 0},
		{"max zero disabled", 10, 0, 0},
		{"negative max disabled", 10, -3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.count, tt.max, window)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.count, got.Count)
		})
	}
}

func TestPruneRemovesIdleKeys(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.RecordAndCount([]string{"old"}, "tx1", now.Add(-2*window), window)
	tr.RecordAndCount([]string{"fresh"}, "tx2", now, window)

	removed := tr.Prune(now, window)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Keys())
}

func TestRecordAndCount_ConcurrentNoUndercount(t *testing.T) {
	tr := New()
	now := time.Now()
	const n = 200

	counts := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			counts[i] = tr.RecordAndCount([]string{"alice", "10.0.0.1"}, fmt.Sprintf("tx%d", i), now, window)
		}(i)
	}
	wg.Wait()

	// Every caller observed a distinct count: record+count is atomic.
	seen := make(map[int]bool, n)
	for _, c := range counts {
		require.False(t, seen[c], "count %d observed twice", c)
		seen[c] = true
	}
	assert.Equal(t, n+1, tr.RecordAndCount([]string{"alice"}, "last", now, window))
}

func TestRecordAndCount_NoKeys(t *testing.T) {
	tr := New()
	assert.Equal(t, 1, tr.RecordAndCount([]string{"", ""}, "tx1", time.Now(), window))
	assert.Equal(t, 0, tr.Keys())
}
