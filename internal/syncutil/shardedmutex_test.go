package syncutil

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShardedMutex_MutualExclusion(t *testing.T) {
	var m ShardedMutex

	var counter int64
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("actor@example.com")
			defer unlock()
			// Non-atomic increment: a broken lock shows up as a lost update.
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != n {
		t.Fatalf("expected %d, got %d (mutual exclusion violated)", n, got)
	}
}

func TestShardedMutex_LockKeysDuplicateKeys(t *testing.T) {
	var m ShardedMutex

	done := make(chan struct{})
	go func() {
		unlock := m.LockKeys("same", "same", "same")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LockKeys deadlocked on duplicate keys")
	}
}

func TestShardedMutex_LockKeysOverlappingSets(t *testing.T) {
	var m ShardedMutex

	var wg sync.WaitGroup
	var counter int64
	const n = 50

	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.LockKeys("user-a", "10.0.0.1")
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := m.LockKeys("10.0.0.1", "user-a")
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
			unlock()
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping LockKeys callers deadlocked")
	}

	if got := atomic.LoadInt64(&counter); got != 2*n {
		t.Fatalf("expected %d, got %d", 2*n, got)
	}
}

func TestShardedMutex_UnlockAllowsNext(t *testing.T) {
	var m ShardedMutex

	unlock := m.Lock("relay")

	acquired := make(chan struct{})
	go func() {
		u := m.Lock("relay")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second goroutine acquired lock before first released")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second goroutine did not acquire lock after first released")
	}
}
