// Package health runs named subsystem checks for the readiness endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds a single checker.
const DefaultTimeout = 2 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports the health of one subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// WithTimeout sets the per-checker deadline.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
	return r
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently. Statuses are returned in
// registration order. A checker that panics or misses its deadline is
// reported unhealthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = run(ctx, nc, timeout)
		}()
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func run(ctx context.Context, nc namedChecker, timeout time.Duration) Status {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Status{Name: nc.name, Detail: fmt.Sprintf("panic: %v", p)}
			}
		}()
		s := nc.check(ctx)
		if s.Name == "" {
			s.Name = nc.name
		}
		done <- s
	}()

	select {
	case s := <-done:
		return s
	case <-ctx.Done():
		return Status{Name: nc.name, Detail: "timed out"}
	}
}
