// Package retry retries idempotent calls with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int           // total calls, including the first
	BaseDelay time.Duration // first backoff, doubled after each retry
	MaxDelay  time.Duration // cap on a single backoff; zero means no cap
}

// DefaultPolicy suits calls to a local fraudwatch API.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do calls fn until it succeeds, returns a permanent error, ctx is done or
// the policy's attempts are used up. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}

// jittered spreads d by ±25%.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := d / 4
	return d - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
}

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0, v%n < n
}
