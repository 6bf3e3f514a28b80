package core

// import_limiter.go bounds the number of imports running at once.
//
// Each import holds a fully materialized table in memory, so the HTTP server
// admits at most maxConcurrent imports. When all slots are taken, a request
// waits up to maxWait before failing with ErrTooManyImports. WaitForDrain
// lets shutdown wait for in-flight imports.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyImports is returned when no slot frees up within the wait time.
// Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

// DefaultMaxConcurrentImports is the default limit for parallel imports.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ImportLimiter is a weighted semaphore with an active-import counter.
type ImportLimiter struct {
	sem     *semaphore.Weighted
	max     int
	maxWait time.Duration
	active  atomic.Int64
}

// NewImportLimiter creates a limiter that admits at most maxConcurrent imports.
// Non-positive arguments fall back to the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &ImportLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     maxConcurrent,
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. It returns ctx.Err() if ctx ends first and
// ErrTooManyImports if maxWait passes first.
// The caller MUST call Release() when the import completes (use defer).
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}

	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking and reports whether it succeeded.
func (l *ImportLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ImportLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// ActiveCount returns the number of imports holding a slot.
func (l *ImportLimiter) ActiveCount() int { return int(l.active.Load()) }

// MaxConcurrent returns the slot count.
func (l *ImportLimiter) MaxConcurrent() int { return l.max }

// Available returns the number of free slots.
func (l *ImportLimiter) Available() int { return l.max - l.ActiveCount() }

// WaitForDrain blocks until no import holds a slot or ctx ends.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ImportLimiterStatus is a snapshot of the limiter for the health endpoint.
type ImportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	active := l.ActiveCount()
	return ImportLimiterStatus{
		Active:        active,
		Available:     l.max - active,
		MaxConcurrent: l.max,
	}
}
