// Package keymutex provides per-key mutual exclusion with bounded
// acquisition. Services use it to serialize mutations on a single account or
// a single (account, product) pair while unrelated keys proceed in parallel.
package keymutex

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout reports that the lock could not be acquired within the
// configured window. Callers should treat it as "system busy": the guarded
// operation never started.
var ErrLockTimeout = errors.New("keymutex: lock acquisition timed out")

type entry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// Registry hands out one lock per string key. Locks are created on first
// reference and reference-counted, so idle keys do not accumulate entries
// even under high key cardinality.
//
// Acquisition by the same goroutine on a key it already holds deadlocks until
// the timeout fires; the registry is not reentrant.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// NewRegistry creates a registry with the given default acquisition timeout.
// A non-positive timeout falls back to 10 seconds.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

// Acquire blocks until the key's lock is free, the registry timeout elapses,
// or ctx is cancelled. On success it returns a release function that must be
// called exactly once.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		r.entries[key] = e
	}
	e.refs++
	r.mu.Unlock()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-e.ch:
		var once sync.Once
		release := func() {
			once.Do(func() {
				e.ch <- struct{}{}
				r.unref(key, e)
			})
		}
		return release, nil
	case <-timer.C:
		r.unref(key, e)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		r.unref(key, e)
		return nil, ctx.Err()
	}
}

func (r *Registry) unref(key string, e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, key)
	}
	r.mu.Unlock()
}

// Len reports how many keys currently have live lock entries. Exposed for
// observability and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
