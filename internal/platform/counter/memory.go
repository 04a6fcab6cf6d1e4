// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package counter

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count       int
	first       time.Time
	lockedUntil time.Time
	window      time.Duration
}

// expiry is the instant after which the bucket carries no state worth keeping.
func (b *bucket) expiry() time.Time {
	end := b.first.Add(b.window)
	if b.lockedUntil.After(end) {
		return b.lockedUntil
	}
	return end
}

// Memory is a process-local [Store].
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		buckets: make(map[string]*bucket),
		now:     o.now,
	}
}

// Hit implements [Store].
func (store *Memory) Hit(_ context.Context, key string, limit Limit) (Decision, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := store.now()
	current, ok := store.buckets[key]
	if !ok || now.Sub(current.first) > limit.Window {
		current = &bucket{first: now, window: limit.Window}
		store.buckets[key] = current
	}

	if current.count >= limit.Max {
		return Decision{
			Allowed:    false,
			Count:      current.count,
			RetryAfter: current.first.Add(limit.Window).Sub(now),
		}, nil
	}

	current.count++
	return Decision{Allowed: true, Count: current.count}, nil
}

// Fail implements [Store].
func (store *Memory) Fail(_ context.Context, key string, limit Limit) (Decision, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := store.now()
	current, ok := store.buckets[key]

	if ok && current.lockedUntil.After(now) {
		return Decision{Allowed: false, Count: current.count, RetryAfter: current.lockedUntil.Sub(now)}, nil
	}

	// A lapsed lock or an elapsed window starts a fresh count.
	if !ok || !current.lockedUntil.IsZero() || now.Sub(current.first) > limit.Window {
		current = &bucket{first: now, window: limit.Window}
		store.buckets[key] = current
	}

	current.count++
	if current.count >= limit.Max {
		current.lockedUntil = now.Add(limit.Window)
		return Decision{Allowed: false, Count: current.count, RetryAfter: limit.Window}, nil
	}

	return Decision{Allowed: true, Count: current.count}, nil
}

// Status implements [Store].
func (store *Memory) Status(_ context.Context, key string) (Decision, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := store.now()
	current, ok := store.buckets[key]
	if !ok {
		return Decision{Allowed: true}, nil
	}
	if current.lockedUntil.After(now) {
		return Decision{Allowed: false, Count: current.count, RetryAfter: current.lockedUntil.Sub(now)}, nil
	}
	return Decision{Allowed: true, Count: current.count}, nil
}

// Reset implements [Store].
func (store *Memory) Reset(_ context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.buckets, key)
	return nil
}

// Sweep removes buckets whose window and lock have both elapsed.
// It returns the number of buckets removed.
func (store *Memory) Sweep() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := store.now()
	removed := 0
	for key, current := range store.buckets {
		if now.After(current.expiry()) {
			delete(store.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (store *Memory) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.buckets)
}

// RunJanitor sweeps the store every interval until ctx is cancelled.
func (store *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep()
		}
	}
}
