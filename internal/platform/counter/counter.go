// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package counter provides the keyed, windowed counters behind the rate and
login guards.

Two behaviours share one bucket shape (count, first, lockedUntil):

  - Hit: fixed-window admission. The bucket is recreated once
    now - first > window; a request is rejected while count >= max.
  - Fail: failure counting with a lockout. Reaching max sets
    lockedUntil = now + window; while locked nothing is counted.

Every call is a single critical section per key. [Memory] serves one
process; [Redis] serves several instances sharing one view of each bucket.
Both honour the same [Store] contract so guards never know which one they use.
*/
package counter

import (
	"context"
	"time"
)

// Limit bounds a bucket.
type Limit struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of a counter operation.
type Decision struct {
	// Allowed is false when the request is over the limit or the key is locked.
	Allowed bool
	// Count is the bucket count after the operation.
	Count int
	// RetryAfter is how long until the bucket admits again. Zero when Allowed.
	RetryAfter time.Duration
}

// Store is the injected counter backend.
type Store interface {

	/*
		Hit counts one request against a fixed window.

		Parameters:
		  - ctx: context.Context
		  - key: string (fully qualified bucket key)
		  - limit: Limit

		Returns:
		  - Decision: Allowed=false with RetryAfter once count >= limit.Max
		  - error: Backend failures
	*/
	Hit(ctx context.Context, key string, limit Limit) (Decision, error)

	/*
		Fail records one failure and locks the key for limit.Window once the
		count reaches limit.Max. A locked key is not counted further.

		Parameters:
		  - ctx: context.Context
		  - key: string
		  - limit: Limit

		Returns:
		  - Decision: Allowed=false when this failure set the lock or one was active
		  - error: Backend failures
	*/
	Fail(ctx context.Context, key string, limit Limit) (Decision, error)

	/*
		Status reports whether the key is currently locked, without counting.

		Returns:
		  - Decision: Allowed=false with the remaining lock time when locked
		  - error: Backend failures
	*/
	Status(ctx context.Context, key string) (Decision, error)

	/*
		Reset deletes the bucket outright.
	*/
	Reset(ctx context.Context, key string) error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source. Tests use it to cross window boundaries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, apply := range opts {
		apply(&o)
	}
	return o
}
