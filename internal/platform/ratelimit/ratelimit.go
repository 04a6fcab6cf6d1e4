// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ratelimit implements the per-route request guard that sits in front of
every authentication endpoint.

Buckets are keyed by (route, client address) and counted over a fixed window
through an injected [counter.Store]. A burst just under the limit followed by
a window boundary admits a fresh burst immediately; that is the intended
fixed-window behaviour.
*/
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/counter"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/pipeline"
	requestutil "github.com/taibuivan/decorly/internal/platform/request"
)

// Route names a rate-limited endpoint.
type Route string

const (
	RouteSignup             Route = "signup"
	RouteVerifyRegistration Route = "verify-registration-otp"
	RouteLogin              Route = "login"
	RouteVerifyOTP          Route = "verify-otp"
	RoutePassword           Route = "password"
)

// Policy is the limit applied to one route.
type Policy struct {
	Route  Route
	Max    int
	Window time.Duration
}

// DefaultPolicies returns the production limits.
// The login limit stays above the per-email failure threshold so one client
// can observe the brute-force lock.
func DefaultPolicies() []Policy {
	return []Policy{
		{Route: RouteSignup, Max: 5, Window: 15 * time.Minute},
		{Route: RouteLogin, Max: 10, Window: 15 * time.Minute},
		{Route: RouteVerifyOTP, Max: 10, Window: 15 * time.Minute},
		{Route: RouteVerifyRegistration, Max: 10, Window: 15 * time.Minute},
		{Route: RoutePassword, Max: 5, Window: 15 * time.Minute},
	}
}

// Guard applies route policies to client addresses.
type Guard struct {
	store    counter.Store
	policies map[Route]counter.Limit
}

// NewGuard builds a guard over store. Later policies for the same route replace earlier ones.
func NewGuard(store counter.Store, policies ...Policy) *Guard {
	limits := make(map[Route]counter.Limit, len(policies))
	for _, policy := range policies {
		limits[policy.Route] = counter.Limit{Max: policy.Max, Window: policy.Window}
	}
	return &Guard{store: store, policies: limits}
}

// Key is the bucket key for route and addr.
func Key(route Route, addr string) string {
	return fmt.Sprintf("rate:%s:%s", route, addr)
}

/*
Allow counts one request from addr against route.

Returns:
  - error: apperr.RateLimited with the remaining window once the route's
    maximum is reached; apperr.Internal when the route has no policy or the
    counter backend fails
*/
func (guard *Guard) Allow(ctx context.Context, route Route, addr string) error {
	limit, ok := guard.policies[route]
	if !ok {
		return apperr.Internal(fmt.Errorf("ratelimit: no policy for route %q", route))
	}

	decision, err := guard.store.Hit(ctx, Key(route, addr), limit)
	if err != nil {
		return apperr.Internal(err)
	}

	if !decision.Allowed {
		ctxutil.GetLogger(ctx).WarnContext(ctx, "rate_limited",
			slog.String("route", string(route)),
			slog.String("addr", addr),
			slog.Duration("retry_after", decision.RetryAfter),
		)
		return apperr.RateLimited(decision.RetryAfter)
	}

	return nil
}

// Stage returns the pipeline stage guarding route.
func (guard *Guard) Stage(route Route) pipeline.Stage {
	return pipeline.Stage{
		Name: "rate:" + string(route),
		Check: func(request *http.Request) pipeline.Result {
			if err := guard.Allow(request.Context(), route, requestutil.ClientAddr(request)); err != nil {
				return pipeline.Reject(err)
			}
			return pipeline.Admit(request)
		},
	}
}
