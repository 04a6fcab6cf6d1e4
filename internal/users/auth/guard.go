// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"log/slog"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/counter"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
)

// LoginGuard counts failed logins per email, independently of the per-address rate guard.
type LoginGuard struct {
	store counter.Store
	limit counter.Limit
}

// NewLoginGuard builds a guard locking an email for LoginWindow after
// LoginMaxFailures failures within LoginWindow.
func NewLoginGuard(store counter.Store) *LoginGuard {
	return &LoginGuard{
		store: store,
		limit: counter.Limit{Max: LoginMaxFailures, Window: LoginWindow},
	}
}

func loginKey(email string) string {
	return "login:" + email
}

/*
CheckLock must run before any password comparison.

Returns:
  - error: apperr.AccountLocked(bruteforce) with the remaining lock time, or backend errors
*/
func (guard *LoginGuard) CheckLock(ctx context.Context, email string) error {
	decision, err := guard.store.Status(ctx, loginKey(email))
	if err != nil {
		return apperr.Internal(err)
	}
	if !decision.Allowed {
		return apperr.AccountLocked(apperr.LockBruteForce, decision.RetryAfter)
	}
	return nil
}

// RecordFailure counts one failed password for email.
func (guard *LoginGuard) RecordFailure(ctx context.Context, email string) error {
	decision, err := guard.store.Fail(ctx, loginKey(email), guard.limit)
	if err != nil {
		return apperr.Internal(err)
	}
	if !decision.Allowed {
		ctxutil.GetLogger(ctx).WarnContext(ctx, "login_locked",
			slog.String("email", email),
			slog.Int("failures", decision.Count),
			slog.Duration("retry_after", decision.RetryAfter),
		)
	}
	return nil
}

// Reset deletes the failure counter after a successful password check.
func (guard *LoginGuard) Reset(ctx context.Context, email string) error {
	if err := guard.store.Reset(ctx, loginKey(email)); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
