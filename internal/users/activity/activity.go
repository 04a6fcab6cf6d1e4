// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package activity implements the account-wide activity monitor.

Every authenticated action is appended to an activity log. When the number of
actions by one account in the trailing window exceeds the threshold, the
account is locked for every route until the lock elapses. There is no manual
unlock.
*/
package activity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/pipeline"
	requestutil "github.com/taibuivan/decorly/internal/platform/request"
	"github.com/taibuivan/decorly/internal/platform/sec"
	"github.com/taibuivan/decorly/pkg/uuid"
)

const (
	// Window is the trailing period over which actions are counted.
	Window = 1 * time.Hour

	// Threshold is the number of actions allowed in Window. The next one locks.
	Threshold = 80

	// LockDuration is how long a flood lock lasts.
	LockDuration = 1 * time.Hour
)

// # Domain Entities

// Entry is one append-only activity record.
type Entry struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"userid"`
	Action    string    `json:"action" bson:"action"`
	Endpoint  string    `json:"endpoint" bson:"endpoint"`
	Method    string    `json:"method" bson:"method"`
	Address   string    `json:"address" bson:"address"`
	UserAgent string    `json:"user_agent" bson:"useragent"`
	CreatedAt time.Time `json:"created_at" bson:"createdat"`
}

// # Contracts

// Repository persists activity entries and counts them.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// LockStore writes the flood lock onto the account record.
type LockStore interface {
	LockActivity(ctx context.Context, userID string, until time.Time) error
}

// # Monitor

// Monitor enforces the activity-flood lock.
type Monitor struct {
	repository Repository
	locks      LockStore
	now        func() time.Time
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(monitor *Monitor) {
		monitor.now = now
	}
}

// NewMonitor builds a monitor.
func NewMonitor(repository Repository, locks LockStore, options ...Option) *Monitor {
	monitor := &Monitor{repository: repository, locks: locks, now: time.Now}
	for _, option := range options {
		option(monitor)
	}
	return monitor
}

/*
Guard records one action by principal and enforces the flood lock.

Description: An active lock rejects before anything is recorded. Otherwise
the entry is appended and the trailing window counted; crossing Threshold
locks the account for LockDuration and rejects this request too.

Parameters:
  - ctx: context.Context
  - principal: *sec.Principal (its lock snapshot is read in the same request)
  - entry: Entry (UserID, ID and CreatedAt are filled in)

Returns:
  - error: apperr.AccountLocked(activityFlood) or apperr.Internal
*/
func (monitor *Monitor) Guard(ctx context.Context, principal *sec.Principal, entry Entry) error {
	now := monitor.now()

	if until := principal.ActivityLockedUntil; until != nil && until.After(now) {
		return apperr.AccountLocked(apperr.LockActivityFlood, until.Sub(now))
	}

	entry.ID = uuid.New()
	entry.UserID = principal.UserID
	entry.CreatedAt = now

	if err := monitor.repository.Append(ctx, &entry); err != nil {
		return apperr.Internal(err)
	}

	count, err := monitor.repository.CountSince(ctx, principal.UserID, now.Add(-Window))
	if err != nil {
		return apperr.Internal(err)
	}

	if count <= Threshold {
		return nil
	}

	until := now.Add(LockDuration)
	if err := monitor.locks.LockActivity(ctx, principal.UserID, until); err != nil {
		return apperr.Internal(err)
	}

	ctxutil.GetLogger(ctx).WarnContext(ctx, "activity_flood_locked",
		slog.String("user_id", principal.UserID),
		slog.Int("actions", count),
		slog.Time("locked_until", until),
	)
	return apperr.AccountLocked(apperr.LockActivityFlood, LockDuration)
}

// Stage returns the pipeline stage recording action. It must follow the session stage.
func (monitor *Monitor) Stage(action string) pipeline.Stage {
	return pipeline.Stage{
		Name: "activity",
		Check: func(request *http.Request) pipeline.Result {
			principal, err := requestutil.RequiredPrincipal(request)
			if err != nil {
				return pipeline.Reject(err)
			}

			err = monitor.Guard(request.Context(), principal, Entry{
				Action:    action,
				Endpoint:  request.URL.Path,
				Method:    request.Method,
				Address:   requestutil.ClientAddr(request),
				UserAgent: request.UserAgent(),
			})
			if err != nil {
				return pipeline.Reject(err)
			}
			return pipeline.Admit(request)
		},
	}
}

// # Retention

// Retention is how long activity entries are kept.
const Retention = 7 * 24 * time.Hour

// Purger deletes entries older than a cutoff.
type Purger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purge removes entries older than Retention every interval until ctx is cancelled.
func Purge(ctx context.Context, purger Purger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := ctxutil.GetLogger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := purger.DeleteBefore(ctx, now.Add(-Retention))
			if err != nil {
				logger.ErrorContext(ctx, "activity_purge_failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.InfoContext(ctx, "activity_purged", slog.Int64("removed", removed))
			}
		}
	}
}
