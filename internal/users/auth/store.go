// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"time"
)

// # User Data Access

// UserRepository defines the data access contract for credential records.
type UserRepository interface {

	/*
		Create persists a brand-new account.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: apperr.DuplicateIdentity when the email is taken, or persistence failures
	*/
	Create(context context.Context, user *User) error

	/*
		FindByID returns the account with the given ID.

		Returns:
		  - *User: Hydrated entity
		  - error: apperr.NotFound or retrieval failures
	*/
	FindByID(context context.Context, id string) (*User, error)

	/*
		FindByEmail returns the account with the given normalized email.

		Returns:
		  - *User: Hydrated entity
		  - error: apperr.NotFound or retrieval failures
	*/
	FindByEmail(context context.Context, email string) (*User, error)

	/*
		Mutate performs an atomic read-modify-write of one account.

		Description: The record is locked for the duration of fn. When fn
		returns nil every mutable field it changed is written back in one
		statement; when fn returns an error nothing is written and that
		error is returned.

		Parameters:
		  - context: context.Context
		  - id: string
		  - fn: func(*User) error

		Returns:
		  - error: apperr.NotFound, fn's error, or persistence failures
	*/
	Mutate(context context.Context, id string, fn func(user *User) error) error

	/*
		LockActivity sets the account-wide flood lock.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - until: time.Time

		Returns:
		  - error: Persistence failures
	*/
	LockActivity(context context.Context, userID string, until time.Time) error
}

// # Session Data Access

// SessionRepository defines the data access contract for server-side sessions.
type SessionRepository interface {

	/*
		Create persists a new valid session.
	*/
	Create(context context.Context, session *Session) error

	/*
		FindValid returns the session only if it exists, is valid and has not expired.

		Returns:
		  - *Session: Hydrated entity
		  - error: apperr.NotFound when missing, revoked or expired
	*/
	FindValid(context context.Context, id string) (*Session, error)

	/*
		Revoke marks the session invalid. Revoking a missing or already
		revoked session is not an error.
	*/
	Revoke(context context.Context, id string) error

	/*
		DeleteExpired removes sessions past their expiry.

		Returns:
		  - int64: Number of rows removed
		  - error: Cleanup failures
	*/
	DeleteExpired(context context.Context) (int64, error)
}

// # Pending Signup Data Access

// PendingAction tells [PendingSignupRepository.Mutate] what to do with the record.
type PendingAction int

const (
	// PendingKeep writes the record back, preserving its remaining TTL.
	PendingKeep PendingAction = iota
	// PendingDiscard deletes the record.
	PendingDiscard
)

// PendingSignupRepository stores signups awaiting their registration passcode.
type PendingSignupRepository interface {

	/*
		Save stores (or replaces) the pending signup for its email.

		Parameters:
		  - context: context.Context
		  - pending: *PendingSignup
		  - ttl: time.Duration

		Returns:
		  - error: Storage failures
	*/
	Save(context context.Context, pending *PendingSignup, ttl time.Duration) error

	/*
		Mutate atomically reads the pending signup for email, applies fn and
		keeps or discards the record according to fn's result.

		Returns:
		  - error: apperr.NotFound when absent or expired, or storage failures
	*/
	Mutate(context context.Context, email string, fn func(pending *PendingSignup) PendingAction) error

	/*
		Delete removes the pending signup for email.
	*/
	Delete(context context.Context, email string) error
}
