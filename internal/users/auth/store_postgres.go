// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/dberr"
	"github.com/taibuivan/decorly/internal/platform/postgres"
)

// # User Repository

const userColumns = `
	id, email, fullname, role,
	passwordhash, passwordhistory, passwordchangedat,
	otphash, otpexpiry, otpverified, otpattempts, otplockeduntil,
	activitylockeduntil, createdat, updatedat`

// PostgresUserRepository implements the UserRepository interface using pgx.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PostgreSQL implementation of the UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// scanUser hydrates a User from a row selected with userColumns.
func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	var otpAttempts *int
	var otpLockedUntil, activityLockedUntil *time.Time

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.Role,
		&user.PasswordHash,
		&user.PasswordHistory,
		&user.PasswordChangedAt,
		&user.OTPHash,
		&user.OTPExpiry,
		&user.OTPVerified,
		&otpAttempts,
		&otpLockedUntil,
		&activityLockedUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if otpAttempts != nil {
		user.OTPLock = &OTPLock{Attempts: *otpAttempts, LockedUntil: otpLockedUntil}
	}
	if activityLockedUntil != nil {
		user.ActivityLock = &ActivityLock{LockedUntil: activityLockedUntil}
	}

	return user, nil
}

/*
Create persists a new account into the users.account table.

Parameters:
  - context: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: apperr.DuplicateIdentity on a taken email, or connectivity errors
*/
func (repository *PostgresUserRepository) Create(context context.Context, user *User) error {
	const query = `
		INSERT INTO users.account (
			id, email, fullname, role, passwordhash, passwordhistory, passwordchangedat,
			otpverified, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.Email,
		user.FullName,
		user.Role,
		user.PasswordHash,
		user.PasswordHistory,
		user.PasswordChangedAt,
		user.OTPVerified,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.DuplicateIdentity()
		}
		return fmt.Errorf("postgres_user_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByID retrieves an account by its primary key.

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresUserRepository) FindByID(context context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users.account WHERE id = $1`

	user, err := scanUser(repository.pool.QueryRow(context, query, id))
	if err != nil {
		if dberr.IsNotFound(err) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_id_failed: %w", err)
	}
	return user, nil
}

/*
FindByEmail retrieves an account by its normalized email.

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresUserRepository) FindByEmail(context context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users.account WHERE email = $1`

	user, err := scanUser(repository.pool.QueryRow(context, query, email))
	if err != nil {
		if dberr.IsNotFound(err) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_email_failed: %w", err)
	}
	return user, nil
}

/*
Mutate locks the row with SELECT ... FOR UPDATE, applies fn and writes every
mutable column back in the same transaction.

Description: Password change (hash + history + timestamp) and passcode
verification (hash, expiry, attempts, lock) each land as one UPDATE, so a
concurrent reader sees either the old or the new record, never a mix.

Parameters:
  - context: context.Context
  - id: string
  - fn: func(*User) error

Returns:
  - error: apperr.NotFound, fn's error, or database errors
*/
func (repository *PostgresUserRepository) Mutate(context context.Context, id string, fn func(user *User) error) error {
	return postgres.WithTx(context, repository.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + userColumns + ` FROM users.account WHERE id = $1 FOR UPDATE`

		user, err := scanUser(tx.QueryRow(context, query, id))
		if err != nil {
			if dberr.IsNotFound(err) {
				return apperr.NotFound("User")
			}
			return fmt.Errorf("postgres_user_repo_mutate_select_failed: %w", err)
		}

		if err := fn(user); err != nil {
			return err
		}

		var otpAttempts *int
		var otpLockedUntil, activityLockedUntil *time.Time
		if user.OTPLock != nil {
			attempts := user.OTPLock.Attempts
			otpAttempts = &attempts
			otpLockedUntil = user.OTPLock.LockedUntil
		}
		if user.ActivityLock != nil {
			activityLockedUntil = user.ActivityLock.LockedUntil
		}
		user.UpdatedAt = time.Now()

		const update = `
			UPDATE users.account
			SET passwordhash = $2, passwordhistory = $3, passwordchangedat = $4,
			    otphash = $5, otpexpiry = $6, otpverified = $7,
			    otpattempts = $8, otplockeduntil = $9,
			    activitylockeduntil = $10, updatedat = $11
			WHERE id = $1`

		_, err = tx.Exec(context, update,
			user.ID,
			user.PasswordHash,
			user.PasswordHistory,
			user.PasswordChangedAt,
			user.OTPHash,
			user.OTPExpiry,
			user.OTPVerified,
			otpAttempts,
			otpLockedUntil,
			activityLockedUntil,
			user.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres_user_repo_mutate_update_failed: %w", err)
		}
		return nil
	})
}

/*
LockActivity sets the flood lock on the account.

Parameters:
  - context: context.Context
  - userID: string
  - until: time.Time

Returns:
  - error: Database errors
*/
func (repository *PostgresUserRepository) LockActivity(context context.Context, userID string, until time.Time) error {
	const query = "UPDATE users.account SET activitylockeduntil = $2, updatedat = NOW() WHERE id = $1"
	if _, err := repository.pool.Exec(context, query, userID, until); err != nil {
		return fmt.Errorf("postgres_user_repo_lock_activity_failed: %w", err)
	}
	return nil
}

// # Session Repository

// PostgresSessionRepository implements the SessionRepository interface.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new PostgreSQL implementation of SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

/*
Create persists a new session record into the users.session table.

Parameters:
  - context: context.Context
  - session: *Session

Returns:
  - error: Storage failures
*/
func (repository *PostgresSessionRepository) Create(context context.Context, session *Session) error {
	const query = `
		INSERT INTO users.session (id, userid, ipaddress, useragent, valid, createdat, expiresat)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)`

	_, err := repository.pool.Exec(context, query,
		session.ID,
		session.UserID,
		session.IPAddress,
		session.UserAgent,
		session.CreatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_create_failed: %w", err)
	}

	session.Valid = true
	return nil
}

/*
FindValid retrieves a session that is still valid and unexpired.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - *Session: Hydrated session metadata
  - error: apperr.NotFound or execution errors
*/
func (repository *PostgresSessionRepository) FindValid(context context.Context, id string) (*Session, error) {
	const query = `
		SELECT id, userid, ipaddress, useragent, valid, createdat, expiresat
		FROM users.session
		WHERE id = $1 AND valid = TRUE AND expiresat > NOW()`

	session := &Session{}
	err := repository.pool.QueryRow(context, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.IPAddress,
		&session.UserAgent,
		&session.Valid,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if dberr.IsNotFound(err) {
			return nil, apperr.NotFound("Session")
		}
		return nil, fmt.Errorf("postgres_session_repo_find_failed: %w", err)
	}

	return session, nil
}

/*
Revoke marks a session as invalid. The update is one-way and idempotent.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - error: Revocation failures
*/
func (repository *PostgresSessionRepository) Revoke(context context.Context, id string) error {
	const query = "UPDATE users.session SET valid = FALSE WHERE id = $1"
	if _, err := repository.pool.Exec(context, query, id); err != nil {
		return fmt.Errorf("postgres_session_repo_revoke_failed: %w", err)
	}
	return nil
}

/*
DeleteExpired permanently removes sessions that have passed their expiry.

Returns:
  - int64: Rows removed
  - error: Cleanup failures
*/
func (repository *PostgresSessionRepository) DeleteExpired(context context.Context) (int64, error) {
	const query = "DELETE FROM users.session WHERE expiresat <= NOW()"
	tag, err := repository.pool.Exec(context, query)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_repo_delete_expired_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
