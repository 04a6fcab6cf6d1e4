// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/sec"
	"github.com/taibuivan/decorly/internal/platform/validate"
	"github.com/taibuivan/decorly/pkg/uuid"
)

// PasswordHasher is the one-way hashing capability for passwords.
type PasswordHasher interface {
	Hash(raw string) (string, error)
	Compare(raw, hash string) bool
}

// NewCredential is a prepared, not yet persisted, account.
type NewCredential struct {
	Email        string
	FullName     string
	Role         sec.UserRole
	PasswordHash string
}

// Credentials owns password policy, hashing, history and expiry.
type Credentials struct {
	users  UserRepository
	hasher PasswordHasher
	now    func() time.Time

	// decoy is compared against when the email is unknown so both branches cost one hash.
	decoy string
}

// NewCredentials builds the credential store.
func NewCredentials(users UserRepository, hasher PasswordHasher, now func() time.Time) (*Credentials, error) {
	decoy, err := hasher.Hash("decorly-decoy-password")
	if err != nil {
		return nil, fmt.Errorf("auth_credentials_decoy_failed: %w", err)
	}
	return &Credentials{users: users, hasher: hasher, now: now, decoy: decoy}, nil
}

/*
Prepare enforces the password policy and hashes raw.

Returns:
  - string: Password hash
  - error: apperr.WeakPassword listing each unmet rule
*/
func (credentials *Credentials) Prepare(raw string) (string, error) {
	if problems := validate.PasswordProblems(raw); len(problems) > 0 {
		details := make([]apperr.FieldError, len(problems))
		for i, problem := range problems {
			details[i] = apperr.FieldError{Field: FieldPassword, Message: problem}
		}
		return "", apperr.WeakPassword(details...)
	}

	hash, err := credentials.hasher.Hash(raw)
	if errors.Is(err, sec.ErrPasswordTooLong) {
		return "", apperr.WeakPassword(apperr.FieldError{
			Field:   FieldPassword,
			Message: fmt.Sprintf("Maximum %d bytes", validate.PasswordMaxBytes),
		})
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return hash, nil
}

/*
Create persists a prepared credential as a new account.

Description: The password history is seeded with the initial hash so the
first change cannot reuse it.

Parameters:
  - context: context.Context
  - input: NewCredential

Returns:
  - *User: Created account
  - error: apperr.DuplicateIdentity, apperr.ValidationError or storage errors
*/
func (credentials *Credentials) Create(context context.Context, input NewCredential) (*User, error) {
	if !input.Role.Valid() {
		return nil, validate.RequiredError(FieldRole, "Must be one of: client, designer")
	}

	_, err := credentials.users.FindByEmail(context, input.Email)
	if err == nil {
		return nil, apperr.DuplicateIdentity()
	}
	if !isNotFound(err) {
		return nil, err
	}

	now := credentials.now()
	user := &User{
		ID:                uuid.New(),
		Email:             input.Email,
		FullName:          input.FullName,
		Role:              input.Role,
		PasswordHash:      input.PasswordHash,
		PasswordHistory:   []string{input.PasswordHash},
		PasswordChangedAt: now,
		CreatedAt:         now,
	}

	if err := credentials.users.Create(context, user); err != nil {
		return nil, err
	}
	return user, nil
}

/*
Register prepares and creates an account in one step.

Returns:
  - *User: Created account
  - error: WeakPassword, DuplicateIdentity, ValidationError or storage errors
*/
func (credentials *Credentials) Register(context context.Context, email, fullName, raw string, role sec.UserRole) (*User, error) {
	hash, err := credentials.Prepare(raw)
	if err != nil {
		return nil, err
	}
	return credentials.Create(context, NewCredential{
		Email:        NormalizeEmail(email),
		FullName:     fullName,
		Role:         role,
		PasswordHash: hash,
	})
}

/*
VerifyPassword checks raw against the account registered under email.

Returns:
  - *User: The account when the password matches
  - bool: Whether the password matched
  - error: Storage errors only; an unknown email is a plain mismatch
*/
func (credentials *Credentials) VerifyPassword(context context.Context, email, raw string) (*User, bool, error) {
	user, err := credentials.users.FindByEmail(context, email)
	if err != nil {
		if isNotFound(err) {
			credentials.hasher.Compare(raw, credentials.decoy)
			return nil, false, nil
		}
		return nil, false, err
	}

	if !credentials.hasher.Compare(raw, user.PasswordHash) {
		return nil, false, nil
	}
	return user, true, nil
}

/*
ChangePassword replaces the password after checking the current one and the history.

Description: newRaw is compared against every stored history hash (at most
PasswordHistorySize bcrypt comparisons, all of them always performed). On
success the new hash is appended, the history trimmed to its newest entries
and passwordChangedAt stamped, all in one row update.

Parameters:
  - context: context.Context
  - userID: string
  - currentRaw: string
  - newRaw: string

Returns:
  - error: CredentialMismatch, PasswordReused, WeakPassword, NotFound or storage errors
*/
func (credentials *Credentials) ChangePassword(context context.Context, userID, currentRaw, newRaw string) error {
	newHash, err := credentials.Prepare(newRaw)
	if err != nil {
		return err
	}

	return credentials.users.Mutate(context, userID, func(user *User) error {
		if !credentials.hasher.Compare(currentRaw, user.PasswordHash) {
			return apperr.CredentialMismatch()
		}

		reused := false
		for _, previous := range user.PasswordHistory {
			if credentials.hasher.Compare(newRaw, previous) {
				reused = true
			}
		}
		if reused {
			return apperr.PasswordReused()
		}

		history := append(append([]string(nil), user.PasswordHistory...), newHash)
		if len(history) > PasswordHistorySize {
			history = history[len(history)-PasswordHistorySize:]
		}

		user.PasswordHash = newHash
		user.PasswordHistory = history
		user.PasswordChangedAt = credentials.now()
		return nil
	})
}

// PasswordExpired reports whether the password is older than PasswordMaxAge.
func PasswordExpired(changedAt, now time.Time) bool {
	return now.Sub(changedAt) > PasswordMaxAge
}

func isNotFound(err error) bool {
	var appError *apperr.AppError
	return errors.As(err, &appError) && appError.Code == "NOT_FOUND"
}
