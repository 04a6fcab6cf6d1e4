// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package auth implements Decorly's authentication and session security.

It defines the credential record, the passcode challenge, the server-side
session and the guards that protect them, plus the HTTP endpoints that drive
the two-step login protocol (password, then emailed passcode).

# Architecture

  - Credentials: password policy, hashing, history and expiry.
  - Challenges: the passcode state machine and its lockout.
  - Sessions: session records plus the signed bearer token referencing them.
  - LoginGuard: per-email brute-force counter.
  - Service: orchestrates the flows; Handler maps them to HTTP.
*/
package auth

import (
	"time"

	"github.com/taibuivan/decorly/internal/platform/sec"
)

// # Domain Entities

// User is a registered client or designer with its security state.
type User struct {
	ID       string
	Email    string
	FullName string
	Role     sec.UserRole

	PasswordHash      string
	PasswordHistory   []string // oldest first, at most PasswordHistorySize entries
	PasswordChangedAt time.Time

	// OTPHash and OTPExpiry are both set while a challenge is outstanding.
	OTPHash     *string
	OTPExpiry   *time.Time
	OTPVerified bool

	// Lock sub-records are optional; nil means the lock was never engaged.
	OTPLock      *OTPLock
	ActivityLock *ActivityLock

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OTPLock tracks failed passcode verifications.
type OTPLock struct {
	Attempts    int
	LockedUntil *time.Time
}

// ActivityLock is the account-wide flood lock.
type ActivityLock struct {
	LockedUntil *time.Time
}

// OTPLockState returns the passcode lock, defaulting an absent record to zero values.
func (user *User) OTPLockState() OTPLock {
	if user.OTPLock == nil {
		return OTPLock{}
	}
	return *user.OTPLock
}

// OTPLockedUntil reports the end of an active passcode lock.
func (user *User) OTPLockedUntil(now time.Time) (time.Time, bool) {
	lock := user.OTPLockState()
	if lock.LockedUntil != nil && lock.LockedUntil.After(now) {
		return *lock.LockedUntil, true
	}
	return time.Time{}, false
}

// ActivityLockedUntil reports the end of an active flood lock.
func (user *User) ActivityLockedUntil(now time.Time) (time.Time, bool) {
	if user.ActivityLock == nil || user.ActivityLock.LockedUntil == nil {
		return time.Time{}, false
	}
	if until := *user.ActivityLock.LockedUntil; until.After(now) {
		return until, true
	}
	return time.Time{}, false
}

// HasChallenge reports whether a passcode challenge is outstanding.
func (user *User) HasChallenge() bool {
	return user.OTPHash != nil && user.OTPExpiry != nil
}

// Principal snapshots the user for request-scoped guards.
func (user *User) Principal(sessionID string) *sec.Principal {
	principal := &sec.Principal{
		UserID:            user.ID,
		SessionID:         sessionID,
		Email:             user.Email,
		Role:              user.Role,
		PasswordChangedAt: user.PasswordChangedAt,
	}
	if user.ActivityLock != nil && user.ActivityLock.LockedUntil != nil {
		until := *user.ActivityLock.LockedUntil
		principal.ActivityLockedUntil = &until
	}
	return principal
}

// Profile is the client-facing view of a user.
type Profile struct {
	ID                string       `json:"id"`
	Email             string       `json:"email"`
	FullName          string       `json:"full_name"`
	Role              sec.UserRole `json:"role"`
	PasswordChangedAt time.Time    `json:"password_changed_at"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Profile returns the client-facing view.
func (user *User) Profile() *Profile {
	return &Profile{
		ID:                user.ID,
		Email:             user.Email,
		FullName:          user.FullName,
		Role:              user.Role,
		PasswordChangedAt: user.PasswordChangedAt,
		CreatedAt:         user.CreatedAt,
	}
}

// Session is a server-side record proving a bearer token may still be used.
// It is created valid and only ever moves to invalid.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingSignup holds a prepared account until its registration passcode is verified.
type PendingSignup struct {
	Email        string       `json:"email"`
	FullName     string       `json:"full_name"`
	Role         sec.UserRole `json:"role"`
	PasswordHash string       `json:"password_hash"`
	OTPHash      string       `json:"otp_hash"`
	OTPExpiry    time.Time    `json:"otp_expiry"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"created_at"`
}

// # Field Identifiers

// JSON field names used by validation and responses.
const (
	FieldFullName        = "full_name"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldRole            = "role"
	FieldOTP             = "otp"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldUser            = "user"
	FieldMessage         = "message"
	FieldCSRFToken       = "csrf_token"
)
