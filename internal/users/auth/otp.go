// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"time"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/sec"
)

// Digester is the keyed one-way digest capability used for passcodes and CSRF tokens.
type Digester interface {
	Sum(purpose, value string) string
	Equal(purpose, value, digest string) bool
}

// Challenges drives the passcode state machine stored on the user record.
//
// NONE -> PENDING on Issue; PENDING -> VERIFIED on a matching, unexpired code.
// Wrong or expired submissions count towards a lock that overlays PENDING
// for OTPLockDuration once OTPMaxAttempts is reached.
type Challenges struct {
	users    UserRepository
	digests  Digester
	generate func() (string, error)
	now      func() time.Time
}

// NewChallenges builds the challenge component.
func NewChallenges(users UserRepository, digests Digester, generate func() (string, error), now func() time.Time) *Challenges {
	if generate == nil {
		generate = sec.GenerateOTP
	}
	return &Challenges{users: users, digests: digests, generate: generate, now: now}
}

func challengeValue(userID, code string) string {
	return userID + ":" + code
}

/*
Issue starts a new challenge for the user and returns the raw code for delivery.

Description: Only the digest and an expiry OTPTTL away are stored. Attempts
reset to zero unless a lock is active; an active lock is never cleared here.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - string: Raw 6-digit code (to be emailed, never stored)
  - error: NotFound or storage errors
*/
func (challenges *Challenges) Issue(context context.Context, userID string) (string, error) {
	code, err := challenges.generate()
	if err != nil {
		return "", apperr.Internal(err)
	}

	err = challenges.users.Mutate(context, userID, func(user *User) error {
		now := challenges.now()
		digest := challenges.digests.Sum(purposeLoginOTP, challengeValue(user.ID, code))
		expiry := now.Add(OTPTTL)

		user.OTPHash = &digest
		user.OTPExpiry = &expiry
		user.OTPVerified = false

		if _, locked := user.OTPLockedUntil(now); !locked {
			user.OTPLock = &OTPLock{}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return code, nil
}

/*
Verify checks a submitted code.

Description: A locked challenge is rejected before any comparison and
without consuming an attempt. A wrong or expired code increments attempts
and, at OTPMaxAttempts, locks verification for OTPLockDuration. A match
clears the challenge, marks it verified and clears the lock.

Parameters:
  - context: context.Context
  - userID: string
  - code: string

Returns:
  - *User: The account after a successful verification
  - error: AccountLocked(otpLockout), OTPInvalid, NotFound or storage errors
*/
func (challenges *Challenges) Verify(context context.Context, userID, code string) (*User, error) {
	var outcome error
	var verified *User

	err := challenges.users.Mutate(context, userID, func(user *User) error {
		now := challenges.now()

		if until, locked := user.OTPLockedUntil(now); locked {
			return apperr.AccountLocked(apperr.LockOTP, until.Sub(now))
		}

		if !user.HasChallenge() {
			return apperr.OTPInvalid()
		}

		matches := challenges.digests.Equal(purposeLoginOTP, challengeValue(user.ID, code), *user.OTPHash)
		if !matches || !now.Before(*user.OTPExpiry) {
			lock := user.OTPLockState()
			if lock.LockedUntil != nil {
				// lapsed lock, counting starts over
				lock = OTPLock{}
			}
			lock.Attempts++
			if lock.Attempts >= OTPMaxAttempts {
				until := now.Add(OTPLockDuration)
				lock.LockedUntil = &until
			}
			user.OTPLock = &lock
			outcome = apperr.OTPInvalid()
			return nil
		}

		user.OTPHash = nil
		user.OTPExpiry = nil
		user.OTPVerified = true
		user.OTPLock = &OTPLock{}
		verified = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}

	return verified, nil
}
