// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import "time"

// # Authentication Constraints

const (
	// SessionTTL bounds both the session record and the bearer token that references it.
	SessionTTL = 15 * 24 * time.Hour

	// SessionIDLength is the byte length of the random session identifier.
	SessionIDLength = 32

	// OTPTTL is how long an issued passcode stays valid.
	OTPTTL = 10 * time.Minute

	// OTPMaxAttempts wrong codes lock passcode verification for OTPLockDuration.
	OTPMaxAttempts = 5

	// OTPLockDuration is how long passcode verification stays locked.
	OTPLockDuration = 1 * time.Hour

	// LoginMaxFailures wrong passwords within LoginWindow lock the email for LoginWindow.
	LoginMaxFailures = 5

	// LoginWindow is both the failure counting window and the lockout length.
	LoginWindow = 15 * time.Minute

	// PasswordHistorySize is how many recent password hashes are kept to block reuse.
	PasswordHistorySize = 5

	// PasswordMaxAge is the age after which authenticated actions require a password change.
	PasswordMaxAge = 60 * 24 * time.Hour

	// PendingSignupTTL is how long an unverified signup is kept.
	PendingSignupTTL = OTPTTL

	// PendingSignupMaxAttempts wrong registration codes discard the pending signup.
	PendingSignupMaxAttempts = 5
)

// Digest purposes keep passcodes and CSRF tokens from being interchangeable.
const (
	purposeLoginOTP        = "otp:login"
	purposeRegistrationOTP = "otp:registration"
	purposeCSRF            = "csrf"
)
