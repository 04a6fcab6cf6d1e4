// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package apperr defines the centralized error handling framework for Decorly.

It provides a rich error type that bridges the gap between low-level Domain/Storage
errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Lockouts: Guard rejections carry a retry-after window and a lock reason.
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses.
*/
package apperr

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// AppError is the canonical error type for the Decorly API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and an optional slice of field-level validation errors.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "NOT_FOUND", "ACCOUNT_LOCKED").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// Reason qualifies ACCOUNT_LOCKED errors (bruteforce, activityFlood, ...).
	Reason LockReason `json:"reason,omitempty"`
	// RetryAfter is how long the client should wait before retrying. Zero when not applicable.
	RetryAfter time.Duration `json:"-"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds per-field validation errors for VALIDATION_ERROR responses.
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// LockReason names the guard that locked an account.
type LockReason string

const (
	LockBruteForce      LockReason = "bruteforce"
	LockActivityFlood   LockReason = "activityFlood"
	LockOTP             LockReason = "otpLockout"
	LockPasswordExpired LockReason = "passwordExpired"
)

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *AppError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// # Client Errors (4xx)

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("User") // Returns "User not found"
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthorized creates a 401 [AppError].
func Unauthorized(msg string) *AppError {
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// CredentialMismatch creates the 401 returned for any failed email/password pair.
// The message never reveals which half was wrong.
func CredentialMismatch() *AppError {
	return &AppError{
		Code:       "CREDENTIAL_MISMATCH",
		Message:    "Invalid email or password",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// SessionInvalid creates the 401 returned when a token or its session is no longer usable.
func SessionInvalid() *AppError {
	return &AppError{
		Code:       "SESSION_INVALID",
		Message:    "Session is invalid or has expired",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a 403 [AppError].
func Forbidden(msg string) *AppError {
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// Conflict creates a 409 [AppError] for unique-constraint violations.
func Conflict(msg string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// DuplicateIdentity creates the 400 returned when an email is already registered.
func DuplicateIdentity() *AppError {
	return &AppError{
		Code:       "DUPLICATE_IDENTITY",
		Message:    "An account with this email already exists",
		HTTPStatus: http.StatusBadRequest,
	}
}

// ValidationError creates a 400 [AppError] with optional per-field details.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// OTPInvalid creates the 400 returned for a wrong or expired passcode.
func OTPInvalid() *AppError {
	return &AppError{
		Code:       "OTP_INVALID_OR_EXPIRED",
		Message:    "The code is invalid or has expired",
		HTTPStatus: http.StatusBadRequest,
	}
}

// WeakPassword creates a 400 [AppError] listing the unmet password rules.
func WeakPassword(details ...FieldError) *AppError {
	return &AppError{
		Code:       "WEAK_PASSWORD",
		Message:    "Password does not meet the strength policy",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// PasswordReused creates a 400 [AppError] for a password found in the recent history.
func PasswordReused() *AppError {
	return &AppError{
		Code:       "PASSWORD_REUSED",
		Message:    "New password must differ from your recent passwords",
		HTTPStatus: http.StatusBadRequest,
	}
}

// RateLimited creates a 429 [AppError] carrying the remaining window.
func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("Too many requests. Try again in %s.", HumanDuration(retryAfter)),
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// AccountLocked creates the lock rejection for reason.
//
// Brute-force and OTP lockouts are throttling (429); activity-flood and
// password-expiry are policy denials (403).
func AccountLocked(reason LockReason, retryAfter time.Duration) *AppError {
	appError := &AppError{
		Code:       "ACCOUNT_LOCKED",
		Reason:     reason,
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}

	switch reason {
	case LockBruteForce:
		appError.Message = fmt.Sprintf("Too many failed login attempts. Try again in %s.", HumanDuration(retryAfter))
	case LockOTP:
		appError.Message = fmt.Sprintf("Too many invalid codes. Try again in %s.", HumanDuration(retryAfter))
	case LockActivityFlood:
		appError.HTTPStatus = http.StatusForbidden
		appError.Message = fmt.Sprintf("Unusual activity detected. Account is locked for %s.", HumanDuration(retryAfter))
	case LockPasswordExpired:
		appError.HTTPStatus = http.StatusForbidden
		appError.Message = "Your password has expired. Change it to continue."
	}

	return appError
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// ServiceUnavailable creates a 503 [AppError] for maintenance mode.
func ServiceUnavailable(msg string) *AppError {
	return &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    msg,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// HumanDuration renders a retry window the way it is shown to users ("14 minutes", "45 seconds").
func HumanDuration(duration time.Duration) string {
	if duration < time.Minute {
		seconds := int(math.Ceil(duration.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		return plural(seconds, "second")
	}
	minutes := int(math.Ceil(duration.Minutes()))
	return plural(minutes, "minute")
}

func plural(count int, unit string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", count, unit)
}
