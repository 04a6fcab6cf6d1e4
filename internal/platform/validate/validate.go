// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package validate provides a chainable Validator that collects field-level
// errors before returning a single [apperr.AppError].
//
// # Architecture
//
// Handlers use it for shape checks on decoded payloads; the credential store
// uses [PasswordProblems] for the password strength policy so the same rule
// applies to signup and password change.
package validate

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/taibuivan/decorly/internal/platform/apperr"
)

// PasswordMinLength is the shortest password accepted by the strength policy.
const PasswordMinLength = 8

// PasswordMaxBytes is the longest password bcrypt can hash.
const PasswordMaxBytes = 72

var (
	// ErrInvalidJSON is returned when the request body cannot be decoded.
	ErrInvalidJSON = apperr.ValidationError("Invalid JSON payload")
)

// Validator collects field-level validation errors via a fluent, chainable API.
//
// # Concurrency
//
// Validator is not safe for concurrent use. A new instance must be created
// for every request/operation.
type Validator struct {
	errs []apperr.FieldError
}

// Required fails if the trimmed value is empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(field, "This field is required")
	}
	return v
}

// MaxLen fails if the Unicode character count exceeds max.
func (v *Validator) MaxLen(field, value string, max int) *Validator {
	if utf8.RuneCountInString(value) > max {
		v.add(field, fmt.Sprintf("Maximum %d characters", max))
	}
	return v
}

// MinLen fails if the Unicode character count is below min.
func (v *Validator) MinLen(field, value string, min int) *Validator {
	if utf8.RuneCountInString(value) < min {
		v.add(field, fmt.Sprintf("Minimum %d characters", min))
	}
	return v
}

// Email fails if the value is not a bare RFC 5322 address.
func (v *Validator) Email(field, value string) *Validator {
	address, err := mail.ParseAddress(value)
	if err != nil || address.Address != strings.TrimSpace(value) {
		v.add(field, "Must be a valid email address")
	}
	return v
}

// Digits fails unless the value is exactly length ASCII digits.
func (v *Validator) Digits(field, value string, length int) *Validator {
	if len(value) != length {
		v.add(field, fmt.Sprintf("Must be %d digits", length))
		return v
	}
	for _, character := range value {
		if character < '0' || character > '9' {
			v.add(field, fmt.Sprintf("Must be %d digits", length))
			return v
		}
	}
	return v
}

// StrongPassword records every unmet rule of the password strength policy.
func (v *Validator) StrongPassword(field, value string) *Validator {
	for _, problem := range PasswordProblems(value) {
		v.add(field, problem)
	}
	return v
}

// OneOf fails if the value is not in the allowed set of strings.
func (v *Validator) OneOf(field, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.add(field, fmt.Sprintf("Must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// Custom adds a failure with a custom message if the condition is true.
func (v *Validator) Custom(field string, failed bool, message string) *Validator {
	if failed {
		v.add(field, message)
	}
	return v
}

// Err returns a [apperr.AppError] (VALIDATION_ERROR) if any rules failed,
// or nil if all rules passed.
//
// This is the only output method. Call it at the end of the chain.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return apperr.ValidationError("Validation failed", v.errs...)
}

// HasErrors reports whether any validation rule has failed so far.
func (v *Validator) HasErrors() bool {
	return len(v.errs) > 0
}

// add appends a [apperr.FieldError] to the internal slice.
func (v *Validator) add(field, message string) {
	v.errs = append(v.errs, apperr.FieldError{Field: field, Message: message})
}

// RequiredError is a shortcut to create a single-field validation error.
func RequiredError(field, message string) *apperr.AppError {
	return apperr.ValidationError("Validation failed", apperr.FieldError{
		Field:   field,
		Message: message,
	})
}

// # Password Policy

// PasswordProblems lists the unmet requirements of the strength policy:
// at least [PasswordMinLength] characters and at most [PasswordMaxBytes] bytes,
// with an upper-case letter, a lower-case letter, a digit and a symbol. An empty result means the password
// is acceptable.
func PasswordProblems(password string) []string {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, character := range password {
		switch {
		case unicode.IsUpper(character):
			hasUpper = true
		case unicode.IsLower(character):
			hasLower = true
		case unicode.IsDigit(character):
			hasDigit = true
		case unicode.IsPunct(character) || unicode.IsSymbol(character):
			hasSymbol = true
		}
	}

	var problems []string
	if utf8.RuneCountInString(password) < PasswordMinLength {
		problems = append(problems, fmt.Sprintf("Minimum %d characters", PasswordMinLength))
	}
	if len(password) > PasswordMaxBytes {
		problems = append(problems, fmt.Sprintf("Maximum %d bytes", PasswordMaxBytes))
	}
	if !hasUpper {
		problems = append(problems, "Must contain an upper-case letter")
	}
	if !hasLower {
		problems = append(problems, "Must contain a lower-case letter")
	}
	if !hasDigit {
		problems = append(problems, "Must contain a digit")
	}
	if !hasSymbol {
		problems = append(problems, "Must contain a symbol")
	}
	return problems
}
