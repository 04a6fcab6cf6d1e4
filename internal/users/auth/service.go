// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/counter"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/mailer"
	"github.com/taibuivan/decorly/internal/platform/sec"
)

// # Contracts & Types

// Dependencies groups the collaborators of [Service].
type Dependencies struct {
	Users          UserRepository
	Sessions       SessionRepository
	PendingSignups PendingSignupRepository
	Hasher         PasswordHasher
	Digests        Digester
	Tokens         TokenIssuer
	Counters       counter.Store
	Mailer         mailer.Mailer

	// GenerateOTP defaults to sec.GenerateOTP.
	GenerateOTP func() (string, error)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service implements the authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any change to guard ordering,
// hashing or session handling must be reviewed by the security team.
type Service struct {
	users       UserRepository
	pending     PendingSignupRepository
	credentials *Credentials
	challenges  *Challenges
	sessions    *Sessions
	loginGuard  *LoginGuard
	digests     Digester
	mailer      mailer.Mailer
	generateOTP func() (string, error)
	now         func() time.Time
}

// NewService wires the authentication components.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.GenerateOTP == nil {
		deps.GenerateOTP = sec.GenerateOTP
	}

	credentials, err := NewCredentials(deps.Users, deps.Hasher, deps.Now)
	if err != nil {
		return nil, err
	}

	return &Service{
		users:       deps.Users,
		pending:     deps.PendingSignups,
		credentials: credentials,
		challenges:  NewChallenges(deps.Users, deps.Digests, deps.GenerateOTP, deps.Now),
		sessions:    NewSessions(deps.Sessions, deps.Tokens, deps.Now),
		loginGuard:  NewLoginGuard(deps.Counters),
		digests:     deps.Digests,
		mailer:      deps.Mailer,
		generateOTP: deps.GenerateOTP,
		now:         deps.Now,
	}, nil
}

// Sessions exposes the session component for the background reaper.
func (service *Service) Sessions() *Sessions {
	return service.sessions
}

// # Registration Flow

// SignupInput holds the data required to enroll a new member.
type SignupInput struct {
	FullName string
	Email    string
	Password string
	Role     sec.UserRole
}

/*
Signup validates and hashes the credential, parks it as a pending signup and
emails the registration passcode. No account exists until the code is verified.

Parameters:
  - context: context.Context
  - input: SignupInput

Returns:
  - error: WeakPassword, ValidationError, DuplicateIdentity, or delivery/storage failures
*/
func (service *Service) Signup(context context.Context, input SignupInput) error {
	email := NormalizeEmail(input.Email)

	if !input.Role.Valid() {
		return apperr.ValidationError("Validation failed", apperr.FieldError{Field: FieldRole, Message: "Must be one of: client, designer"})
	}

	hash, err := service.credentials.Prepare(input.Password)
	if err != nil {
		return err
	}

	if _, err := service.users.FindByEmail(context, email); err == nil {
		return apperr.DuplicateIdentity()
	} else if !isNotFound(err) {
		return err
	}

	code, err := service.generateOTP()
	if err != nil {
		return apperr.Internal(err)
	}

	now := service.now()
	pending := &PendingSignup{
		Email:        email,
		FullName:     input.FullName,
		Role:         input.Role,
		PasswordHash: hash,
		OTPHash:      service.digests.Sum(purposeRegistrationOTP, challengeValue(email, code)),
		OTPExpiry:    now.Add(OTPTTL),
		CreatedAt:    now,
	}

	if err := service.pending.Save(context, pending, PendingSignupTTL); err != nil {
		return apperr.Internal(err)
	}

	if err := service.deliver(context, email, "Confirm your Decorly account", code); err != nil {
		_ = service.pending.Delete(context, email)
		return err
	}

	return nil
}

/*
VerifyRegistration checks the registration passcode and creates the account.

Description: Each wrong code counts; PendingSignupMaxAttempts wrong codes
discard the pending signup. A matching code consumes it before the account
is created.

Returns:
  - *User: Created account
  - error: OTPInvalid, DuplicateIdentity or storage errors
*/
func (service *Service) VerifyRegistration(context context.Context, email, code string) (*User, error) {
	email = NormalizeEmail(email)

	var prepared *PendingSignup
	var outcome error

	err := service.pending.Mutate(context, email, func(pending *PendingSignup) PendingAction {
		now := service.now()
		matches := service.digests.Equal(purposeRegistrationOTP, challengeValue(email, code), pending.OTPHash)
		if matches && now.Before(pending.OTPExpiry) {
			prepared = pending
			outcome = nil
			return PendingDiscard
		}

		prepared = nil
		outcome = apperr.OTPInvalid()
		pending.Attempts++
		if pending.Attempts >= PendingSignupMaxAttempts {
			return PendingDiscard
		}
		return PendingKeep
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.OTPInvalid()
		}
		return nil, apperr.Internal(err)
	}
	if outcome != nil {
		return nil, outcome
	}

	user, err := service.credentials.Create(context, NewCredential{
		Email:        prepared.Email,
		FullName:     prepared.FullName,
		Role:         prepared.Role,
		PasswordHash: prepared.PasswordHash,
	})
	if err != nil {
		return nil, err
	}

	ctxutil.GetLogger(context).InfoContext(context, "account_created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Email     string
	Password  string
	Address   string
	UserAgent string
}

/*
Login performs the password step and emails a login passcode.

Description: The brute-force lock is checked before any hash comparison.
A wrong password counts a failure; a correct one deletes the counter.
Activity-flood and passcode locks are then honoured before a new code is sent.

Returns:
  - error: AccountLocked, CredentialMismatch, or delivery/storage failures
*/
func (service *Service) Login(context context.Context, input LoginInput) error {
	email := NormalizeEmail(input.Email)

	if err := service.loginGuard.CheckLock(context, email); err != nil {
		return err
	}

	user, ok, err := service.credentials.VerifyPassword(context, email, input.Password)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		if err := service.loginGuard.RecordFailure(context, email); err != nil {
			return err
		}
		return apperr.CredentialMismatch()
	}

	if err := service.loginGuard.Reset(context, email); err != nil {
		return err
	}

	now := service.now()
	if until, locked := user.ActivityLockedUntil(now); locked {
		return apperr.AccountLocked(apperr.LockActivityFlood, until.Sub(now))
	}
	if until, locked := user.OTPLockedUntil(now); locked {
		return apperr.AccountLocked(apperr.LockOTP, until.Sub(now))
	}

	code, err := service.challenges.Issue(context, user.ID)
	if err != nil {
		return err
	}

	return service.deliver(context, email, "Your Decorly login code", code)
}

// VerifyLoginInput carries the passcode step.
type VerifyLoginInput struct {
	Email     string
	Code      string
	Address   string
	UserAgent string
}

// LoginResult is an established session.
type LoginResult struct {
	Token   string
	Session *Session
	User    *User
}

/*
VerifyLogin checks the login passcode and opens a session.

Description: This is the only path that creates interactive sessions. An
activity-flood lock is checked before the code, leaving the challenge
outstanding. An expired password does not block it, so the holder can
still reach the password change endpoint.

Returns:
  - *LoginResult: Token, session and account
  - error: OTPInvalid, AccountLocked or storage errors
*/
func (service *Service) VerifyLogin(context context.Context, input VerifyLoginInput) (*LoginResult, error) {
	email := NormalizeEmail(input.Email)

	user, err := service.users.FindByEmail(context, email)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.OTPInvalid()
		}
		return nil, apperr.Internal(err)
	}

	now := service.now()
	if until, locked := user.ActivityLockedUntil(now); locked {
		return nil, apperr.AccountLocked(apperr.LockActivityFlood, until.Sub(now))
	}

	user, err = service.challenges.Verify(context, user.ID, input.Code)
	if err != nil {
		return nil, err
	}

	token, session, err := service.sessions.Open(context, user.ID, input.Address, input.UserAgent)
	if err != nil {
		return nil, err
	}

	ctxutil.GetLogger(context).InfoContext(context, "session_opened",
		slog.String("user_id", user.ID),
		slog.String("ip", input.Address),
	)
	return &LoginResult{Token: token, Session: session, User: user}, nil
}

/*
Authenticate resolves a bearer token into the request principal.

Returns:
  - *sec.Principal: Snapshot of the account for this request
  - error: apperr.SessionInvalid
*/
func (service *Service) Authenticate(context context.Context, token string) (*sec.Principal, error) {
	session, err := service.sessions.Authenticate(context, token)
	if err != nil {
		return nil, err
	}

	user, err := service.users.FindByID(context, session.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.SessionInvalid()
		}
		return nil, apperr.Internal(err)
	}

	return user.Principal(session.ID), nil
}

// Logout revokes the session. It is idempotent.
func (service *Service) Logout(context context.Context, sessionID string) error {
	if err := service.sessions.Revoke(context, sessionID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Me returns the current account.
func (service *Service) Me(context context.Context, userID string) (*User, error) {
	user, err := service.users.FindByID(context, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.SessionInvalid()
		}
		return nil, apperr.Internal(err)
	}
	return user, nil
}

// ChangePassword delegates to the credential store.
func (service *Service) ChangePassword(context context.Context, userID, currentRaw, newRaw string) error {
	return service.credentials.ChangePassword(context, userID, currentRaw, newRaw)
}

// PasswordExpired reports whether the principal must change password before continuing.
func (service *Service) PasswordExpired(principal *sec.Principal) bool {
	return PasswordExpired(principal.PasswordChangedAt, service.now())
}

// # CSRF

// CSRFToken returns the anti-forgery token bound to sessionID.
func (service *Service) CSRFToken(sessionID string) string {
	return service.digests.Sum(purposeCSRF, sessionID)
}

// VerifyCSRF compares token with the one bound to sessionID in constant time.
func (service *Service) VerifyCSRF(sessionID, token string) bool {
	return token != "" && service.digests.Equal(purposeCSRF, sessionID, token)
}

// # Delivery

// deliver sends a passcode. Failure fails the enclosing call.
func (service *Service) deliver(context context.Context, email, subject, code string) error {
	body := fmt.Sprintf("Your Decorly verification code is %s.\nIt expires in %s.", code, apperr.HumanDuration(OTPTTL))

	if err := service.mailer.Send(context, mailer.Message{To: email, Subject: subject, Body: body}); err != nil {
		ctxutil.GetLogger(context).ErrorContext(context, "otp_delivery_failed", slog.Any("error", err))
		return apperr.Internal(err)
	}
	return nil
}
