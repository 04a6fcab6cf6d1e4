// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/sec"
)

// TokenIssuer mints and verifies the signed bearer token referencing a session.
type TokenIssuer interface {
	Mint(userID, sessionID string, timeToLive time.Duration) (string, error)
	Verify(token string) (*sec.SessionClaims, error)
}

// Sessions pairs the session registry with the token issuer.
//
// A request is authenticated only when the token signature and expiry are
// valid AND the referenced session is still valid; either mechanism alone
// can end access. Several sessions per user may be valid at once.
type Sessions struct {
	repository SessionRepository
	tokens     TokenIssuer
	now        func() time.Time
}

// NewSessions builds the session component.
func NewSessions(repository SessionRepository, tokens TokenIssuer, now func() time.Time) *Sessions {
	return &Sessions{repository: repository, tokens: tokens, now: now}
}

/*
Create inserts a new valid session.

Parameters:
  - context: context.Context
  - userID: string
  - address: string (client IP at creation)
  - userAgent: string

Returns:
  - *Session: The stored session
  - error: Storage errors
*/
func (sessions *Sessions) Create(context context.Context, userID, address, userAgent string) (*Session, error) {
	id, err := sec.GenerateSecureToken(SessionIDLength)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := sessions.now()
	session := &Session{
		ID:        id,
		UserID:    userID,
		IPAddress: address,
		UserAgent: userAgent,
		Valid:     true,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}

	if err := sessions.repository.Create(context, session); err != nil {
		return nil, err
	}
	return session, nil
}

/*
Validate returns the session when it exists, is valid and is unexpired.

Returns:
  - *Session: The live session
  - error: apperr.SessionInvalid otherwise
*/
func (sessions *Sessions) Validate(context context.Context, sessionID string) (*Session, error) {
	session, err := sessions.repository.FindValid(context, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.SessionInvalid()
		}
		return nil, err
	}

	if !session.Valid || !sessions.now().Before(session.ExpiresAt) {
		return nil, apperr.SessionInvalid()
	}
	return session, nil
}

/*
Revoke invalidates the session. Revoking twice is not an error.
*/
func (sessions *Sessions) Revoke(context context.Context, sessionID string) error {
	return sessions.repository.Revoke(context, sessionID)
}

/*
Open creates a session and mints its token as one unit: if minting fails
the fresh session is revoked before the error is returned.

Returns:
  - string: Signed bearer token
  - *Session: The created session
  - error: Storage or signing errors
*/
func (sessions *Sessions) Open(context context.Context, userID, address, userAgent string) (string, *Session, error) {
	session, err := sessions.Create(context, userID, address, userAgent)
	if err != nil {
		return "", nil, err
	}

	token, err := sessions.tokens.Mint(userID, session.ID, SessionTTL)
	if err != nil {
		if revokeErr := sessions.repository.Revoke(context, session.ID); revokeErr != nil {
			err = errors.Join(err, revokeErr)
		}
		return "", nil, apperr.Internal(fmt.Errorf("auth_sessions_mint_failed: %w", err))
	}

	return token, session, nil
}

/*
Authenticate verifies the token, then the session it references.

Returns:
  - *Session: The live session
  - error: apperr.SessionInvalid for any bad signature, expiry, revocation or mismatch
*/
func (sessions *Sessions) Authenticate(context context.Context, token string) (*Session, error) {
	claims, err := sessions.tokens.Verify(token)
	if err != nil {
		return nil, apperr.SessionInvalid()
	}

	session, err := sessions.Validate(context, claims.SessionID)
	if err != nil {
		return nil, err
	}

	if session.UserID != claims.UserID {
		return nil, apperr.SessionInvalid()
	}
	return session, nil
}

// Reap deletes expired sessions every interval until ctx is cancelled.
func (sessions *Sessions) Reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := ctxutil.GetLogger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sessions.repository.DeleteExpired(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "session_reap_failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.InfoContext(ctx, "session_reaped", slog.Int64("removed", removed))
			}
		}
	}
}
