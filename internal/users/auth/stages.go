// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"log/slog"
	"net/http"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/constants"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/pipeline"
	requestutil "github.com/taibuivan/decorly/internal/platform/request"
)

// # Guard Stages

// RequireSession resolves the session cookie into a principal.
// The request logger is enriched with the user id from here on.
func (handler *Handler) RequireSession() pipeline.Stage {
	return pipeline.Stage{
		Name: "session",
		Check: func(request *http.Request) pipeline.Result {
			cookie, err := request.Cookie(constants.SessionCookieName)
			if err != nil || cookie.Value == "" {
				return pipeline.Reject(apperr.SessionInvalid())
			}

			principal, err := handler.authService.Authenticate(request.Context(), cookie.Value)
			if err != nil {
				return pipeline.Reject(err)
			}

			ctx := ctxutil.WithPrincipal(request.Context(), principal)
			logger := ctxutil.GetLogger(ctx).With(slog.String("user_id", principal.UserID))
			ctx = ctxutil.WithLogger(ctx, logger)

			return pipeline.Admit(request.WithContext(ctx))
		},
	}
}

// RequireFreshPassword rejects principals whose password is past its maximum age.
func (handler *Handler) RequireFreshPassword() pipeline.Stage {
	return pipeline.Stage{
		Name: "password_age",
		Check: func(request *http.Request) pipeline.Result {
			principal, err := requestutil.RequiredPrincipal(request)
			if err != nil {
				return pipeline.Reject(err)
			}
			if handler.authService.PasswordExpired(principal) {
				return pipeline.Reject(apperr.AccountLocked(apperr.LockPasswordExpired, 0))
			}
			return pipeline.Admit(request)
		},
	}
}

// RequireCSRF checks the X-CSRF-Token header against the session's token.
func (handler *Handler) RequireCSRF() pipeline.Stage {
	return pipeline.Stage{
		Name: "csrf",
		Check: func(request *http.Request) pipeline.Result {
			principal, err := requestutil.RequiredPrincipal(request)
			if err != nil {
				return pipeline.Reject(err)
			}
			if !handler.authService.VerifyCSRF(principal.SessionID, request.Header.Get(constants.HeaderCSRFToken)) {
				return pipeline.Reject(apperr.Forbidden("Invalid or missing CSRF token"))
			}
			return pipeline.Admit(request)
		},
	}
}
