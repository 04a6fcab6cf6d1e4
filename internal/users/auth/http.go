// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/decorly/internal/platform/constants"
	"github.com/taibuivan/decorly/internal/platform/pipeline"
	"github.com/taibuivan/decorly/internal/platform/ratelimit"
	requestutil "github.com/taibuivan/decorly/internal/platform/request"
	"github.com/taibuivan/decorly/internal/platform/respond"
	"github.com/taibuivan/decorly/internal/platform/sec"
	"github.com/taibuivan/decorly/internal/platform/validate"
)

// # Definitions & Constructors

// ActivityGuard supplies the account-wide activity stage for authenticated routes.
type ActivityGuard interface {
	Stage(action string) pipeline.Stage
}

// Handler implements the authentication HTTP endpoints.
//
// # Scope
//
// Every route declares its guard pipeline explicitly. Public routes are
// rate limited per client address; authenticated routes resolve the session
// first, then consult the activity monitor before any route-specific gate.
type Handler struct {
	authService *Service
	rateGuard   *ratelimit.Guard
	activity    ActivityGuard
}

// NewHandler constructs a new [Handler].
func NewHandler(service *Service, rateGuard *ratelimit.Guard, activity ActivityGuard) *Handler {
	return &Handler{authService: service, rateGuard: rateGuard, activity: activity}
}

// Routes returns a [chi.Router] with the authentication routes.
//
// # Endpoints
//   - POST  /signup                  : Parks a signup and emails a code.
//   - POST  /verify-registration-otp : Creates the account.
//   - POST  /login                   : Password step; emails a code.
//   - POST  /verify-otp              : Passcode step; sets the session cookie.
//   - GET   /me                      : Current account.
//   - POST  /logout                  : Revokes the session.
//   - PATCH /password                : Changes the password.
//   - GET   /csrf-token              : Anti-forgery token for this session.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Method(http.MethodPost, "/signup",
		pipeline.New(handler.rateGuard.Stage(ratelimit.RouteSignup)).ThenFunc(handler.signup))
	router.Method(http.MethodPost, "/verify-registration-otp",
		pipeline.New(handler.rateGuard.Stage(ratelimit.RouteVerifyRegistration)).ThenFunc(handler.verifyRegistration))
	router.Method(http.MethodPost, "/login",
		pipeline.New(handler.rateGuard.Stage(ratelimit.RouteLogin)).ThenFunc(handler.login))
	router.Method(http.MethodPost, "/verify-otp",
		pipeline.New(handler.rateGuard.Stage(ratelimit.RouteVerifyOTP)).ThenFunc(handler.verifyOTP))

	// Authenticated endpoints
	router.Method(http.MethodGet, "/me",
		pipeline.New(handler.authenticated("me", handler.RequireFreshPassword())...).ThenFunc(handler.me))
	router.Method(http.MethodPost, "/logout",
		pipeline.New(handler.authenticated("logout", handler.RequireCSRF())...).ThenFunc(handler.logout))
	router.Method(http.MethodGet, "/csrf-token",
		pipeline.New(handler.authenticated("csrf_token")...).ThenFunc(handler.csrfToken))
	router.Method(http.MethodPatch, "/password",
		pipeline.New(handler.rateGuard.Stage(ratelimit.RoutePassword)).
			Append(handler.authenticated("change_password", handler.RequireCSRF())...).
			ThenFunc(handler.changePassword))

	return router
}

// authenticated declares session → activity → extra.
func (handler *Handler) authenticated(action string, extra ...pipeline.Stage) []pipeline.Stage {
	return append([]pipeline.Stage{handler.RequireSession(), handler.activity.Stage(action)}, extra...)
}

// # Request Payloads

type signupRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// # Response Payloads

type messageResponse struct {
	Message string `json:"message"`
}

type userResponse struct {
	Message string   `json:"message,omitempty"`
	User    *Profile `json:"user"`
}

type csrfResponse struct {
	Token string `json:"csrf_token"`
}

// # Registration

/*
Signup parks a new account and emails the registration code.

POST /signup

Response:
  - 200: {"message": "OTP sent"}
  - 400: VALIDATION_ERROR, WEAK_PASSWORD, DUPLICATE_IDENTITY
  - 429: RATE_LIMITED
*/
func (handler *Handler) signup(writer http.ResponseWriter, request *http.Request) {
	var input signupRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldFullName, input.FullName).
		MaxLen(FieldFullName, input.FullName, 100).
		Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email).
		Required(FieldPassword, input.Password).
		Required(FieldRole, input.Role).
		OneOf(FieldRole, input.Role, string(sec.RoleClient), string(sec.RoleDesigner))

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err := handler.authService.Signup(request.Context(), SignupInput{
		FullName: input.FullName,
		Email:    input.Email,
		Password: input.Password,
		Role:     sec.UserRole(input.Role),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, messageResponse{Message: "OTP sent"})
}

/*
VerifyRegistration creates the account once the registration code matches.

POST /verify-registration-otp

Response:
  - 200: {"message": "Account created", "user": Profile}
  - 400: OTP_INVALID_OR_EXPIRED, VALIDATION_ERROR
*/
func (handler *Handler) verifyRegistration(writer http.ResponseWriter, request *http.Request) {
	input, ok := decodeOTP(writer, request)
	if !ok {
		return
	}

	user, err := handler.authService.VerifyRegistration(request.Context(), input.Email, input.OTP)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, userResponse{Message: "Account created", User: user.Profile()})
}

// # Login

/*
Login performs the password step.

POST /login

Response:
  - 200: {"message": "OTP sent"}
  - 401: CREDENTIAL_MISMATCH
  - 429: RATE_LIMITED, ACCOUNT_LOCKED (bruteforce, otpLockout)
  - 403: ACCOUNT_LOCKED (activityFlood)
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Required(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err := handler.authService.Login(request.Context(), LoginInput{
		Email:     input.Email,
		Password:  input.Password,
		Address:   requestutil.ClientAddr(request),
		UserAgent: request.UserAgent(),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, messageResponse{Message: "OTP sent"})
}

/*
VerifyOTP performs the passcode step and sets the session cookie.

POST /verify-otp

Response:
  - 200: {"user": Profile} + Set-Cookie
  - 400: OTP_INVALID_OR_EXPIRED
  - 429: RATE_LIMITED, ACCOUNT_LOCKED (otpLockout)
*/
func (handler *Handler) verifyOTP(writer http.ResponseWriter, request *http.Request) {
	input, ok := decodeOTP(writer, request)
	if !ok {
		return
	}

	result, err := handler.authService.VerifyLogin(request.Context(), VerifyLoginInput{
		Email:     input.Email,
		Code:      input.OTP,
		Address:   requestutil.ClientAddr(request),
		UserAgent: request.UserAgent(),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	setSessionCookie(writer, result.Token)
	respond.OK(writer, userResponse{User: result.User.Profile()})
}

// # Session

func (handler *Handler) me(writer http.ResponseWriter, request *http.Request) {
	principal, err := requestutil.RequiredPrincipal(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.authService.Me(request.Context(), principal.UserID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, userResponse{User: user.Profile()})
}

/*
Logout revokes the current session and clears the cookie.

POST /logout

Response:
  - 200: {"message": "Logged out"}
  - 401: SESSION_INVALID
  - 403: FORBIDDEN (missing or wrong CSRF token)
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	principal, err := requestutil.RequiredPrincipal(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.Logout(request.Context(), principal.SessionID); err != nil {
		respond.Error(writer, request, err)
		return
	}

	clearSessionCookie(writer)
	respond.OK(writer, messageResponse{Message: "Logged out"})
}

func (handler *Handler) csrfToken(writer http.ResponseWriter, request *http.Request) {
	principal, err := requestutil.RequiredPrincipal(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, csrfResponse{Token: handler.authService.CSRFToken(principal.SessionID)})
}

/*
ChangePassword replaces the caller's password.

PATCH /password

Description: Reachable with an expired password; this is how the gate is lifted.

Response:
  - 200: {"message": "Password updated"}
  - 400: WEAK_PASSWORD, PASSWORD_REUSED, VALIDATION_ERROR
  - 401: CREDENTIAL_MISMATCH, SESSION_INVALID
  - 403: FORBIDDEN (CSRF)
*/
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	principal, err := requestutil.RequiredPrincipal(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input changePasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldCurrentPassword, input.CurrentPassword).
		Required(FieldNewPassword, input.NewPassword)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.authService.ChangePassword(request.Context(), principal.UserID, input.CurrentPassword, input.NewPassword)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, messageResponse{Message: "Password updated"})
}

// # Helpers

func decodeOTP(writer http.ResponseWriter, request *http.Request) (otpRequest, bool) {
	var input otpRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return input, false
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Required(FieldOTP, input.OTP).
		Digits(FieldOTP, input.OTP, 6)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return input, false
	}
	return input, true
}

func setSessionCookie(writer http.ResponseWriter, token string) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    token,
		Path:     constants.SessionCookiePath,
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    "",
		Path:     constants.SessionCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
