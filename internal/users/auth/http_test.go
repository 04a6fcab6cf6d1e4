// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/constants"
	"github.com/taibuivan/decorly/internal/platform/counter"
	"github.com/taibuivan/decorly/internal/platform/ratelimit"
	"github.com/taibuivan/decorly/internal/platform/respond"
	"github.com/taibuivan/decorly/internal/platform/sec"
	"github.com/taibuivan/decorly/internal/users/activity"
	"github.com/taibuivan/decorly/internal/users/auth"
)

// # Harness

type activityLog struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (log *activityLog) Append(_ context.Context, entry *activity.Entry) error {
	log.mu.Lock()
	defer log.mu.Unlock()
	log.entries = append(log.entries, *entry)
	return nil
}

func (log *activityLog) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	log.mu.Lock()
	defer log.mu.Unlock()
	count := 0
	for _, entry := range log.entries {
		if entry.UserID == userID && !entry.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	users    *memoryUsers
	sessions *memorySessions
	pending  *memoryPending
	mail     *outbox
	hasher   *countingHasher
	router   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newClock()
	users := newMemoryUsers()
	sessions := newMemorySessions(clock)
	pending := newMemoryPending()
	mail := &outbox{}
	hasher := newCountingHasher()
	counters := counter.NewMemory(counter.WithClock(clock.Now))

	service, err := auth.NewService(auth.Dependencies{
		Users:          users,
		Sessions:       sessions,
		PendingSignups: pending,
		Hasher:         hasher,
		Digests:        newDigests(t),
		Tokens:         sec.NewTokenServiceFromKey(signingKey(t), "decorly.test", sec.WithClock(clock.Now)),
		Counters:       counters,
		Mailer:         mail,
		Now:            clock.Now,
	})
	require.NoError(t, err)

	monitor := activity.NewMonitor(&activityLog{}, users, activity.WithClock(clock.Now))
	handler := auth.NewHandler(service, ratelimit.NewGuard(counters, ratelimit.DefaultPolicies()...), monitor)

	return &harness{
		t:        t,
		clock:    clock,
		users:    users,
		sessions: sessions,
		pending:  pending,
		mail:     mail,
		hasher:   hasher,
		router:   handler.Routes(),
	}
}

type call struct {
	method  string
	path    string
	body    any
	addr    string
	cookie  *http.Cookie
	headers map[string]string
}

func (h *harness) do(c call) *httptest.ResponseRecorder {
	h.t.Helper()

	var payload bytes.Buffer
	if c.body != nil {
		require.NoError(h.t, json.NewEncoder(&payload).Encode(c.body))
	}

	request := httptest.NewRequest(c.method, c.path, &payload)
	request.Header.Set("Content-Type", "application/json")
	request.RemoteAddr = "198.51.100.10:41000"
	if c.addr != "" {
		request.RemoteAddr = c.addr + ":41000"
	}
	if c.cookie != nil {
		request.AddCookie(c.cookie)
	}
	for name, value := range c.headers {
		request.Header.Set(name, value)
	}

	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) respond.ErrorEnvelope {
	t.Helper()
	var envelope respond.ErrorEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope
}

type profileEnvelope struct {
	Data struct {
		Message string       `json:"message"`
		User    auth.Profile `json:"user"`
	} `json:"data"`
}

func decodeProfile(t *testing.T, recorder *httptest.ResponseRecorder) profileEnvelope {
	t.Helper()
	var envelope profileEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope
}

func sessionCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == constants.SessionCookieName {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

// register drives signup and registration verification for email.
func (h *harness) register(email, password string) auth.Profile {
	h.t.Helper()
	signup := h.do(call{method: http.MethodPost, path: "/signup", body: map[string]string{
		"full_name": "Test User", "email": email, "password": password, "role": "designer",
	}})
	require.Equal(h.t, http.StatusOK, signup.Code, signup.Body.String())

	verify := h.do(call{method: http.MethodPost, path: "/verify-registration-otp", body: map[string]string{
		"email": email, "otp": h.mail.lastCode(h.t, email),
	}})
	require.Equal(h.t, http.StatusOK, verify.Code, verify.Body.String())
	return decodeProfile(h.t, verify).Data.User
}

// login drives both login steps and returns the session cookie.
func (h *harness) login(email, password string) *http.Cookie {
	h.t.Helper()
	login := h.do(call{method: http.MethodPost, path: "/login", body: map[string]string{"email": email, "password": password}})
	require.Equal(h.t, http.StatusOK, login.Code, login.Body.String())

	verify := h.do(call{method: http.MethodPost, path: "/verify-otp", body: map[string]string{
		"email": email, "otp": h.mail.lastCode(h.t, email),
	}})
	require.Equal(h.t, http.StatusOK, verify.Code, verify.Body.String())
	return sessionCookie(h.t, verify)
}

func (h *harness) csrf(cookie *http.Cookie) string {
	h.t.Helper()
	recorder := h.do(call{method: http.MethodGet, path: "/csrf-token", cookie: cookie})
	require.Equal(h.t, http.StatusOK, recorder.Code, recorder.Body.String())

	var envelope struct {
		Data struct {
			Token string `json:"csrf_token"`
		} `json:"data"`
	}
	require.NoError(h.t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	require.NotEmpty(h.t, envelope.Data.Token)
	return envelope.Data.Token
}

func routeLimit(t *testing.T, route ratelimit.Route) int {
	t.Helper()
	for _, policy := range ratelimit.DefaultPolicies() {
		if policy.Route == route {
			return policy.Max
		}
	}
	t.Fatalf("no policy for %s", route)
	return 0
}

// # Scenarios

/*
TestScenario_SignupLoginLogout walks a client from signup to logout.
*/
func TestScenario_SignupLoginLogout(t *testing.T) {
	h := newHarness(t)

	signup := h.do(call{method: http.MethodPost, path: "/signup", body: map[string]string{
		"full_name": "Jane Doe", "email": "jane@x.com", "password": "Str0ng!Pass", "role": "client",
	}})
	require.Equal(t, http.StatusOK, signup.Code, signup.Body.String())
	assert.JSONEq(t, `{"data":{"message":"OTP sent"}}`, signup.Body.String())

	// No account exists until the code is verified.
	_, err := h.users.FindByEmail(context.Background(), "jane@x.com")
	assertCode(t, err, "NOT_FOUND")

	verify := h.do(call{method: http.MethodPost, path: "/verify-registration-otp", body: map[string]string{
		"email": "jane@x.com", "otp": h.mail.lastCode(t, "jane@x.com"),
	}})
	require.Equal(t, http.StatusOK, verify.Code, verify.Body.String())

	user, err := h.users.FindByEmail(context.Background(), "jane@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!Pass", user.PasswordHash)
	assert.Empty(t, h.pending.records)

	login := h.do(call{method: http.MethodPost, path: "/login", body: map[string]string{"email": "jane@x.com", "password": "Str0ng!Pass"}})
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	assert.Equal(t, 2, h.mail.count())

	verifyOTP := h.do(call{method: http.MethodPost, path: "/verify-otp", body: map[string]string{
		"email": "jane@x.com", "otp": h.mail.lastCode(t, "jane@x.com"),
	}})
	require.Equal(t, http.StatusOK, verifyOTP.Code, verifyOTP.Body.String())

	cookie := sessionCookie(t, verifyOTP)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, int(auth.SessionTTL.Seconds()), cookie.MaxAge)

	me := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	assert.Equal(t, sec.RoleClient, decodeProfile(t, me).Data.User.Role)

	token := h.csrf(cookie)
	logout := h.do(call{method: http.MethodPost, path: "/logout", cookie: cookie, headers: map[string]string{constants.HeaderCSRFToken: token}})
	require.Equal(t, http.StatusOK, logout.Code, logout.Body.String())

	after := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
	assert.Equal(t, http.StatusUnauthorized, after.Code)
	assert.Equal(t, "SESSION_INVALID", decodeError(t, after).Code)
}

/*
TestScenario_BruteForceLock verifies five failed logins lock the identity,
even for the correct password.
*/
func TestScenario_BruteForceLock(t *testing.T) {
	h := newHarness(t)
	h.register("bob@x.com", "B0b!Secret")

	for attempt := 1; attempt <= auth.LoginMaxFailures; attempt++ {
		h.clock.Advance(time.Minute)
		recorder := h.do(call{
			method: http.MethodPost, path: "/login",
			addr: fmt.Sprintf("203.0.113.%d", attempt),
			body: map[string]string{"email": "bob@x.com", "password": "wrong-password"},
		})
		require.Equal(t, http.StatusUnauthorized, recorder.Code, "attempt %d", attempt)
		assert.Equal(t, "CREDENTIAL_MISMATCH", decodeError(t, recorder).Code)
	}

	h.clock.Advance(time.Minute)
	compares := h.hasher.compares.Load()
	recorder := h.do(call{
		method: http.MethodPost, path: "/login", addr: "203.0.113.99",
		body: map[string]string{"email": "BOB@x.com", "password": "B0b!Secret"},
	})

	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Equal(t, compares, h.hasher.compares.Load(), "locked identity reached hash comparison")
	envelope := decodeError(t, recorder)
	assert.Equal(t, "ACCOUNT_LOCKED", envelope.Code)
	assert.Equal(t, apperr.LockBruteForce, envelope.Reason)
	assert.Contains(t, envelope.Error, "14 minutes")

	retryAfter, err := strconv.Atoi(recorder.Header().Get(constants.HeaderRetryAfter))
	require.NoError(t, err)
	assert.Equal(t, int((auth.LoginWindow - time.Minute).Seconds()), retryAfter)

	// The correct password works once the lock lapses.
	h.clock.Advance(auth.LoginWindow)
	cookie := h.login("bob@x.com", "B0b!Secret")
	assert.NotEmpty(t, cookie.Value)
}

/*
TestScenario_BruteForceLock_SingleClient replays the lock from one address,
where the route limit must not mask the account lock.
*/
func TestScenario_BruteForceLock_SingleClient(t *testing.T) {
	h := newHarness(t)
	h.register("bob@x.com", "B0b!Secret")

	login := func(password string) *httptest.ResponseRecorder {
		return h.do(call{
			method: http.MethodPost, path: "/login", addr: "203.0.113.7",
			body: map[string]string{"email": "bob@x.com", "password": password},
		})
	}

	for attempt := 1; attempt <= auth.LoginMaxFailures; attempt++ {
		recorder := login("wrong-password")
		require.Equal(t, http.StatusUnauthorized, recorder.Code, "attempt %d", attempt)
	}

	compares := h.hasher.compares.Load()
	locked := login("B0b!Secret")
	require.Equal(t, http.StatusTooManyRequests, locked.Code)
	envelope := decodeError(t, locked)
	assert.Equal(t, "ACCOUNT_LOCKED", envelope.Code)
	assert.Equal(t, apperr.LockBruteForce, envelope.Reason)
	assert.Equal(t, compares, h.hasher.compares.Load())
}

// # Guards

/*
TestRateGuard_FixedWindow verifies per-address limits on a public route.
*/
func TestRateGuard_FixedWindow(t *testing.T) {
	h := newHarness(t)
	attempt := 0
	login := func(addr string) *httptest.ResponseRecorder {
		attempt++
		body := map[string]string{"email": fmt.Sprintf("nobody%d@x.com", attempt), "password": "irrelevant"}
		return h.do(call{method: http.MethodPost, path: "/login", addr: addr, body: body})
	}

	for i := 0; i < routeLimit(t, ratelimit.RouteLogin); i++ {
		recorder := login("192.0.2.1")
		require.Equal(t, http.StatusUnauthorized, recorder.Code)
	}

	limited := login("192.0.2.1")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, limited).Code)
	assert.NotEmpty(t, limited.Header().Get(constants.HeaderRetryAfter))

	assert.Equal(t, http.StatusUnauthorized, login("192.0.2.2").Code)

	h.clock.Advance(15*time.Minute + time.Second)
	assert.Equal(t, http.StatusUnauthorized, login("192.0.2.1").Code)
}

/*
TestCSRF verifies state-changing calls require the session's CSRF token.
*/
func TestCSRF(t *testing.T) {
	h := newHarness(t)
	h.register("jane@x.com", "Str0ng!Pass")
	cookie := h.login("jane@x.com", "Str0ng!Pass")

	missing := h.do(call{method: http.MethodPost, path: "/logout", cookie: cookie})
	assert.Equal(t, http.StatusForbidden, missing.Code)

	other := h.login("jane@x.com", "Str0ng!Pass")
	foreign := h.do(call{method: http.MethodPost, path: "/logout", cookie: cookie, headers: map[string]string{constants.HeaderCSRFToken: h.csrf(other)}})
	assert.Equal(t, http.StatusForbidden, foreign.Code)

	me := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
	assert.Equal(t, http.StatusOK, me.Code)
}

/*
TestPasswordExpiryGate verifies an expired password blocks /me but not the change itself.
*/
func TestPasswordExpiryGate(t *testing.T) {
	h := newHarness(t)
	profile := h.register("jane@x.com", "Str0ng!Pass")

	require.NoError(t, h.users.Mutate(context.Background(), profile.ID, func(user *auth.User) error {
		user.PasswordChangedAt = h.clock.Now().Add(-auth.PasswordMaxAge - time.Hour)
		return nil
	}))

	// Session creation is still allowed.
	cookie := h.login("jane@x.com", "Str0ng!Pass")

	blocked := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
	require.Equal(t, http.StatusForbidden, blocked.Code)
	assert.Equal(t, apperr.LockPasswordExpired, decodeError(t, blocked).Reason)

	change := h.do(call{
		method: http.MethodPatch, path: "/password", cookie: cookie,
		headers: map[string]string{constants.HeaderCSRFToken: h.csrf(cookie)},
		body:    map[string]string{"current_password": "Str0ng!Pass", "new_password": "N3w!Password"},
	})
	require.Equal(t, http.StatusOK, change.Code, change.Body.String())

	me := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
	assert.Equal(t, http.StatusOK, me.Code)
}

/*
TestChangePassword_Reuse verifies the endpoint surfaces history rejections.
*/
func TestChangePassword_Reuse(t *testing.T) {
	h := newHarness(t)
	h.register("jane@x.com", "Str0ng!Pass")
	cookie := h.login("jane@x.com", "Str0ng!Pass")

	reuse := h.do(call{
		method: http.MethodPatch, path: "/password", cookie: cookie,
		headers: map[string]string{constants.HeaderCSRFToken: h.csrf(cookie)},
		body:    map[string]string{"current_password": "Str0ng!Pass", "new_password": "Str0ng!Pass"},
	})
	require.Equal(t, http.StatusBadRequest, reuse.Code)
	assert.Equal(t, "PASSWORD_REUSED", decodeError(t, reuse).Code)
}

/*
TestActivityFlood verifies the account-wide lock engages after the threshold
and applies to every authenticated route.
*/
func TestActivityFlood(t *testing.T) {
	h := newHarness(t)
	h.register("jane@x.com", "Str0ng!Pass")
	cookie := h.login("jane@x.com", "Str0ng!Pass")

	for i := 0; i < activity.Threshold; i++ {
		recorder := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
		require.Equal(t, http.StatusOK, recorder.Code, "action %d", i+1)
	}

	flooded := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
	require.Equal(t, http.StatusForbidden, flooded.Code)
	assert.Equal(t, apperr.LockActivityFlood, decodeError(t, flooded).Reason)

	csrf := h.do(call{method: http.MethodGet, path: "/csrf-token", cookie: cookie})
	assert.Equal(t, http.StatusForbidden, csrf.Code)

	login := h.do(call{method: http.MethodPost, path: "/login", addr: "192.0.2.50", body: map[string]string{"email": "jane@x.com", "password": "Str0ng!Pass"}})
	assert.Equal(t, http.StatusForbidden, login.Code)

	h.clock.Advance(activity.LockDuration + time.Second)
	recovered := h.do(call{method: http.MethodGet, path: "/me", cookie: cookie})
	assert.Equal(t, http.StatusOK, recovered.Code)
}

/*
TestActivityFlood_KeepsLoginChallenge verifies a flood-locked account does not
spend its passcode at verify-otp.
*/
func TestActivityFlood_KeepsLoginChallenge(t *testing.T) {
	h := newHarness(t)
	profile := h.register("jane@x.com", "Str0ng!Pass")

	login := h.do(call{method: http.MethodPost, path: "/login", body: map[string]string{"email": "jane@x.com", "password": "Str0ng!Pass"}})
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	code := h.mail.lastCode(t, "jane@x.com")

	until := h.clock.Now().Add(time.Minute)
	require.NoError(t, h.users.Mutate(context.Background(), profile.ID, func(user *auth.User) error {
		user.ActivityLock = &auth.ActivityLock{LockedUntil: &until}
		return nil
	}))

	verify := func() *httptest.ResponseRecorder {
		return h.do(call{method: http.MethodPost, path: "/verify-otp", body: map[string]string{"email": "jane@x.com", "otp": code}})
	}

	flooded := verify()
	require.Equal(t, http.StatusForbidden, flooded.Code)
	assert.Equal(t, apperr.LockActivityFlood, decodeError(t, flooded).Reason)

	h.clock.Advance(2 * time.Minute)
	accepted := verify()
	require.Equal(t, http.StatusOK, accepted.Code, accepted.Body.String())
	assert.NotEmpty(t, sessionCookie(t, accepted).Value)
}

// # Registration edge cases

/*
TestSignup_Validation covers malformed signups.
*/
func TestSignup_Validation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"bad email", map[string]string{"full_name": "A", "email": "nope", "password": "Str0ng!Pass", "role": "client"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad role", map[string]string{"full_name": "A", "email": "a@x.com", "password": "Str0ng!Pass", "role": "admin"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"weak password", map[string]string{"full_name": "A", "email": "a@x.com", "password": "weakpass", "role": "client"}, http.StatusBadRequest, "WEAK_PASSWORD"},
		{"password over 72 bytes", map[string]string{"full_name": "A", "email": "a@x.com", "password": "Aa1!" + strings.Repeat("x", 80), "role": "client"}, http.StatusBadRequest, "WEAK_PASSWORD"},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := h.do(call{method: http.MethodPost, path: "/signup", addr: fmt.Sprintf("192.0.2.%d", i+1), body: tc.body})
			assert.Equal(t, tc.status, recorder.Code)
			assert.Equal(t, tc.code, decodeError(t, recorder).Code)
		})
	}

	unknown := h.do(call{method: http.MethodPost, path: "/signup", addr: "192.0.2.200", body: map[string]string{"username": "jane"}})
	assert.Equal(t, http.StatusBadRequest, unknown.Code)
}

/*
TestSignup_Duplicate verifies an existing identity cannot sign up again.
*/
func TestSignup_Duplicate(t *testing.T) {
	h := newHarness(t)
	h.register("jane@x.com", "Str0ng!Pass")

	recorder := h.do(call{method: http.MethodPost, path: "/signup", body: map[string]string{
		"full_name": "Jane", "email": "Jane@X.com", "password": "Str0ng!Pass", "role": "client",
	}})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "DUPLICATE_IDENTITY", decodeError(t, recorder).Code)
}

/*
TestSignup_MailFailure verifies delivery failure fails the call and leaves nothing pending.
*/
func TestSignup_MailFailure(t *testing.T) {
	h := newHarness(t)
	h.mail.fail = errors.New("smtp down")

	recorder := h.do(call{method: http.MethodPost, path: "/signup", body: map[string]string{
		"full_name": "Jane", "email": "jane@x.com", "password": "Str0ng!Pass", "role": "client",
	}})
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Empty(t, h.pending.records)
}

/*
TestVerifyRegistration_Attempts verifies wrong codes are counted and the
pending signup is discarded after the last allowed attempt.
*/
func TestVerifyRegistration_Attempts(t *testing.T) {
	h := newHarness(t)

	signup := h.do(call{method: http.MethodPost, path: "/signup", body: map[string]string{
		"full_name": "Jane", "email": "jane@x.com", "password": "Str0ng!Pass", "role": "client",
	}})
	require.Equal(t, http.StatusOK, signup.Code)
	code := h.mail.lastCode(t, "jane@x.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for attempt := 1; attempt <= auth.PendingSignupMaxAttempts; attempt++ {
		recorder := h.do(call{method: http.MethodPost, path: "/verify-registration-otp", body: map[string]string{"email": "jane@x.com", "otp": wrong}})
		require.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Equal(t, "OTP_INVALID_OR_EXPIRED", decodeError(t, recorder).Code)
	}

	late := h.do(call{method: http.MethodPost, path: "/verify-registration-otp", body: map[string]string{"email": "jane@x.com", "otp": code}})
	assert.Equal(t, http.StatusBadRequest, late.Code)
	_, err := h.users.FindByEmail(context.Background(), "jane@x.com")
	assertCode(t, err, "NOT_FOUND")
}
