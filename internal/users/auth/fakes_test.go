// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/mailer"
	"github.com/taibuivan/decorly/internal/platform/sec"
	"github.com/taibuivan/decorly/internal/users/auth"
)

const testSecret = "decorly-test-secret-with-enough-bytes!!"

// # Clock

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (clock *fakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fakeClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

// # Users

type memoryUsers struct {
	mu    sync.Mutex
	byID  map[string]*auth.User
	email map[string]string
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[string]*auth.User{}, email: map[string]string{}}
}

func cloneUser(user *auth.User) *auth.User {
	clone := *user
	clone.PasswordHistory = append([]string(nil), user.PasswordHistory...)
	if user.OTPLock != nil {
		lock := *user.OTPLock
		clone.OTPLock = &lock
	}
	if user.ActivityLock != nil {
		lock := *user.ActivityLock
		clone.ActivityLock = &lock
	}
	return &clone
}

func (users *memoryUsers) Create(_ context.Context, user *auth.User) error {
	users.mu.Lock()
	defer users.mu.Unlock()
	if _, taken := users.email[user.Email]; taken {
		return apperr.DuplicateIdentity()
	}
	users.byID[user.ID] = cloneUser(user)
	users.email[user.Email] = user.ID
	return nil
}

func (users *memoryUsers) FindByID(_ context.Context, id string) (*auth.User, error) {
	users.mu.Lock()
	defer users.mu.Unlock()
	user, ok := users.byID[id]
	if !ok {
		return nil, apperr.NotFound("User")
	}
	return cloneUser(user), nil
}

func (users *memoryUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	users.mu.Lock()
	id, ok := users.email[email]
	users.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("User")
	}
	return users.FindByID(ctx, id)
}

func (users *memoryUsers) Mutate(_ context.Context, id string, fn func(user *auth.User) error) error {
	users.mu.Lock()
	defer users.mu.Unlock()
	stored, ok := users.byID[id]
	if !ok {
		return apperr.NotFound("User")
	}
	working := cloneUser(stored)
	if err := fn(working); err != nil {
		return err
	}
	users.byID[id] = working
	return nil
}

func (users *memoryUsers) LockActivity(_ context.Context, userID string, until time.Time) error {
	users.mu.Lock()
	defer users.mu.Unlock()
	if user, ok := users.byID[userID]; ok {
		user.ActivityLock = &auth.ActivityLock{LockedUntil: &until}
	}
	return nil
}

// get returns the stored record for assertions.
func (users *memoryUsers) get(t *testing.T, id string) *auth.User {
	t.Helper()
	user, err := users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

// # Sessions

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]auth.Session
	clock    *fakeClock
}

func newMemorySessions(clock *fakeClock) *memorySessions {
	return &memorySessions{sessions: map[string]auth.Session{}, clock: clock}
}

func (sessions *memorySessions) Create(_ context.Context, session *auth.Session) error {
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	sessions.sessions[session.ID] = *session
	return nil
}

func (sessions *memorySessions) FindValid(_ context.Context, id string) (*auth.Session, error) {
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	session, ok := sessions.sessions[id]
	if !ok || !session.Valid || !sessions.clock.Now().Before(session.ExpiresAt) {
		return nil, apperr.NotFound("Session")
	}
	return &session, nil
}

func (sessions *memorySessions) Revoke(_ context.Context, id string) error {
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if session, ok := sessions.sessions[id]; ok {
		session.Valid = false
		sessions.sessions[id] = session
	}
	return nil
}

func (sessions *memorySessions) DeleteExpired(_ context.Context) (int64, error) {
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	var removed int64
	for id, session := range sessions.sessions {
		if !sessions.clock.Now().Before(session.ExpiresAt) {
			delete(sessions.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (sessions *memorySessions) get(id string) (auth.Session, bool) {
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	session, ok := sessions.sessions[id]
	return session, ok
}

// # Pending signups

type memoryPending struct {
	mu      sync.Mutex
	records map[string]auth.PendingSignup
}

func newMemoryPending() *memoryPending {
	return &memoryPending{records: map[string]auth.PendingSignup{}}
}

func (pending *memoryPending) Save(_ context.Context, record *auth.PendingSignup, _ time.Duration) error {
	pending.mu.Lock()
	defer pending.mu.Unlock()
	pending.records[record.Email] = *record
	return nil
}

func (pending *memoryPending) Mutate(_ context.Context, email string, fn func(*auth.PendingSignup) auth.PendingAction) error {
	pending.mu.Lock()
	defer pending.mu.Unlock()
	record, ok := pending.records[email]
	if !ok {
		return apperr.NotFound("Pending signup")
	}
	if fn(&record) == auth.PendingDiscard {
		delete(pending.records, email)
		return nil
	}
	pending.records[email] = record
	return nil
}

func (pending *memoryPending) Delete(_ context.Context, email string) error {
	pending.mu.Lock()
	defer pending.mu.Unlock()
	delete(pending.records, email)
	return nil
}

// # Mail

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

type outbox struct {
	mu       sync.Mutex
	messages []mailer.Message
	fail     error
}

func (box *outbox) Send(_ context.Context, message mailer.Message) error {
	box.mu.Lock()
	defer box.mu.Unlock()
	if box.fail != nil {
		return box.fail
	}
	box.messages = append(box.messages, message)
	return nil
}

// lastCode extracts the passcode from the newest message sent to address.
func (box *outbox) lastCode(t *testing.T, address string) string {
	t.Helper()
	box.mu.Lock()
	defer box.mu.Unlock()
	for i := len(box.messages) - 1; i >= 0; i-- {
		if box.messages[i].To == address {
			match := codePattern.FindStringSubmatch(box.messages[i].Body)
			require.Len(t, match, 2)
			return match[1]
		}
	}
	t.Fatalf("no message sent to %s", address)
	return ""
}

func (box *outbox) count() int {
	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.messages)
}

// # Tokens

var errSigning = errors.New("signing key unavailable")

type brokenTokens struct{}

func (brokenTokens) Mint(string, string, time.Duration) (string, error) { return "", errSigning }
func (brokenTokens) Verify(string) (*sec.SessionClaims, error)        { return nil, sec.ErrInvalidToken }

// # Fixtures

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaKey = key
	})
	return rsaKey
}

func newHasher() *sec.PasswordHasher {
	return sec.NewPasswordHasher(bcrypt.MinCost)
}

// countingHasher records how often passwords reach hash comparison.
type countingHasher struct {
	*sec.PasswordHasher
	compares atomic.Int64
}

func newCountingHasher() *countingHasher {
	return &countingHasher{PasswordHasher: newHasher()}
}

func (hasher *countingHasher) Compare(raw, hash string) bool {
	hasher.compares.Add(1)
	return hasher.PasswordHasher.Compare(raw, hash)
}

func newDigests(t *testing.T) *sec.HMAC {
	t.Helper()
	digests, err := sec.NewHMAC(testSecret)
	require.NoError(t, err)
	return digests
}

// sequence returns a code generator yielding codes in order, then repeating the last.
func sequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	index := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[index]
		if index < len(codes)-1 {
			index++
		}
		return code, nil
	}
}

func assertCode(t *testing.T, err error, code string) *apperr.AppError {
	t.Helper()
	appError := apperr.As(err)
	require.NotNil(t, appError, "expected %s, got %v", code, err)
	require.Equal(t, code, appError.Code)
	return appError
}
