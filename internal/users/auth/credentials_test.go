// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/decorly/internal/platform/sec"
	"github.com/taibuivan/decorly/internal/users/auth"
)

func newCredentials(t *testing.T, clock *fakeClock) (*auth.Credentials, *memoryUsers) {
	t.Helper()
	users := newMemoryUsers()
	credentials, err := auth.NewCredentials(users, newHasher(), clock.Now)
	require.NoError(t, err)
	return credentials, users
}

/*
TestCredentials_Register covers the password policy, hashing and identity normalisation.
*/
func TestCredentials_Register(t *testing.T) {
	ctx := context.Background()
	credentials, users := newCredentials(t, newClock())

	t.Run("weak password", func(t *testing.T) {
		_, err := credentials.Register(ctx, "weak@x.com", "Weak", "password", sec.RoleClient)
		appError := assertCode(t, err, "WEAK_PASSWORD")
		assert.NotEmpty(t, appError.Details)
	})

	t.Run("longer than bcrypt accepts", func(t *testing.T) {
		_, err := credentials.Register(ctx, "long@x.com", "Long", "Aa1!"+strings.Repeat("x", 80), sec.RoleClient)
		assertCode(t, err, "WEAK_PASSWORD")
	})

	t.Run("stored as hash", func(t *testing.T) {
		user, err := credentials.Register(ctx, "  Jane@X.com ", "Jane Doe", "Str0ng!Pass", sec.RoleClient)
		require.NoError(t, err)
		assert.Equal(t, "jane@x.com", user.Email)
		assert.NotEqual(t, "Str0ng!Pass", user.PasswordHash)
		assert.Equal(t, []string{user.PasswordHash}, user.PasswordHistory)

		stored, err := users.FindByEmail(ctx, "jane@x.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, stored.ID)
	})

	t.Run("duplicate identity", func(t *testing.T) {
		_, err := credentials.Register(ctx, "JANE@x.com", "Jane Again", "Str0ng!Pass", sec.RoleDesigner)
		assertCode(t, err, "DUPLICATE_IDENTITY")
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := credentials.Register(ctx, "admin@x.com", "Admin", "Str0ng!Pass", sec.UserRole("admin"))
		assertCode(t, err, "VALIDATION_ERROR")
	})
}

/*
TestCredentials_VerifyPassword checks matching, mismatching and unknown identities.
*/
func TestCredentials_VerifyPassword(t *testing.T) {
	ctx := context.Background()
	credentials, _ := newCredentials(t, newClock())

	_, err := credentials.Register(ctx, "jane@x.com", "Jane Doe", "Str0ng!Pass", sec.RoleClient)
	require.NoError(t, err)

	user, ok, err := credentials.VerifyPassword(ctx, "jane@x.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "jane@x.com", user.Email)

	_, ok, err = credentials.VerifyPassword(ctx, "jane@x.com", "Wr0ng!Pass")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = credentials.VerifyPassword(ctx, "nobody@x.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.False(t, ok)
}

/*
TestCredentials_ChangePassword_History verifies the last five passwords are
rejected and a sixth-generation one is accepted again.
*/
func TestCredentials_ChangePassword_History(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	credentials, users := newCredentials(t, clock)

	password := func(generation int) string { return fmt.Sprintf("Str0ng!Pass%d", generation) }

	user, err := credentials.Register(ctx, "jane@x.com", "Jane Doe", password(0), sec.RoleClient)
	require.NoError(t, err)

	for generation := 1; generation <= 4; generation++ {
		clock.Advance(time.Hour)
		require.NoError(t, credentials.ChangePassword(ctx, user.ID, password(generation-1), password(generation)))
	}

	// History now holds generations 0..4.
	for generation := 0; generation <= 4; generation++ {
		err := credentials.ChangePassword(ctx, user.ID, password(4), password(generation))
		assertCode(t, err, "PASSWORD_REUSED")
	}

	require.NoError(t, credentials.ChangePassword(ctx, user.ID, password(4), password(5)))
	stored := users.get(t, user.ID)
	assert.Len(t, stored.PasswordHistory, auth.PasswordHistorySize)
	assert.Equal(t, stored.PasswordHash, stored.PasswordHistory[len(stored.PasswordHistory)-1])

	// Generation 0 was evicted.
	require.NoError(t, credentials.ChangePassword(ctx, user.ID, password(5), password(0)))
	_, ok, err := credentials.VerifyPassword(ctx, "jane@x.com", password(0))
	require.NoError(t, err)
	assert.True(t, ok)
}

/*
TestCredentials_ChangePassword_Failures verifies rejected changes leave the record untouched.
*/
func TestCredentials_ChangePassword_Failures(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	credentials, users := newCredentials(t, clock)

	user, err := credentials.Register(ctx, "jane@x.com", "Jane Doe", "Str0ng!Pass", sec.RoleClient)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	err = credentials.ChangePassword(ctx, user.ID, "Wr0ng!Pass", "N3w!Password")
	assertCode(t, err, "CREDENTIAL_MISMATCH")

	err = credentials.ChangePassword(ctx, user.ID, "Str0ng!Pass", "short")
	assertCode(t, err, "WEAK_PASSWORD")

	err = credentials.ChangePassword(ctx, "missing", "Str0ng!Pass", "N3w!Password")
	assertCode(t, err, "NOT_FOUND")

	stored := users.get(t, user.ID)
	assert.Equal(t, user.PasswordHash, stored.PasswordHash)
	assert.Len(t, stored.PasswordHistory, 1)
	assert.Equal(t, user.PasswordChangedAt, stored.PasswordChangedAt)

	require.NoError(t, credentials.ChangePassword(ctx, user.ID, "Str0ng!Pass", "N3w!Password"))
	assert.Equal(t, clock.Now(), users.get(t, user.ID).PasswordChangedAt)
}

/*
TestPasswordExpired verifies the sixty-day boundary is exclusive.
*/
func TestPasswordExpired(t *testing.T) {
	changed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, auth.PasswordExpired(changed, changed.Add(auth.PasswordMaxAge)))
	assert.True(t, auth.PasswordExpired(changed, changed.Add(auth.PasswordMaxAge+time.Second)))
}

/*
TestNormalizeEmail verifies case folding and compatibility normalisation.
*/
func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"jane@x.com":      "jane@x.com",
		"  Jane@X.COM\t":  "jane@x.com",
		"\uff2aANE@x.com": "jane@x.com",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, auth.NormalizeEmail(input), input)
	}
}
