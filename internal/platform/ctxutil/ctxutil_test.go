// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ctxutil_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/sec"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, ctxutil.GetRequestID(ctx))

	ctx = ctxutil.WithRequestID(ctx, "req-42")
	assert.Equal(t, "req-42", ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies that a custom logger can be stored in context.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))

	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Equal(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_Principal verifies that the session principal round-trips through context.
*/
func TestContext_Principal(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.GetPrincipal(ctx))

	ctx = ctxutil.WithPrincipal(ctx, &sec.Principal{
		UserID:    "user-123",
		SessionID: "session-9",
		Role:      sec.RoleDesigner,
	})

	retrieved := ctxutil.GetPrincipal(ctx)
	if assert.NotNil(t, retrieved) {
		assert.Equal(t, "user-123", retrieved.UserID)
		assert.Equal(t, "session-9", retrieved.SessionID)
		assert.Equal(t, sec.RoleDesigner, retrieved.Role)
	}
}
