// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package uuid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/decorly/pkg/uuid"
)

func TestNew_IsTimeOrdered(t *testing.T) {
	first := uuid.New()
	second := uuid.New()

	assert.True(t, uuid.Valid(first))
	assert.Equal(t, byte('7'), first[14], "version nibble")
	assert.LessOrEqual(t, first[:13], second[:13])
}

func TestValid(t *testing.T) {
	assert.False(t, uuid.Valid(""))
	assert.False(t, uuid.Valid("not-a-uuid"))
	assert.False(t, uuid.Valid("{0190a2b4-7c1e-7d3a-9f10-3b2f7c9a1e55}"))
	assert.True(t, uuid.Valid("0190a2b4-7c1e-7d3a-9f10-3b2f7c9a1e55"))
}
