package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
)

func TestNewIdentity(t *testing.T) {
	now := time.Now()

	t.Run("trims attributes", func(t *testing.T) {
		identity, err := NewIdentity(id.NewIdentityID(), "  plymth ", " https://img/a.png ", now)
		require.NoError(t, err)
		assert.Equal(t, "plymth", identity.DisplayName)
		assert.Equal(t, "https://img/a.png", identity.AvatarRef)
		assert.Equal(t, now, identity.CreatedAt)
	})

	t.Run("rejects empty display name", func(t *testing.T) {
		_, err := NewIdentity(id.NewIdentityID(), "   ", "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects long display name", func(t *testing.T) {
		_, err := NewIdentity(id.NewIdentityID(), strings.Repeat("x", 65), "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects long avatar reference", func(t *testing.T) {
		_, err := NewIdentity(id.NewIdentityID(), "ok", strings.Repeat("a", 513), now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestApplyProfile(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	identity, err := NewIdentity(id.NewIdentityID(), "before", "", created)
	require.NoError(t, err)

	later := time.Now()
	require.NoError(t, identity.ApplyProfile("After", "avatar", later))
	assert.Equal(t, "After", identity.DisplayName)
	assert.Equal(t, "after", identity.NameKey())
	assert.Equal(t, created, identity.CreatedAt)
	assert.Equal(t, later, identity.UpdatedAt)

	require.Error(t, identity.ApplyProfile("", "", later))
	assert.Equal(t, "After", identity.DisplayName, "failed update leaves profile untouched")
}
