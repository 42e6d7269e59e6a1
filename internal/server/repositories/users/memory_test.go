package users

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	a, err := r.Create(ctx, &models.Account{Email: "a@b.c", IsActive: true})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.False(t, a.CreatedAt.IsZero())

	_, err = r.Create(ctx, &models.Account{Email: "a@b.c"})
	require.ErrorIs(t, err, common.ErrDuplicateAccount)

	byEmail, err := r.GetByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byEmail.ID)

	// returned values are copies
	byEmail.IsActive = false
	again, err := r.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, again.IsActive)

	again.Email = "new@b.c"
	again.IsActive = false
	require.NoError(t, r.Update(ctx, again))

	_, err = r.GetByEmail(ctx, "a@b.c")
	require.ErrorIs(t, err, common.ErrorNotFound)
	moved, err := r.GetByEmail(ctx, "new@b.c")
	require.NoError(t, err)
	assert.False(t, moved.IsActive)

	require.ErrorIs(t, r.Update(ctx, &models.Account{ID: "missing"}), common.ErrorNotFound)
}

func TestMemoryRepository_UpdateEmailTaken(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	_, err := r.Create(ctx, &models.Account{Email: "one@x"})
	require.NoError(t, err)
	two, err := r.Create(ctx, &models.Account{Email: "two@x"})
	require.NoError(t, err)

	two.Email = "one@x"
	require.ErrorIs(t, r.Update(ctx, two), common.ErrDuplicateAccount)
}

func TestMemoryRepository_TouchLastLoginKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	a, err := r.Create(ctx, &models.Account{Email: "a@b.c", PasswordHash: "h1", IsActive: true})
	require.NoError(t, err)

	stale := *a
	a.IsActive = false
	a.PasswordHash = "h2"
	require.NoError(t, r.Update(ctx, a))

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.TouchLastLogin(ctx, stale.ID, at))

	got, err := r.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, at, *got.LastLoginAt)
	assert.False(t, got.IsActive)
	assert.Equal(t, "h2", got.PasswordHash)

	require.ErrorIs(t, r.TouchLastLogin(ctx, "missing", at), common.ErrorNotFound)
}
