package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CreditForge/app/models"
)

func newUser(t *testing.T, email string) *models.User {
	t.Helper()
	u, _, err := models.CreateUser(email)
	require.NoError(t, err)
	return u
}

func TestMemoryUserRepositoryLookups(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	u := newUser(t, "a@example.com")
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByEmail(ctx, " A@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = repo.GetByAPIKeyPrefix(ctx, u.APIKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.GetByAPIKeyPrefix(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// returned copies do not alias the stored account
	got.Email = "changed@example.com"
	again, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", again.Email)
}

func TestMemoryUserRepositoryDuplicates(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	u := newUser(t, "a@example.com")
	require.NoError(t, repo.Create(ctx, u))

	assert.ErrorIs(t, repo.Create(ctx, u), ErrDuplicate)
	assert.ErrorIs(t, repo.Create(ctx, newUser(t, "a@example.com")), ErrDuplicate)

	clash := newUser(t, "b@example.com")
	clash.APIKeyPrefix = u.APIKeyPrefix
	assert.ErrorIs(t, repo.Create(ctx, clash), ErrDuplicate)
}

func TestMemoryUserRepositoryListAndTouch(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		u := newUser(t, email)
		u.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, u))
	}

	list, err := repo.List(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c@example.com", list[0].Email)
	assert.Equal(t, "b@example.com", list[1].Email)

	past, err := repo.List(ctx, 5, 2)
	require.NoError(t, err)
	assert.Empty(t, past)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	at := base.Add(48 * time.Hour)
	require.NoError(t, repo.TouchAPIKey(ctx, list[0].ID, at))
	touched, err := repo.GetByID(ctx, list[0].ID)
	require.NoError(t, err)
	require.NotNil(t, touched.APIKeyLastUsedAt)
	assert.Equal(t, at, *touched.APIKeyLastUsedAt)
}
