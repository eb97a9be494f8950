//go:build integration

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cirvia/pkg/domain"
	"cirvia/pkg/platform/sentinel"
	"cirvia/pkg/testutil/containers"
)

func TestPostgresScopeStore(t *testing.T) {
	pc := containers.NewPostgresContainer(t, "../../migrations/001_init.sql")
	store := NewPostgresScopeStore(pc.Pool)
	ctx := context.Background()

	userID := domain.NewUserID()
	chatID := domain.NewChatID()

	t.Run("missing setting returns not found", func(t *testing.T) {
		_, err := store.GetByUserAndScope(ctx, userID, domain.ChatScope(chatID))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		_, err = store.GetGlobalDefault(ctx, userID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("create global default is idempotent", func(t *testing.T) {
		first, err := store.CreateGlobalDefaultAnonymous(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, domain.LevelAnonymous, first.Level)

		second, err := store.CreateGlobalDefaultAnonymous(ctx, userID)
		require.NoError(t, err)
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	})

	t.Run("upsert and read back chat override", func(t *testing.T) {
		setting := NewChatOverrideSetting(userID, chatID, time.Now())
		require.NoError(t, store.Upsert(ctx, setting))

		got, err := store.GetByUserAndScope(ctx, userID, domain.ChatScope(chatID))
		require.NoError(t, err)
		assert.Equal(t, domain.LevelFull, got.Level)
		assert.True(t, got.ShowBio)
	})

	t.Run("batch lookups", func(t *testing.T) {
		other := domain.NewUserID()
		_, err := store.CreateGlobalDefaultAnonymous(ctx, other)
		require.NoError(t, err)

		exact, err := store.GetByUsersAndScope(ctx, []domain.UserID{userID, other}, domain.ChatScope(chatID))
		require.NoError(t, err)
		assert.Contains(t, exact, userID)
		assert.NotContains(t, exact, other)

		defaults, err := store.GetGlobalDefaults(ctx, []domain.UserID{userID, other})
		require.NoError(t, err)
		assert.Len(t, defaults, 2)
	})

	t.Run("list and delete", func(t *testing.T) {
		settings, err := store.ListByUser(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, settings, 2)

		require.NoError(t, store.Delete(ctx, userID, domain.ChatScope(chatID)))
		_, err = store.GetByUserAndScope(ctx, userID, domain.ChatScope(chatID))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		// Deleting a missing key is a no-op.
		require.NoError(t, store.Delete(ctx, userID, domain.ChatScope(chatID)))
	})
}

func TestPostgresProfileStore(t *testing.T) {
	pc := containers.NewPostgresContainer(t, "../../migrations/001_init.sql")
	store := NewPostgresProfileStore(pc.Pool)
	ctx := context.Background()

	userID := domain.NewUserID()
	_, err := pc.Pool.Exec(ctx,
		`INSERT INTO profiles (user_id, real_name, abstract_name, bio) VALUES ($1, $2, $3, $4)`,
		userID.String(), "Ada Lovelace", "Amber Fox", "mathematician")
	require.NoError(t, err)

	t.Run("get by id", func(t *testing.T) {
		profile, err := store.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", profile.RealName)
		assert.Equal(t, "Amber Fox", profile.AbstractName)
	})

	t.Run("missing profile returns not found", func(t *testing.T) {
		_, err := store.GetByUserID(ctx, domain.NewUserID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("batch omits missing users", func(t *testing.T) {
		profiles, err := store.GetByUserIDs(ctx, []domain.UserID{userID, domain.NewUserID()})
		require.NoError(t, err)
		assert.Len(t, profiles, 1)
	})
}
