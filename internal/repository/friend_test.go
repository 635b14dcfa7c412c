package repository

import (
	"context"
	"testing"

	"roadcrew/internal/models"
	"roadcrew/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendRepository_CreateIfNoActive(t *testing.T) {
	repo := NewFriendRepository(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	first := &models.Friendship{UserA: "alice", UserB: "bob", Status: models.FriendshipStatusPending}
	require.NoError(t, repo.CreateIfNoActive(ctx, first))
	assert.NotZero(t, first.ID)

	t.Run("reverse direction conflicts", func(t *testing.T) {
		err := repo.CreateIfNoActive(ctx, &models.Friendship{UserA: "bob", UserB: "alice", Status: models.FriendshipStatusPending})
		require.Error(t, err)
		assert.True(t, models.IsCode(err, models.CodeConflict))

		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, models.KeyDuplicateRequest, appErr.Key)
	})

	t.Run("terminal edge does not block a fresh request", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.FriendshipStatusPending, models.FriendshipStatusRejected))
		again := &models.Friendship{UserA: "alice", UserB: "bob", Status: models.FriendshipStatusPending}
		require.NoError(t, repo.CreateIfNoActive(ctx, again))
		assert.NotEqual(t, first.ID, again.ID)
	})
}

func TestFriendRepository_GetActiveBetween(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()

	got, err := repo.GetActiveBetween(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, got)

	f := &models.Friendship{UserA: "alice", UserB: "bob", Status: models.FriendshipStatusAccepted}
	require.NoError(t, db.WithContext(ctx).Create(f).Error)

	got, err = repo.GetActiveBetween(ctx, "bob", "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.ID, got.ID)
}

func TestFriendRepository_ListByStatus(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()

	seed := []models.Friendship{
		{UserA: "alice", UserB: "bob", Status: models.FriendshipStatusPending},
		{UserA: "carol", UserB: "alice", Status: models.FriendshipStatusPending},
		{UserA: "alice", UserB: "dave", Status: models.FriendshipStatusAccepted},
		{UserA: "erin", UserB: "alice", Status: models.FriendshipStatusAccepted},
		{UserA: "bob", UserB: "carol", Status: models.FriendshipStatusAccepted},
	}
	for i := range seed {
		require.NoError(t, db.WithContext(ctx).Create(&seed[i]).Error)
	}

	tests := []struct {
		name   string
		status models.FriendshipStatus
		side   models.FriendshipSide
		want   []string
	}{
		{"sent", models.FriendshipStatusPending, models.SideRequester, []string{"bob"}},
		{"received", models.FriendshipStatusPending, models.SideReceiver, []string{"carol"}},
		{"accepted either side", models.FriendshipStatusAccepted, models.SideEither, []string{"erin", "dave"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.ListByStatus(ctx, "alice", tt.status, tt.side)
			require.NoError(t, err)
			got := make([]string, 0, len(list))
			for i := range list {
				got = append(got, list[i].Counterpart("alice"))
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestFriendRepository_UpdateStatusIsConditional(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()

	f := &models.Friendship{UserA: "alice", UserB: "bob", Status: models.FriendshipStatusPending}
	require.NoError(t, db.WithContext(ctx).Create(f).Error)

	require.NoError(t, repo.UpdateStatus(ctx, f.ID, models.FriendshipStatusPending, models.FriendshipStatusAccepted))

	err := repo.UpdateStatus(ctx, f.ID, models.FriendshipStatusPending, models.FriendshipStatusBlocked)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	got, err := repo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusAccepted, got.Status)
}

func TestFriendRepository_Delete(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()

	f := &models.Friendship{UserA: "alice", UserB: "bob", Status: models.FriendshipStatusAccepted}
	require.NoError(t, db.WithContext(ctx).Create(f).Error)
	require.NoError(t, repo.Delete(ctx, f.ID))

	_, err := repo.GetByID(ctx, f.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	assert.True(t, models.IsCode(repo.Delete(ctx, f.ID), models.CodeNotFound))
}
