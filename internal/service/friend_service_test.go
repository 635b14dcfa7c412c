package service

import (
	"context"
	"errors"
	"testing"

	"roadcrew/internal/models"
	"roadcrew/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendService_ScenarioRequestAccept(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	f, err := svc.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusPending, f.Status)

	received, err := svc.friends.ListReceived(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, f.ID, received[0].ID)
	assert.Equal(t, models.FriendshipStatusPending, received[0].Status)

	sent, err := svc.friends.ListSent(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, f.ID, sent[0].ID)

	_, err = svc.friends.Respond(ctx, "bob", f.ID, models.DecisionAccept)
	require.NoError(t, err)

	for _, user := range []string{"alice", "bob"} {
		accepted, err := svc.friends.ListAccepted(ctx, user)
		require.NoError(t, err)
		require.Len(t, accepted, 1, user)
		assert.Equal(t, models.FriendshipStatusAccepted, accepted[0].Status)
	}

	ok, err := svc.friends.AreFriends(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFriendService_SendRequestValidation(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	tests := []struct {
		name      string
		requester string
		target    string
		code      string
	}{
		{"self", "alice", "alice", models.CodeValidation},
		{"empty target", "alice", " ", models.CodeValidation},
		{"unknown target", "alice", "ghost", models.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.friends.SendRequest(ctx, tt.requester, tt.target)
			assert.True(t, models.IsCode(err, tt.code), "got %v", err)
		})
	}

	_, err := svc.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.friends.SendRequest(ctx, "bob", "alice")
	assert.True(t, models.IsCode(err, models.CodeConflict))
}

func TestFriendService_StateMachine(t *testing.T) {
	ctx := context.Background()

	type step func(*testServices, uint) error
	respond := func(actor string, d models.FriendshipDecision) step {
		return func(s *testServices, id uint) error {
			_, err := s.friends.Respond(ctx, actor, id, d)
			return err
		}
	}
	cancel := func(actor string) step {
		return func(s *testServices, id uint) error { return s.friends.Cancel(ctx, actor, id) }
	}
	unfriend := func(actor string) step {
		return func(s *testServices, id uint) error { return s.friends.Unfriend(ctx, actor, id) }
	}

	tests := []struct {
		name     string
		setup    []step
		action   step
		wantCode string
	}{
		{"pending to accepted", nil, respond("bob", models.DecisionAccept), ""},
		{"pending to rejected", nil, respond("bob", models.DecisionReject), ""},
		{"pending to blocked", nil, respond("bob", models.DecisionBlock), ""},
		{"pending cancelled by requester", nil, cancel("alice"), ""},
		{"requester cannot accept", nil, respond("alice", models.DecisionAccept), models.CodeForbidden},
		{"outsider cannot accept", nil, respond("carol", models.DecisionAccept), models.CodeForbidden},
		{"receiver cannot cancel", nil, cancel("bob"), models.CodeForbidden},
		{"pending cannot be unfriended", nil, unfriend("alice"), models.CodeConflict},
		{"unknown decision", nil, respond("bob", "maybe"), models.CodeValidation},
		{"accepted unfriended by receiver", []step{respond("bob", models.DecisionAccept)}, unfriend("bob"), ""},
		{"accepted unfriended by requester", []step{respond("bob", models.DecisionAccept)}, unfriend("alice"), ""},
		{"accepted cannot be rejected", []step{respond("bob", models.DecisionAccept)}, respond("bob", models.DecisionReject), models.CodeConflict},
		{"accepted cannot be cancelled", []step{respond("bob", models.DecisionAccept)}, cancel("alice"), models.CodeConflict},
		{"outsider cannot unfriend", []step{respond("bob", models.DecisionAccept)}, unfriend("carol"), models.CodeForbidden},
		{"rejected is terminal", []step{respond("bob", models.DecisionReject)}, respond("bob", models.DecisionAccept), models.CodeConflict},
		{"blocked is terminal", []step{respond("bob", models.DecisionBlock)}, respond("bob", models.DecisionAccept), models.CodeConflict},
		{"blocked cannot be cancelled", []step{respond("bob", models.DecisionBlock)}, cancel("alice"), models.CodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestServices(t, "", "alice", "bob", "carol")
			f, err := svc.friends.SendRequest(ctx, "alice", "bob")
			require.NoError(t, err)
			for _, s := range tt.setup {
				require.NoError(t, s(svc, f.ID))
			}

			err = tt.action(svc, f.ID)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, models.IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestFriendService_ForbiddenMessageIsGeneric(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	f, err := svc.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.friends.Respond(ctx, "mallory", f.ID, models.DecisionAccept)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Operation not permitted", appErr.Message)
}

func TestFriendService_RejectedPairCanRequestAgain(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	f, err := svc.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.friends.Respond(ctx, "bob", f.ID, models.DecisionReject)
	require.NoError(t, err)

	again, err := svc.friends.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, f.ID, again.ID)
}

func TestFriendService_OverviewAndSearch(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob", "carol", "dave", "erin")
	ctx := context.Background()

	toBob, err := svc.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.friends.Respond(ctx, "bob", toBob.ID, models.DecisionAccept)
	require.NoError(t, err)
	_, err = svc.friends.SendRequest(ctx, "alice", "carol")
	require.NoError(t, err)
	_, err = svc.friends.SendRequest(ctx, "dave", "alice")
	require.NoError(t, err)

	overview, err := svc.friends.Overview(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, overview.Accepted, 1)
	require.Len(t, overview.Sent, 1)
	require.Len(t, overview.Received, 1)
	assert.Equal(t, "bob", overview.Accepted[0].CounterpartID)
	require.NotNil(t, overview.Accepted[0].Profile)
	assert.Equal(t, "bob_rides", overview.Accepted[0].Profile.Username)
	assert.Equal(t, "carol", overview.Sent[0].CounterpartID)
	assert.Equal(t, "dave", overview.Received[0].CounterpartID)

	found, err := svc.friends.SearchUsers(ctx, "alice", "RIDES")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "erin", found[0].UserID)

	empty, err := svc.friends.SearchUsers(ctx, "alice", "  ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFriendService_OverviewToleratesProfileFailure(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	f, err := svc.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	broken := NewFriendService(repository.NewFriendRepository(svc.db), &profileRepoStub{
		getByUserIDsFn: func(context.Context, []string) ([]models.UserProfile, error) {
			return nil, errors.New("profile store down")
		},
	})
	overview, err := broken.Overview(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, overview.Sent, 1)
	assert.Equal(t, f.ID, overview.Sent[0].ID)
	assert.Nil(t, overview.Sent[0].Profile)
}
