package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"roadcrew/internal/featureflags"
	"roadcrew/internal/models"
	"roadcrew/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationService_CreatePrivateReusesPair(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	t.Run("lookup miss creates", func(t *testing.T) {
		existing, err := svc.conversations.FindPrivateWith(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.Nil(t, existing)

		conv, created, err := svc.conversations.CreatePrivate(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.ConversationTypePrivate, conv.Type)
		assert.Nil(t, conv.Name)
	})

	t.Run("lookup hit reuses", func(t *testing.T) {
		existing, err := svc.conversations.FindPrivateWith(ctx, "bob", "alice")
		require.NoError(t, err)
		require.NotNil(t, existing)

		conv, created, err := svc.conversations.CreatePrivate(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, conv.ID)
	})

	assert.EqualValues(t, 1, countRows(t, svc.db, &models.Conversation{}))
	assert.EqualValues(t, 2, countRows(t, svc.db, &models.ConversationParticipant{}))
}

func TestConversationService_CreatePrivateValidation(t *testing.T) {
	svc := newTestServices(t, "")
	ctx := context.Background()

	for _, pair := range [][2]string{{"alice", "alice"}, {"", "bob"}, {"alice", " "}} {
		_, _, err := svc.conversations.CreatePrivate(ctx, pair[0], pair[1])
		require.Error(t, err)
		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, models.CodeValidation, appErr.Code)
		assert.Equal(t, models.KeyInvalidParticipantCount, appErr.Key)
	}
	assert.Zero(t, countRows(t, svc.db, &models.Conversation{}))
}

func TestConversationService_ScenarioGroupVisibility(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob", "carol", "dave")
	ctx := context.Background()

	conv, err := svc.conversations.CreateGroup(ctx, "Trip", "alice", []string{"bob", "carol", "bob", "alice"})
	require.NoError(t, err)
	require.NotNil(t, conv.Name)
	assert.Equal(t, "Trip", *conv.Name)

	for _, user := range []string{"alice", "bob", "carol"} {
		list, err := svc.conversations.ListForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 1, user)
		assert.Equal(t, conv.ID, list[0].ID)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, list[0].ParticipantIDs())
		assert.Len(t, list[0].ParticipantProfiles, 3)
		assert.Zero(t, list[0].UnreadCount)
	}

	list, err := svc.conversations.ListForUser(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConversationService_CreateGroupValidation(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	tests := []struct {
		name    string
		group   string
		invitee []string
		key     string
	}{
		{"blank name", "   ", []string{"bob"}, models.KeyMissingName},
		{"no invitees", "Trip", nil, models.KeyInvalidParticipantCount},
		{"only the creator", "Trip", []string{"alice", ""}, models.KeyInvalidParticipantCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.conversations.CreateGroup(ctx, tt.group, "alice", tt.invitee)
			var appErr *models.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, models.CodeValidation, appErr.Code)
			assert.Equal(t, tt.key, appErr.Key)
		})
	}
	assert.Zero(t, countRows(t, svc.db, &models.Conversation{}))
}

func TestConversationService_CreateGroupPartialFailure(t *testing.T) {
	stub := &chatRepoStub{
		createConversationFn: func(context.Context, *models.Conversation, []string) error {
			return models.NewPartialFailureError("Failed to add conversation participants", errors.New("fk"))
		},
	}
	svc := NewConversationService(stub, nil, nil, nil)

	_, err := svc.CreateGroup(context.Background(), "Trip", "alice", []string{"bob"})
	assert.True(t, models.IsCode(err, models.CodePartialFailure))
}

func TestConversationService_FriendsOnlyGroups(t *testing.T) {
	svc := newTestServices(t, featureflags.FriendsOnlyGroups+"=on", "alice", "bob", "carol")
	ctx := context.Background()

	f, err := svc.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.friends.Respond(ctx, "bob", f.ID, models.DecisionAccept)
	require.NoError(t, err)

	_, err = svc.conversations.CreateGroup(ctx, "Trip", "alice", []string{"bob", "carol"})
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	_, err = svc.conversations.CreateGroup(ctx, "Trip", "alice", []string{"bob"})
	assert.NoError(t, err)
}

func TestConversationService_ListOrderAndLastMessage(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob", "carol")
	ctx := context.Background()

	dm, _, err := svc.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)
	group, err := svc.conversations.CreateGroup(ctx, "Crew", "alice", []string{"carol"})
	require.NoError(t, err)

	_, err = svc.messages.Append(ctx, dm.ID, "bob", "latest news")
	require.NoError(t, err)

	list, err := svc.conversations.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, dm.ID, list[0].ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "latest news", list[0].LastMessage.Content)
	assert.Equal(t, group.ID, list[1].ID)
	assert.Nil(t, list[1].LastMessage)

	ids, err := svc.conversations.ParticipantConversationIDs(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{dm.ID, group.ID}, ids)
}

func TestConversationService_GetForParticipant(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	dm, _, err := svc.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	summary, err := svc.conversations.GetForParticipant(ctx, dm.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, dm.ID, summary.ID)
	assert.True(t, summary.HasParticipant("alice"))

	_, err = svc.conversations.GetForParticipant(ctx, dm.ID, "mallory")
	assert.True(t, models.IsCode(err, models.CodeForbidden))
}

func TestTitleOf(t *testing.T) {
	name := "Alps run"
	now := time.Now()
	group := &models.ConversationSummary{
		Conversation: models.Conversation{Type: models.ConversationTypeGroup, Name: &name, UpdatedAt: now},
	}
	private := &models.ConversationSummary{
		Conversation: models.Conversation{Type: models.ConversationTypePrivate},
		Participants: []models.ConversationParticipant{{UserID: "alice"}, {UserID: "bob"}},
		ParticipantProfiles: []models.UserProfile{
			{UserID: "alice", Username: "Alice"},
			{UserID: "bob", Username: "Bob"},
		},
	}
	unresolved := &models.ConversationSummary{
		Conversation: models.Conversation{Type: models.ConversationTypePrivate},
		Participants: []models.ConversationParticipant{{UserID: "alice"}, {UserID: "ghost"}},
		ParticipantProfiles: []models.UserProfile{
			{UserID: "alice", Username: "Alice"},
		},
	}

	assert.Equal(t, "Alps run", TitleOf(group, "alice", models.KeyPrivateConversation))
	assert.Equal(t, "Bob", TitleOf(private, "alice", models.KeyPrivateConversation))
	assert.Equal(t, "Alice", TitleOf(private, "bob", models.KeyPrivateConversation))
	assert.Equal(t, models.KeyPrivateConversation, TitleOf(unresolved, "alice", models.KeyPrivateConversation))
}

func TestConversationService_ListToleratesProfileFailure(t *testing.T) {
	svc := newTestServices(t, "", "alice", "bob")
	ctx := context.Background()

	_, _, err := svc.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	broken := NewConversationService(repository.NewChatRepository(svc.db), &profileRepoStub{
		getByUserIDsFn: func(context.Context, []string) ([]models.UserProfile, error) {
			return nil, errors.New("profile store down")
		},
	}, nil, nil)
	list, err := broken.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].ParticipantProfiles)
	assert.Equal(t, "fallback", TitleOf(&list[0], "alice", "fallback"))
}
