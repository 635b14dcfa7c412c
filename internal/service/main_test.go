package service

import (
	"context"
	"testing"

	"roadcrew/internal/featureflags"
	"roadcrew/internal/models"
	"roadcrew/internal/repository"
	"roadcrew/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServices struct {
	db            *gorm.DB
	friends       *FriendService
	conversations *ConversationService
	messages      *MessageService
}

func newTestServices(t *testing.T, flags string, riders ...string) *testServices {
	t.Helper()
	db := testutil.NewSQLiteDB(t)

	profiles := repository.NewProfileRepository(db)
	for _, r := range riders {
		require.NoError(t, profiles.Create(context.Background(), &models.UserProfile{UserID: r, Username: r + "_rides"}))
	}

	chat := repository.NewChatRepository(db)
	friends := NewFriendService(repository.NewFriendRepository(db), profiles)
	return &testServices{
		db:            db,
		friends:       friends,
		conversations: NewConversationService(chat, profiles, friends, featureflags.NewManager(flags)),
		messages:      NewMessageService(chat, profiles),
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type profileRepoStub struct {
	repository.ProfileRepository
	getByUserIDsFn func(context.Context, []string) ([]models.UserProfile, error)
}

func (s *profileRepoStub) GetByUserIDs(ctx context.Context, ids []string) ([]models.UserProfile, error) {
	return s.getByUserIDsFn(ctx, ids)
}

type chatRepoStub struct {
	repository.ChatRepository
	createConversationFn func(context.Context, *models.Conversation, []string) error
	isParticipantFn      func(context.Context, uint, string) (bool, error)
	createMessageFn      func(context.Context, *models.Message) error
}

func (s *chatRepoStub) CreateConversation(ctx context.Context, conv *models.Conversation, ids []string) error {
	return s.createConversationFn(ctx, conv, ids)
}

func (s *chatRepoStub) IsParticipant(ctx context.Context, convID uint, userID string) (bool, error) {
	return s.isParticipantFn(ctx, convID, userID)
}

func (s *chatRepoStub) CreateMessage(ctx context.Context, msg *models.Message) error {
	return s.createMessageFn(ctx, msg)
}
