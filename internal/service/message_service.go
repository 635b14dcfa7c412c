package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
	"roadcrew/internal/observability"
	"roadcrew/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 10000

// MessageService provides the append-only message log.
type MessageService struct {
	chatRepo    repository.ChatRepository
	profileRepo repository.ProfileRepository
	logger      *slog.Logger
}

// NewMessageService returns a new MessageService.
func NewMessageService(chatRepo repository.ChatRepository, profileRepo repository.ProfileRepository) *MessageService {
	return &MessageService{
		chatRepo:    chatRepo,
		profileRepo: profileRepo,
		logger:      middleware.Logger,
	}
}

// Append stores a message from sender, who must be a participant.
func (s *MessageService) Append(ctx context.Context, convID uint, sender, content string) (_ *models.Message, err error) {
	span, ctx := observability.NewSpan(ctx, "MessageService.Append",
		attribute.String("user.id", sender),
		attribute.Int64("conversation.id", int64(convID)),
	)
	defer span.Finish(&err)

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, models.NewValidationError("Message content cannot be empty").WithKey(models.KeyEmptyContent)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, models.NewValidationError("Message content is too long")
	}

	ok, err := s.chatRepo.IsParticipant(ctx, convID, sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.WarnContext(ctx, "message append by non-participant", slog.Uint64("conversation_id", uint64(convID)))
		return nil, models.NewForbiddenError()
	}

	msg := &models.Message{ConversationID: convID, SenderID: sender, Content: content}
	if err := s.chatRepo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListByConversation returns the conversation's messages in (created_at, id)
// order, each paired with the sender profile when it can be resolved.
func (s *MessageService) ListByConversation(ctx context.Context, convID uint) (_ []models.MessageView, err error) {
	span, ctx := observability.NewSpan(ctx, "MessageService.ListByConversation",
		attribute.Int64("conversation.id", int64(convID)))
	defer span.Finish(&err)

	messages, err := s.chatRepo.ListMessages(ctx, convID)
	if err != nil {
		return nil, err
	}

	senders := make([]string, 0, len(messages))
	for i := range messages {
		senders = append(senders, messages[i].SenderID)
	}
	profiles := models.ProfileIndex{}
	if found, err := s.profileRepo.GetByUserIDs(ctx, senders); err != nil {
		s.logger.WarnContext(ctx, "sender profile lookup failed",
			slog.Uint64("conversation_id", uint64(convID)),
			slog.String("error", err.Error()))
	} else {
		profiles = models.IndexProfiles(found)
	}

	views := make([]models.MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, models.MessageView{Message: m, Sender: profiles[m.SenderID]})
	}
	return views, nil
}

// ListForParticipant is ListByConversation gated on viewer membership.
func (s *MessageService) ListForParticipant(ctx context.Context, convID uint, viewer string) ([]models.MessageView, error) {
	ok, err := s.chatRepo.IsParticipant(ctx, convID, viewer)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.WarnContext(ctx, "message read by non-participant", slog.Uint64("conversation_id", uint64(convID)))
		return nil, models.NewForbiddenError()
	}
	return s.ListByConversation(ctx, convID)
}
