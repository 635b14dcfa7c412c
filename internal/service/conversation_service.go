package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"roadcrew/internal/featureflags"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
	"roadcrew/internal/observability"
	"roadcrew/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// FriendChecker answers whether two users are accepted friends.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// ConversationService provides the conversation directory.
type ConversationService struct {
	chatRepo    repository.ChatRepository
	profileRepo repository.ProfileRepository
	friends     FriendChecker
	flags       *featureflags.Manager
	logger      *slog.Logger
}

// NewConversationService returns a new ConversationService. friends and
// flags may be nil, which disables the friends-only group restriction.
func NewConversationService(
	chatRepo repository.ChatRepository,
	profileRepo repository.ProfileRepository,
	friends FriendChecker,
	flags *featureflags.Manager,
) *ConversationService {
	return &ConversationService{
		chatRepo:    chatRepo,
		profileRepo: profileRepo,
		friends:     friends,
		flags:       flags,
		logger:      middleware.Logger,
	}
}

// CreatePrivate returns the private conversation between a and b, creating
// it with both participants when none exists.
func (s *ConversationService) CreatePrivate(ctx context.Context, a, b string) (_ *models.Conversation, created bool, err error) {
	span, ctx := observability.NewSpan(ctx, "ConversationService.CreatePrivate",
		attribute.String("user.id", a),
		attribute.String("target.id", b),
	)
	defer span.Finish(&err)

	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return nil, false, models.NewValidationError("A private conversation needs exactly two distinct users").
			WithKey(models.KeyInvalidParticipantCount)
	}
	return s.chatRepo.FindOrCreatePrivate(ctx, a, b)
}

// CreateGroup creates a named group with the creator and the de-duplicated
// invitees.
func (s *ConversationService) CreateGroup(ctx context.Context, name, creator string, participantIDs []string) (_ *models.Conversation, err error) {
	span, ctx := observability.NewSpan(ctx, "ConversationService.CreateGroup",
		attribute.String("user.id", creator),
		attribute.Int("invitees", len(participantIDs)),
	)
	defer span.Finish(&err)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.NewValidationError("Group conversations require a name").WithKey(models.KeyMissingName)
	}
	if creator == "" {
		return nil, models.NewValidationError("Creator is required")
	}

	seen := map[string]struct{}{creator: {}}
	invitees := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		invitees = append(invitees, id)
	}
	if len(invitees) == 0 {
		return nil, models.NewValidationError("A group needs at least one other participant").
			WithKey(models.KeyInvalidParticipantCount)
	}

	if s.friends != nil && s.flags.Enabled(featureflags.FriendsOnlyGroups, creator) {
		for _, id := range invitees {
			ok, err := s.friends.AreFriends(ctx, creator, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				s.logger.WarnContext(ctx, "group invitee is not a friend of the creator")
				return nil, models.NewForbiddenError()
			}
		}
	}

	conv := &models.Conversation{Type: models.ConversationTypeGroup, Name: &name}
	if err := s.chatRepo.CreateConversation(ctx, conv, append([]string{creator}, invitees...)); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser returns the user's conversations enriched for display,
// most recent activity first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) (_ []models.ConversationSummary, err error) {
	span, ctx := observability.NewSpan(ctx, "ConversationService.ListForUser", attribute.String("user.id", userID))
	defer span.Finish(&err)

	convs, err := s.chatRepo.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summarize(ctx, convs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		ai, aj := summaries[i].ActivityAt(), summaries[j].ActivityAt()
		if ai.Equal(aj) {
			return summaries[i].ID > summaries[j].ID
		}
		return ai.After(aj)
	})
	return summaries, nil
}

// GetForParticipant returns one conversation summary if userID is a member.
func (s *ConversationService) GetForParticipant(ctx context.Context, id uint, userID string) (*models.ConversationSummary, error) {
	ok, err := s.chatRepo.IsParticipant(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.WarnContext(ctx, "conversation read by non-participant", slog.Uint64("conversation_id", uint64(id)))
		return nil, models.NewForbiddenError()
	}

	conv, err := s.chatRepo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summarize(ctx, []models.Conversation{*conv})
	if err != nil {
		return nil, err
	}
	return &summaries[0], nil
}

// ParticipantConversationIDs lists every conversation the user belongs to.
func (s *ConversationService) ParticipantConversationIDs(ctx context.Context, userID string) ([]uint, error) {
	return s.chatRepo.ListConversationIDsForUser(ctx, userID)
}

// FindPrivateWith looks up the private conversation between a and b without
// creating one. It returns nil, nil on a miss.
func (s *ConversationService) FindPrivateWith(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, nil
	}
	return s.chatRepo.FindPrivateBetween(ctx, a, b)
}

// IsParticipant reports membership.
func (s *ConversationService) IsParticipant(ctx context.Context, id uint, userID string) (bool, error) {
	return s.chatRepo.IsParticipant(ctx, id, userID)
}

func (s *ConversationService) summarize(ctx context.Context, convs []models.Conversation) ([]models.ConversationSummary, error) {
	if len(convs) == 0 {
		return []models.ConversationSummary{}, nil
	}

	ids := make([]uint, 0, len(convs))
	for i := range convs {
		ids = append(ids, convs[i].ID)
	}

	participants, err := s.chatRepo.ListParticipants(ctx, ids...)
	if err != nil {
		return nil, err
	}
	byConv := make(map[uint][]models.ConversationParticipant, len(convs))
	userIDs := make([]string, 0, len(participants))
	for _, p := range participants {
		byConv[p.ConversationID] = append(byConv[p.ConversationID], p)
		userIDs = append(userIDs, p.UserID)
	}

	latest, err := s.chatRepo.LatestMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	profiles := models.ProfileIndex{}
	if found, err := s.profileRepo.GetByUserIDs(ctx, userIDs); err != nil {
		s.logger.WarnContext(ctx, "profile lookup failed", slog.String("error", err.Error()))
	} else {
		profiles = models.IndexProfiles(found)
	}

	out := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		members := byConv[c.ID]
		resolved := make([]models.UserProfile, 0, len(members))
		for _, m := range members {
			if p, ok := profiles[m.UserID]; ok {
				resolved = append(resolved, *p)
			}
		}
		out = append(out, models.ConversationSummary{
			Conversation:        c,
			Participants:        members,
			ParticipantProfiles: resolved,
			LastMessage:         latest[c.ID],
		})
	}
	return out, nil
}

// TitleOf returns the display title of a conversation for viewer: the group
// name, or the other participant's username for a private conversation.
// fallback is used when that profile cannot be resolved.
func TitleOf(summary *models.ConversationSummary, viewer, fallback string) string {
	if summary.IsGroup() {
		if summary.Name != nil && strings.TrimSpace(*summary.Name) != "" {
			return *summary.Name
		}
		return fallback
	}
	for _, p := range summary.Participants {
		if p.UserID == viewer {
			continue
		}
		for _, prof := range summary.ParticipantProfiles {
			if prof.UserID == p.UserID && prof.Username != "" {
				return prof.Username
			}
		}
	}
	return fallback
}
