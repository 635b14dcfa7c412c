// Package service provides the friendship, conversation and message business logic.
package service

import (
	"context"
	"log/slog"
	"strings"

	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
	"roadcrew/internal/observability"
	"roadcrew/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// FriendService provides friend-request and friendship business logic.
type FriendService struct {
	friendRepo  repository.FriendRepository
	profileRepo repository.ProfileRepository
	logger      *slog.Logger
}

// NewFriendService returns a new FriendService.
func NewFriendService(friendRepo repository.FriendRepository, profileRepo repository.ProfileRepository) *FriendService {
	return &FriendService{
		friendRepo:  friendRepo,
		profileRepo: profileRepo,
		logger:      middleware.Logger,
	}
}

// SendRequest creates a pending friendship from requester to target.
func (s *FriendService) SendRequest(ctx context.Context, requester, target string) (_ *models.Friendship, err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.SendRequest",
		attribute.String("user.id", requester),
		attribute.String("target.id", target),
	)
	defer span.Finish(&err)

	requester, target = strings.TrimSpace(requester), strings.TrimSpace(target)
	if requester == "" || target == "" {
		return nil, models.NewValidationError("Both users are required")
	}
	if requester == target {
		return nil, models.NewValidationError("Cannot send friend request to yourself")
	}

	profiles, err := s.profileRepo.GetByUserIDs(ctx, []string{target})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, models.NewNotFoundError("User", target)
	}

	friendship := &models.Friendship{
		UserA:  requester,
		UserB:  target,
		Status: models.FriendshipStatusPending,
	}
	if err := s.friendRepo.CreateIfNoActive(ctx, friendship); err != nil {
		return nil, err
	}
	return friendship, nil
}

// Respond applies the receiver's decision to a pending request.
func (s *FriendService) Respond(ctx context.Context, actor string, id uint, decision models.FriendshipDecision) (_ *models.Friendship, err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.Respond",
		attribute.String("user.id", actor),
		attribute.Int64("friendship.id", int64(id)),
		attribute.String("decision", string(decision)),
	)
	defer span.Finish(&err)

	target, ok := decision.TargetStatus()
	if !ok {
		return nil, models.NewValidationError("Unknown decision " + string(decision))
	}

	friendship, err := s.friendRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if friendship.UserB != actor {
		s.logger.WarnContext(ctx, "friend request response by non-receiver",
			slog.Uint64("friendship_id", uint64(id)))
		return nil, models.NewForbiddenError()
	}
	if friendship.Status != models.FriendshipStatusPending {
		return nil, models.NewConflictError("Friend request is not pending")
	}

	if err := s.friendRepo.UpdateStatus(ctx, id, models.FriendshipStatusPending, target); err != nil {
		return nil, err
	}
	friendship.Status = target
	return friendship, nil
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (s *FriendService) Cancel(ctx context.Context, actor string, id uint) (err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.Cancel",
		attribute.String("user.id", actor),
		attribute.Int64("friendship.id", int64(id)),
	)
	defer span.Finish(&err)

	friendship, err := s.friendRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if friendship.UserA != actor {
		s.logger.WarnContext(ctx, "friend request cancel by non-requester",
			slog.Uint64("friendship_id", uint64(id)))
		return models.NewForbiddenError()
	}
	if friendship.Status != models.FriendshipStatusPending {
		return models.NewConflictError("Friend request is not pending")
	}
	return s.friendRepo.Delete(ctx, id)
}

// Unfriend removes an accepted friendship. Either party may unfriend.
func (s *FriendService) Unfriend(ctx context.Context, actor string, id uint) (err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.Unfriend",
		attribute.String("user.id", actor),
		attribute.Int64("friendship.id", int64(id)),
	)
	defer span.Finish(&err)

	friendship, err := s.friendRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !friendship.Involves(actor) {
		s.logger.WarnContext(ctx, "unfriend by outsider",
			slog.Uint64("friendship_id", uint64(id)))
		return models.NewForbiddenError()
	}
	if friendship.Status != models.FriendshipStatusAccepted {
		return models.NewConflictError("Friendship is not accepted")
	}
	return s.friendRepo.Delete(ctx, id)
}

// ListAccepted returns accepted friendships on either side.
func (s *FriendService) ListAccepted(ctx context.Context, userID string) ([]models.Friendship, error) {
	return s.friendRepo.ListByStatus(ctx, userID, models.FriendshipStatusAccepted, models.SideEither)
}

// ListSent returns pending requests the user sent.
func (s *FriendService) ListSent(ctx context.Context, userID string) ([]models.Friendship, error) {
	return s.friendRepo.ListByStatus(ctx, userID, models.FriendshipStatusPending, models.SideRequester)
}

// ListReceived returns pending requests addressed to the user.
func (s *FriendService) ListReceived(ctx context.Context, userID string) ([]models.Friendship, error) {
	return s.friendRepo.ListByStatus(ctx, userID, models.FriendshipStatusPending, models.SideReceiver)
}

// Counterpart returns the other user of f as seen by userID.
func Counterpart(f *models.Friendship, userID string) string {
	return f.Counterpart(userID)
}

// AreFriends reports whether a and b share an accepted friendship.
func (s *FriendService) AreFriends(ctx context.Context, a, b string) (bool, error) {
	f, err := s.friendRepo.GetActiveBetween(ctx, a, b)
	if err != nil {
		return false, err
	}
	return f != nil && f.Status == models.FriendshipStatusAccepted, nil
}

// Overview returns the user's accepted, sent and received edges with the
// counterpart profiles resolved.
func (s *FriendService) Overview(ctx context.Context, userID string) (_ *models.FriendOverview, err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.Overview", attribute.String("user.id", userID))
	defer span.Finish(&err)

	accepted, err := s.ListAccepted(ctx, userID)
	if err != nil {
		return nil, err
	}
	sent, err := s.ListSent(ctx, userID)
	if err != nil {
		return nil, err
	}
	received, err := s.ListReceived(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(accepted)+len(sent)+len(received))
	for _, group := range [][]models.Friendship{accepted, sent, received} {
		for i := range group {
			ids = append(ids, group[i].Counterpart(userID))
		}
	}
	profiles := s.resolveProfiles(ctx, ids)

	view := func(list []models.Friendship) []models.FriendView {
		out := make([]models.FriendView, 0, len(list))
		for _, f := range list {
			other := f.Counterpart(userID)
			out = append(out, models.FriendView{Friendship: f, CounterpartID: other, Profile: profiles[other]})
		}
		return out
	}

	return &models.FriendOverview{
		Accepted: view(accepted),
		Sent:     view(sent),
		Received: view(received),
	}, nil
}

// SearchUsers finds profiles by username, excluding the user, accepted
// friends and anyone with a pending request in either direction.
func (s *FriendService) SearchUsers(ctx context.Context, userID, query string) (_ []models.UserProfile, err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.SearchUsers", attribute.String("user.id", userID))
	defer span.Finish(&err)

	if strings.TrimSpace(query) == "" {
		return []models.UserProfile{}, nil
	}

	candidates, err := s.profileRepo.SearchByUsername(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	excluded := map[string]struct{}{userID: {}}
	for _, status := range models.ActiveFriendshipStatuses {
		edges, err := s.friendRepo.ListByStatus(ctx, userID, status, models.SideEither)
		if err != nil {
			return nil, err
		}
		for i := range edges {
			excluded[edges[i].Counterpart(userID)] = struct{}{}
		}
	}

	out := make([]models.UserProfile, 0, len(candidates))
	for _, p := range candidates {
		if _, skip := excluded[p.UserID]; skip {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// resolveProfiles never fails; unresolved users are simply absent.
func (s *FriendService) resolveProfiles(ctx context.Context, userIDs []string) models.ProfileIndex {
	profiles, err := s.profileRepo.GetByUserIDs(ctx, userIDs)
	if err != nil {
		s.logger.WarnContext(ctx, "profile lookup failed", slog.String("error", err.Error()))
		return models.ProfileIndex{}
	}
	return models.IndexProfiles(profiles)
}
