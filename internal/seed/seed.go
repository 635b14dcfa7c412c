package seed

import (
	"context"
	"fmt"
	"log/slog"

	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
	"roadcrew/internal/repository"

	"gorm.io/gorm"
)

// Options sizes a generated data set.
type Options struct {
	Riders         int
	FriendsPerUser int
	// PendingEvery leaves every Nth friendship pending instead of accepted.
	PendingEvery    int
	Groups          int
	MessagesPerChat int
	Seed            int64
}

// DefaultOptions is what cmd/seed uses without flags.
var DefaultOptions = Options{
	Riders:          30,
	FriendsPerUser:  4,
	PendingEvery:    4,
	Groups:          5,
	MessagesPerChat: 12,
}

// Summary counts what a run created.
type Summary struct {
	Riders        int
	Friendships   int
	Conversations int
	Messages      int
}

// Seeder writes through the repositories so change events and cache
// invalidation behave as they do for live traffic.
type Seeder struct {
	db       *gorm.DB
	profiles repository.ProfileRepository
	friends  repository.FriendRepository
	chat     repository.ChatRepository
	logger   *slog.Logger
}

// NewSeeder returns a seeder bound to db.
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{
		db:       db,
		profiles: repository.NewProfileRepository(db),
		friends:  repository.NewFriendRepository(db),
		chat:     repository.NewChatRepository(db),
		logger:   middleware.Logger,
	}
}

// ClearAll deletes every community row, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tables := []any{
		&models.Message{},
		&models.ConversationParticipant{},
		&models.Conversation{},
		&models.Friendship{},
		&models.UserProfile{},
	}
	for _, t := range tables {
		if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(t).Error; err != nil {
			return fmt.Errorf("clear %T: %w", t, err)
		}
	}
	return nil
}

// Run generates riders, a friend mesh, a private conversation per accepted
// friendship and a handful of group rides.
func (s *Seeder) Run(ctx context.Context, opts Options) (Summary, error) {
	f := NewFactory(opts.Seed)
	var sum Summary

	riders := make([]models.UserProfile, 0, opts.Riders)
	for i := 0; i < opts.Riders; i++ {
		p := f.Rider()
		if err := s.profiles.Create(ctx, &p); err != nil {
			return sum, fmt.Errorf("create rider: %w", err)
		}
		riders = append(riders, p)
	}
	sum.Riders = len(riders)

	var accepted []models.Friendship
	for i, rider := range riders {
		for _, other := range f.Pick(riders, opts.FriendsPerUser+1) {
			if other.UserID == rider.UserID {
				continue
			}
			fr := models.Friendship{UserA: rider.UserID, UserB: other.UserID, Status: models.FriendshipStatusPending}
			if err := s.friends.CreateIfNoActive(ctx, &fr); err != nil {
				if models.IsCode(err, models.CodeConflict) {
					continue
				}
				return sum, fmt.Errorf("create friendship: %w", err)
			}
			sum.Friendships++
			if opts.PendingEvery > 0 && (i+sum.Friendships)%opts.PendingEvery == 0 {
				continue
			}
			if err := s.friends.UpdateStatus(ctx, fr.ID, models.FriendshipStatusPending, models.FriendshipStatusAccepted); err != nil {
				return sum, fmt.Errorf("accept friendship: %w", err)
			}
			accepted = append(accepted, fr)
		}
	}

	for _, fr := range accepted {
		conv, created, err := s.chat.FindOrCreatePrivate(ctx, fr.UserA, fr.UserB)
		if err != nil {
			return sum, fmt.Errorf("create private conversation: %w", err)
		}
		if created {
			sum.Conversations++
		}
		n, err := s.chatter(ctx, f, conv.ID, []string{fr.UserA, fr.UserB}, opts.MessagesPerChat)
		sum.Messages += n
		if err != nil {
			return sum, err
		}
	}

	for i := 0; i < opts.Groups && len(riders) >= 3; i++ {
		members := f.Pick(riders, 3+i%4)
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
		name := f.GroupName()
		conv := &models.Conversation{Type: models.ConversationTypeGroup, Name: &name}
		if err := s.chat.CreateConversation(ctx, conv, ids); err != nil {
			return sum, fmt.Errorf("create group: %w", err)
		}
		sum.Conversations++
		n, err := s.chatter(ctx, f, conv.ID, ids, opts.MessagesPerChat)
		sum.Messages += n
		if err != nil {
			return sum, err
		}
	}

	s.logger.InfoContext(ctx, "seed complete",
		slog.Int("riders", sum.Riders),
		slog.Int("friendships", sum.Friendships),
		slog.Int("conversations", sum.Conversations),
		slog.Int("messages", sum.Messages))
	return sum, nil
}

func (s *Seeder) chatter(ctx context.Context, f *Factory, convID uint, members []string, n int) (int, error) {
	for i := 0; i < n; i++ {
		msg := &models.Message{
			ConversationID: convID,
			SenderID:       members[i%len(members)],
			Content:        f.Line(),
		}
		if err := s.chat.CreateMessage(ctx, msg); err != nil {
			return i, fmt.Errorf("create message: %w", err)
		}
	}
	return n, nil
}
