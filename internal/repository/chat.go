package repository

import (
	"context"
	"errors"

	"roadcrew/internal/models"

	"gorm.io/gorm"
)

// ChatRepository defines the interface for chat data operations
type ChatRepository interface {
	// CreateConversation stores the conversation and its participants in
	// one transaction.
	CreateConversation(ctx context.Context, conv *models.Conversation, userIDs []string) error
	// FindOrCreatePrivate returns the private conversation between a and b,
	// creating it when none exists. created reports which happened.
	FindOrCreatePrivate(ctx context.Context, a, b string) (conv *models.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	ListConversationIDsForUser(ctx context.Context, userID string) ([]uint, error)
	ListParticipants(ctx context.Context, convIDs ...uint) ([]models.ConversationParticipant, error)
	IsParticipant(ctx context.Context, convID uint, userID string) (bool, error)
	// FindPrivateBetween returns nil, nil when no private conversation has
	// exactly the participants {a, b}.
	FindPrivateBetween(ctx context.Context, a, b string) (*models.Conversation, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, convID uint) ([]models.Message, error)
	LatestMessages(ctx context.Context, convIDs []uint) (map[uint]*models.Message, error)
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateConversation(ctx context.Context, conv *models.Conversation, userIDs []string) error {
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		return createWithParticipants(tx, conv, userIDs)
	})
	return storeError(err, "Conversation", conv.ID)
}

func createWithParticipants(tx *gorm.DB, conv *models.Conversation, userIDs []string) error {
	if err := tx.Create(conv).Error; err != nil {
		return err
	}
	participants := make([]models.ConversationParticipant, 0, len(userIDs))
	for _, id := range userIDs {
		participants = append(participants, models.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         id,
		})
	}
	if err := tx.Create(&participants).Error; err != nil {
		return models.NewPartialFailureError("Failed to add conversation participants", err)
	}
	return nil
}

func (r *chatRepository) FindOrCreatePrivate(ctx context.Context, a, b string) (*models.Conversation, bool, error) {
	var (
		conv    *models.Conversation
		created bool
	)
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			// Serializes concurrent creators for the same pair until commit.
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", pairKey(a, b)).Error; err != nil {
				return err
			}
		}
		existing, err := privateBetween(tx, a, b)
		if err != nil {
			return err
		}
		if existing != nil {
			conv = existing
			return nil
		}
		conv = &models.Conversation{Type: models.ConversationTypePrivate}
		created = true
		return createWithParticipants(tx, conv, []string{a, b})
	})
	if err != nil {
		return nil, false, storeError(err, "Conversation", pairKey(a, b))
	}
	return conv, created, nil
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "private:" + a + ":" + b
}

func (r *chatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, storeError(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *chatRepository) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON conversations.id = cp.conversation_id").
		Where("cp.user_id = ?", userID).
		Order("conversations.updated_at DESC, conversations.id DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return conversations, nil
}

func (r *chatRepository) ListConversationIDsForUser(ctx context.Context, userID string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("user_id = ?", userID).
		Order("conversation_id ASC").
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *chatRepository) ListParticipants(ctx context.Context, convIDs ...uint) ([]models.ConversationParticipant, error) {
	if len(convIDs) == 0 {
		return nil, nil
	}
	var participants []models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id IN ?", convIDs).
		Order("conversation_id ASC, created_at ASC, user_id ASC").
		Find(&participants).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return participants, nil
}

func (r *chatRepository) IsParticipant(ctx context.Context, convID uint, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *chatRepository) FindPrivateBetween(ctx context.Context, a, b string) (*models.Conversation, error) {
	conv, err := privateBetween(r.db.WithContext(ctx), a, b)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return conv, nil
}

// privateBetween matches on participant-set equality: both users present and
// nobody else.
func privateBetween(db *gorm.DB, a, b string) (*models.Conversation, error) {
	const member = "EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = conversations.id AND p.user_id = ?)"
	var conv models.Conversation
	err := db.
		Where("conversations.type = ?", models.ConversationTypePrivate).
		Where(member, a).
		Where(member, b).
		Where("(SELECT COUNT(*) FROM conversation_participants p WHERE p.conversation_id = conversations.id) = 2").
		Order("conversations.id ASC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{ID: msg.ConversationID}).
			Update("updated_at", msg.CreatedAt).Error
	})
	return storeError(err, "Message", msg.ID)
}

func (r *chatRepository) ListMessages(ctx context.Context, convID uint) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return messages, nil
}

func (r *chatRepository) LatestMessages(ctx context.Context, convIDs []uint) (map[uint]*models.Message, error) {
	latest := make(map[uint]*models.Message, len(convIDs))
	if len(convIDs) == 0 {
		return latest, nil
	}

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("messages.conversation_id IN ?", convIDs).
		Where(`NOT EXISTS (SELECT 1 FROM messages n WHERE n.conversation_id = messages.conversation_id
			AND (n.created_at > messages.created_at OR (n.created_at = messages.created_at AND n.id > messages.id)))`).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	for i := range messages {
		latest[messages[i].ConversationID] = &messages[i]
	}
	return latest, nil
}
