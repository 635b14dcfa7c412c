package repository

import (
	"context"
	"errors"

	"roadcrew/internal/models"

	"gorm.io/gorm"
)

// FriendRepository defines the interface for friend data operations
type FriendRepository interface {
	// CreateIfNoActive inserts the friendship unless an active edge already
	// exists for the unordered pair, in which case it returns a conflict.
	CreateIfNoActive(ctx context.Context, friendship *models.Friendship) error
	GetByID(ctx context.Context, id uint) (*models.Friendship, error)
	// GetActiveBetween returns nil, nil when the pair has no active edge.
	GetActiveBetween(ctx context.Context, userA, userB string) (*models.Friendship, error)
	ListByStatus(ctx context.Context, userID string, status models.FriendshipStatus, side models.FriendshipSide) ([]models.Friendship, error)
	// UpdateStatus moves a friendship from one status to another. It fails
	// with a conflict when the row is no longer in the from status.
	UpdateStatus(ctx context.Context, id uint, from, to models.FriendshipStatus) error
	Delete(ctx context.Context, id uint) error
}

// friendRepository implements FriendRepository
type friendRepository struct {
	db *gorm.DB
}

// NewFriendRepository creates a new friend repository
func NewFriendRepository(db *gorm.DB) FriendRepository {
	return &friendRepository{db: db}
}

func (r *friendRepository) CreateIfNoActive(ctx context.Context, friendship *models.Friendship) error {
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			// Held until commit so requests in both directions see each other.
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", friendPairKey(friendship.UserA, friendship.UserB)).Error; err != nil {
				return err
			}
		}
		existing, err := activeBetween(tx, friendship.UserA, friendship.UserB)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.NewConflictError("An active friendship already exists").WithKey(models.KeyDuplicateRequest)
		}
		return tx.Create(friendship).Error
	})
	return storeError(err, "Friendship", friendship.ID)
}

func (r *friendRepository) GetByID(ctx context.Context, id uint) (*models.Friendship, error) {
	var friendship models.Friendship
	if err := r.db.WithContext(ctx).First(&friendship, id).Error; err != nil {
		return nil, storeError(err, "Friendship", id)
	}
	return &friendship, nil
}

func (r *friendRepository) GetActiveBetween(ctx context.Context, userA, userB string) (*models.Friendship, error) {
	f, err := activeBetween(r.db.WithContext(ctx), userA, userB)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return f, nil
}

func activeBetween(db *gorm.DB, userA, userB string) (*models.Friendship, error) {
	var friendship models.Friendship
	err := db.
		Where("((user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?)) AND status IN ?",
			userA, userB, userB, userA, models.ActiveFriendshipStatuses).
		Order("id DESC").
		First(&friendship).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &friendship, nil
}

func (r *friendRepository) ListByStatus(ctx context.Context, userID string, status models.FriendshipStatus, side models.FriendshipSide) ([]models.Friendship, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status)
	switch side {
	case models.SideRequester:
		q = q.Where("user_a = ?", userID)
	case models.SideReceiver:
		q = q.Where("user_b = ?", userID)
	default:
		q = q.Where("user_a = ? OR user_b = ?", userID, userID)
	}

	var friendships []models.Friendship
	if err := q.Order("created_at DESC, id DESC").Find(&friendships).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return friendships, nil
}

func (r *friendRepository) UpdateStatus(ctx context.Context, id uint, from, to models.FriendshipStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Friendship{ID: id}).
		Where("status = ?", from).
		Update("status", to)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewConflictError("Friendship is no longer " + string(from))
	}
	return nil
}

func (r *friendRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Friendship{ID: id})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Friendship", id)
	}
	return nil
}

func friendPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "friendship:" + a + ":" + b
}
