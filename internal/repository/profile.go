package repository

import (
	"context"
	"log/slog"
	"strings"

	"roadcrew/internal/cache"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"

	"gorm.io/gorm"
)

const maxSearchResults = 50

// ProfileRepository reads the public user projection.
type ProfileRepository interface {
	ListAll(ctx context.Context) ([]models.UserProfile, error)
	// GetByUserIDs returns the profiles that exist; missing users are skipped.
	GetByUserIDs(ctx context.Context, userIDs []string) ([]models.UserProfile, error)
	SearchByUsername(ctx context.Context, query string, limit int) ([]models.UserProfile, error)
	Create(ctx context.Context, profile *models.UserProfile) error
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository returns a ProfileRepository backed by db and the
// shared Redis cache when one is configured.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) ListAll(ctx context.Context) ([]models.UserProfile, error) {
	var profiles []models.UserProfile
	err := cache.Aside(ctx, "profiles", cache.ProfilesAllKey, &profiles, cache.ProfilesAllTTL, func() error {
		if err := r.db.WithContext(ctx).Order("username ASC, id ASC").Find(&profiles).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *profileRepository) GetByUserIDs(ctx context.Context, userIDs []string) ([]models.UserProfile, error) {
	ids := uniqueNonEmpty(userIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	found := make(map[string]models.UserProfile, len(ids))
	var misses []string
	for _, id := range ids {
		var p models.UserProfile
		ok, err := cache.GetJSON(ctx, cache.ProfileKey(id), &p)
		if err != nil {
			middleware.Logger.DebugContext(ctx, "profile cache read failed", slog.String("error", err.Error()))
		}
		if ok {
			found[id] = p
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		var fetched []models.UserProfile
		if err := r.db.WithContext(ctx).Where("user_id IN ?", misses).Find(&fetched).Error; err != nil {
			return nil, models.NewInternalError(err)
		}
		for _, p := range fetched {
			found[p.UserID] = p
			_ = cache.SetJSON(ctx, cache.ProfileKey(p.UserID), p, cache.ProfileTTL)
		}
	}

	out := make([]models.UserProfile, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *profileRepository) SearchByUsername(ctx context.Context, query string, limit int) ([]models.UserProfile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}

	var profiles []models.UserProfile
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	err := r.db.WithContext(ctx).
		Where(`LOWER(username) LIKE ? ESCAPE '\'`, pattern).
		Order("username ASC, id ASC").
		Limit(limit).
		Find(&profiles).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return profiles, nil
}

func (r *profileRepository) Create(ctx context.Context, profile *models.UserProfile) error {
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return storeError(err, "UserProfile", profile.UserID)
	}
	cache.InvalidateProfile(ctx, profile.UserID)
	return nil
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
