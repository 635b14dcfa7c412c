package models

import "time"

// UserProfile is the public projection of a rider.
type UserProfile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Username  string    `gorm:"not null;index" json:"username"`
	Mileage   int       `gorm:"not null;default:0" json:"mileage"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for UserProfile
func (UserProfile) TableName() string {
	return "user_profile"
}

// ProfileIndex maps user refs to profiles for in-memory joins.
type ProfileIndex map[string]*UserProfile

// IndexProfiles builds a ProfileIndex from a slice.
func IndexProfiles(profiles []UserProfile) ProfileIndex {
	idx := make(ProfileIndex, len(profiles))
	for i := range profiles {
		idx[profiles[i].UserID] = &profiles[i]
	}
	return idx
}
