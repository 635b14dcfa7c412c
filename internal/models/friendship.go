// Package models contains data models used by the application.
package models

import "time"

// FriendshipStatus represents the status of a friendship
type FriendshipStatus string

const (
	// FriendshipStatusPending indicates a friend request has been sent but not yet accepted
	FriendshipStatusPending FriendshipStatus = "pending"
	// FriendshipStatusAccepted indicates both users are friends
	FriendshipStatusAccepted FriendshipStatus = "accepted"
	// FriendshipStatusRejected indicates the receiver declined the request
	FriendshipStatusRejected FriendshipStatus = "rejected"
	// FriendshipStatusBlocked indicates the receiver blocked the requester
	FriendshipStatusBlocked FriendshipStatus = "blocked"
)

// IsActive reports whether the status counts towards the one-edge-per-pair rule.
func (s FriendshipStatus) IsActive() bool {
	return s == FriendshipStatusPending || s == FriendshipStatusAccepted
}

// ActiveFriendshipStatuses lists the statuses that occupy a pair.
var ActiveFriendshipStatuses = []FriendshipStatus{FriendshipStatusPending, FriendshipStatusAccepted}

// FriendshipDecision is the receiver's answer to a pending request.
type FriendshipDecision string

const (
	DecisionAccept FriendshipDecision = "accept"
	DecisionReject FriendshipDecision = "reject"
	DecisionBlock  FriendshipDecision = "block"
)

// TargetStatus returns the status a decision moves a pending friendship to.
func (d FriendshipDecision) TargetStatus() (FriendshipStatus, bool) {
	switch d {
	case DecisionAccept:
		return FriendshipStatusAccepted, true
	case DecisionReject:
		return FriendshipStatusRejected, true
	case DecisionBlock:
		return FriendshipStatusBlocked, true
	}
	return "", false
}

// Friendship is an edge between two users. UserA sent the request, UserB received it.
type Friendship struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserA     string           `gorm:"column:user_a;not null;index" json:"user_a"`
	UserB     string           `gorm:"column:user_b;not null;index" json:"user_b"`
	Status    FriendshipStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TableName specifies the table name for Friendship
func (Friendship) TableName() string {
	return "friendships"
}

// Involves reports whether the user is either side of the edge.
func (f *Friendship) Involves(userID string) bool {
	return f.UserA == userID || f.UserB == userID
}

// Counterpart returns the other side of the edge as seen by userID.
func (f *Friendship) Counterpart(userID string) string {
	if f.UserA == userID {
		return f.UserB
	}
	return f.UserA
}

// FriendshipSide selects which column a listing filters on.
type FriendshipSide int

const (
	SideEither FriendshipSide = iota
	SideRequester
	SideReceiver
)
