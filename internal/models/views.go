package models

import "time"

// FriendView is a friendship seen from one user, with the counterpart resolved.
type FriendView struct {
	Friendship
	CounterpartID string       `json:"counterpart_id"`
	Profile       *UserProfile `json:"profile,omitempty"`
}

// FriendOverview groups a user's edges the way the community page lists them.
type FriendOverview struct {
	Accepted []FriendView `json:"accepted"`
	Sent     []FriendView `json:"sent"`
	Received []FriendView `json:"received"`
}

// ConversationSummary is a conversation enriched for list display.
type ConversationSummary struct {
	Conversation
	Participants        []ConversationParticipant `json:"participants"`
	ParticipantProfiles []UserProfile             `json:"participant_profiles"`
	LastMessage         *Message                  `json:"last_message,omitempty"`
	UnreadCount         int                       `json:"unread_count"`
}

// ParticipantIDs returns the member user refs.
func (s *ConversationSummary) ParticipantIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// HasParticipant reports membership.
func (s *ConversationSummary) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ActivityAt is the time used to order the conversation list.
func (s *ConversationSummary) ActivityAt() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.UpdatedAt
}

// MessageView pairs a message with its sender profile, nil when unresolved.
type MessageView struct {
	Message
	Sender *UserProfile `json:"sender,omitempty"`
}

// SenderName returns the sender username or fallback.
func (v *MessageView) SenderName(fallback string) string {
	if v.Sender == nil || v.Sender.Username == "" {
		return fallback
	}
	return v.Sender.Username
}
