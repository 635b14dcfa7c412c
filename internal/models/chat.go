package models

import "time"

// ConversationType is fixed at creation time.
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
)

// Conversation represents a chat conversation
type Conversation struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	Type        ConversationType `gorm:"type:varchar(10);not null" json:"type"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `gorm:"index" json:"updated_at"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// IsGroup reports whether the conversation is a named group.
func (c *Conversation) IsGroup() bool {
	return c.Type == ConversationTypeGroup
}

// ConversationParticipant is a membership row.
type ConversationParticipant struct {
	ConversationID uint      `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID         string    `gorm:"primaryKey;index" json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for ConversationParticipant
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// Message represents a single message in a conversation
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;index:idx_messages_conversation_order,priority:1" json:"conversation_id"`
	SenderID       string    `gorm:"not null;index" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_order,priority:2" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}

// Before reports whether m sorts ahead of other within a conversation.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
