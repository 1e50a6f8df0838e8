package models

import "time"

// Sender identifies who authored a message
type Sender string

const (
	SenderVisitor Sender = "visitor"
	SenderBot     Sender = "bot"
	SenderStaff   Sender = "staff"
	SenderSystem  Sender = "system"
)

// Valid reports whether s is a known sender
func (s Sender) Valid() bool {
	switch s {
	case SenderVisitor, SenderBot, SenderStaff, SenderSystem:
		return true
	}
	return false
}

// DeliveryStatus tracks whether the durable store accepted a message
type DeliveryStatus string

const (
	DeliverySending DeliveryStatus = "SENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// Message is one entry in a session timeline or reply thread
type Message struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	Sender         Sender         `json:"sender"`
	SenderID       string         `json:"sender_id,omitempty"`
	Content        string         `json:"content"`
	AttachmentURL  string         `json:"attachment_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Reactions      []Reaction     `json:"reactions,omitempty"`
}

// Retryable reports whether the caller may offer a retry action
func (m *Message) Retryable() bool {
	return m.DeliveryStatus == DeliveryFailed
}

// Reaction is a unique (message, user, emoji) triple
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Key returns the identity of the triple, ignoring timestamps
func (r Reaction) Key() ReactionKey {
	return ReactionKey{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
}

// ReactionKey is the comparable identity of a reaction
type ReactionKey struct {
	MessageID string
	UserID    string
	Emoji     string
}

// TypingSignal records the last keystroke of a user in a session
type TypingSignal struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	LastTypedAt time.Time `json:"last_typed_at"`
}
