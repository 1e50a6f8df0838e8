package models

import "time"

// EventType names the kind of change fanned out to session subscribers
type EventType string

const (
	EventMessage         EventType = "message"
	EventMessageStatus   EventType = "message_status"
	EventTyping          EventType = "typing"
	EventReactionAdded   EventType = "reaction_added"
	EventReactionRemoved EventType = "reaction_removed"
	EventReply           EventType = "reply"
	EventSupportStatus   EventType = "support_status"
	EventSessionState    EventType = "session_state"
	EventSessionClosed   EventType = "session_closed"
)

// Event is a typed change notification. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Message  *Message       `json:"message,omitempty"`
	Status   *StatusChange  `json:"status,omitempty"`
	Typing   *TypingChange  `json:"typing,omitempty"`
	Reaction *Reaction      `json:"reaction,omitempty"`
	Support  *SupportStatus `json:"support,omitempty"`
	State    SessionState   `json:"state,omitempty"`
}

// StatusChange reports a delivery status transition of one message
type StatusChange struct {
	MessageID string         `json:"message_id"`
	Status    DeliveryStatus `json:"status"`
	Retryable bool           `json:"retryable"`
}

// TypingChange reports a user starting or stopping typing
type TypingChange struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// SupportStatus is the availability snapshot shown in the widget banner
type SupportStatus struct {
	Online     bool      `json:"online"`
	StaffCount int       `json:"staff_count"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}
