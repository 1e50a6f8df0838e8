package models

import "time"

// Presence is a staff member's availability
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceOffline Presence = "offline"
)

// Valid reports whether p is a known presence value
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// StaffMember is a support agent who can answer escalated sessions
type StaffMember struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Presence    Presence  `json:"presence"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Customer is a known visitor identity
type Customer struct {
	Identifier  string    `json:"identifier"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
