package models

import "time"

// SessionState is the lifecycle position of a chat session
type SessionState string

const (
	StateGreeting    SessionState = "GREETING"
	StateAwaitID     SessionState = "AWAIT_ID"
	StateAwaitSecret SessionState = "AWAIT_SECRET"
	StateActive      SessionState = "ACTIVE"
	StateClosed      SessionState = "CLOSED"
)

var stateOrder = map[SessionState]int{
	StateGreeting:    0,
	StateAwaitID:     1,
	StateAwaitSecret: 2,
	StateActive:      3,
	StateClosed:      4,
}

// Valid reports whether s is a known state
func (s SessionState) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next keeps the state monotonic.
// Staying in place is allowed; AWAIT_SECRET can never be skipped on the way to
// ACTIVE, and any open state may be closed.
func (s SessionState) CanAdvanceTo(next SessionState) bool {
	from, ok := stateOrder[s]
	if !ok {
		return false
	}
	to, ok := stateOrder[next]
	if !ok {
		return false
	}
	if s == StateClosed {
		return next == StateClosed
	}
	if next == StateClosed {
		return true
	}
	return to == from || to == from+1
}

// EscalationType names the reason a session needs human attention
type EscalationType string

const (
	EscalationNewCustomer      EscalationType = "new_customer"
	EscalationAssistanceNeeded EscalationType = "assistance_needed"
	EscalationEmergency        EscalationType = "emergency"
)

// Escalation is a side-channel signal attached to a session. It never changes
// the session state.
type Escalation struct {
	Type      EscalationType `json:"type"`
	JobID     string         `json:"job_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ChatSession is one visitor conversation
type ChatSession struct {
	ID             string       `json:"id"`
	VisitorRef     string       `json:"visitor_ref"`
	State          SessionState `json:"state"`
	Identifier     string       `json:"-"`
	KnownCustomer  bool         `json:"known_customer"`
	Locale         string       `json:"locale"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	Escalations    []Escalation `json:"escalations"`
}

// Clone returns a deep copy safe to hand to other goroutines
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Escalations = append([]Escalation(nil), s.Escalations...)
	return &c
}

// IsEscalated reports whether any escalation has been raised
func (s *ChatSession) IsEscalated() bool {
	return len(s.Escalations) > 0
}
