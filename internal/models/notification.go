package models

import (
	"encoding/json"
	"time"
)

// NotificationType is the kind of staff alert carried by a job
type NotificationType string

const (
	NotificationNewSession       NotificationType = "new_session"
	NotificationNewCustomer      NotificationType = "new_customer"
	NotificationAssistanceNeeded NotificationType = "assistance_needed"
	NotificationEmergency        NotificationType = "emergency"
)

// Valid reports whether t is a known notification type
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationNewSession, NotificationNewCustomer, NotificationAssistanceNeeded, NotificationEmergency:
		return true
	}
	return false
}

// JobStatus is the delivery state of a notification job
type JobStatus string

const (
	JobPending  JobStatus = "PENDING"
	JobSending  JobStatus = "SENDING"
	JobRetrying JobStatus = "RETRYING"
	JobSent     JobStatus = "SENT"
	JobFailed   JobStatus = "FAILED"
)

// Terminal reports whether no further attempts will be made
func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobFailed
}

// NotificationJob is one at-least-once delivery of a staff alert
type NotificationJob struct {
	ID            string           `json:"id"`
	Type          NotificationType `json:"type"`
	SessionID     string           `json:"session_id,omitempty"`
	Payload       json.RawMessage  `json:"payload"`
	Priority      string           `json:"priority,omitempty"`
	AttemptCount  int              `json:"attempt_count"`
	MaxAttempts   int              `json:"max_attempts"`
	NextAttemptAt time.Time        `json:"next_attempt_at"`
	Status        JobStatus        `json:"status"`
	LastError     string           `json:"last_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`

	// Revision grows with every status transition. Stores keep the row with
	// the highest revision so late writes cannot roll a job back.
	Revision int64 `json:"revision"`
}

// Clone returns a copy that does not share the payload buffer
func (j *NotificationJob) Clone() *NotificationJob {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	return &c
}
