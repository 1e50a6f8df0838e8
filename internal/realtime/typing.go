package realtime

import (
	"sort"
	"sync"
	"time"

	"supportchat/internal/models"
)

// TypingTracker keeps the last keystroke time per user per session. Entries
// older than the TTL read as absent even before the sweeper removes them.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]map[string]time.Time // sessionID -> userID -> lastTypedAt
	now     func() time.Time
}

// NewTypingTracker creates a tracker with the given TTL
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		ttl:     ttl,
		entries: make(map[string]map[string]time.Time),
		now:     time.Now,
	}
}

// Set records or clears a typing signal. It reports whether the visible
// state of the user changed, i.e. whether an event should be published.
func (t *TypingTracker) Set(sessionID, userID string, isTyping bool) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.entries[sessionID]
	last, exists := users[userID]
	wasTyping := exists && now.Sub(last) < t.ttl

	if isTyping {
		if users == nil {
			users = make(map[string]time.Time)
			t.entries[sessionID] = users
		}
		users[userID] = now
		return !wasTyping
	}

	if exists {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.entries, sessionID)
		}
	}
	return wasTyping
}

// Active returns the users currently typing in sessionID, oldest first
func (t *TypingTracker) Active(sessionID string) []models.TypingSignal {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.TypingSignal
	for userID, last := range t.entries[sessionID] {
		if now.Sub(last) < t.ttl {
			out = append(out, models.TypingSignal{SessionID: sessionID, UserID: userID, LastTypedAt: last})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTypedAt.Equal(out[j].LastTypedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastTypedAt.Before(out[j].LastTypedAt)
	})
	return out
}

// IsTyping reports whether userID is typing in sessionID
func (t *TypingTracker) IsTyping(sessionID, userID string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.entries[sessionID][userID]
	return ok && now.Sub(last) < t.ttl
}

// Sweep removes expired entries and returns them
func (t *TypingTracker) Sweep() []models.TypingSignal {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []models.TypingSignal
	for sessionID, users := range t.entries {
		for userID, last := range users {
			if now.Sub(last) >= t.ttl {
				expired = append(expired, models.TypingSignal{SessionID: sessionID, UserID: userID, LastTypedAt: last})
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(t.entries, sessionID)
		}
	}
	return expired
}

// Clear drops every entry of sessionID and returns the users that were
// still typing
func (t *TypingTracker) Clear(sessionID string) []string {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var active []string
	for userID, last := range t.entries[sessionID] {
		if now.Sub(last) < t.ttl {
			active = append(active, userID)
		}
	}
	delete(t.entries, sessionID)
	sort.Strings(active)
	return active
}
