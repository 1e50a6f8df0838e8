package realtime

import (
	"context"

	apperrors "supportchat/internal/errors"
	"supportchat/internal/metrics"
	"supportchat/internal/models"
	"supportchat/internal/validation"
)

// messageSession resolves the session that owns messageID
func (h *Hub) messageSession(ctx context.Context, messageID string) (string, error) {
	if messageID == "" {
		return "", apperrors.NewValidationError("message_id", "cannot be empty")
	}

	h.mu.Lock()
	sessionID, ok := h.owners[messageID]
	h.mu.Unlock()
	if ok {
		return sessionID, nil
	}

	m, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", apperrors.NewNotFoundError("message", messageID)
	}
	return m.SessionID, nil
}

// AddReaction adds the (message, user, emoji) triple. Adding an existing
// triple is a no-op and publishes nothing. It reports whether the set changed.
func (h *Hub) AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	return h.changeReaction(ctx, messageID, userID, emoji, true)
}

// RemoveReaction removes the triple. Removing a missing triple is a no-op.
func (h *Hub) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	return h.changeReaction(ctx, messageID, userID, emoji, false)
}

func (h *Hub) changeReaction(ctx context.Context, messageID, userID, emoji string, add bool) (bool, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return false, err
	}
	if err := validation.ValidateEmoji(emoji); err != nil {
		return false, err
	}
	sessionID, err := h.messageSession(ctx, messageID)
	if err != nil {
		return false, err
	}
	if err := h.requireOpen(ctx, sessionID); err != nil {
		return false, err
	}

	r := models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: h.now().UTC()}

	tl := h.timelineFor(sessionID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	var changed bool
	evType := models.EventReactionAdded
	if add {
		changed, err = h.store.AddReaction(ctx, r)
	} else {
		evType = models.EventReactionRemoved
		changed, err = h.store.RemoveReaction(ctx, r)
	}
	if err != nil || !changed {
		return false, err
	}

	if cached := h.findLocked(tl, messageID); cached != nil {
		cached.Reactions = applyReaction(cached.Reactions, r, add)
	}

	metrics.IncrementCounter(metrics.ReactionsChanged, map[string]string{"event": string(evType)}, "Reaction set changes")
	ev := h.event(evType, sessionID)
	ev.Reaction = &r
	h.broadcaster.Publish(sessionID, ev)
	return true, nil
}

// applyReaction adds or removes r from set, keyed by the triple
func applyReaction(set []models.Reaction, r models.Reaction, add bool) []models.Reaction {
	key := r.Key()
	out := set[:0:0]
	found := false
	for _, existing := range set {
		if existing.Key() == key {
			found = true
			if !add {
				continue
			}
		}
		out = append(out, existing)
	}
	if add && !found {
		out = append(out, r)
	}
	return out
}
