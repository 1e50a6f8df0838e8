package realtime

import (
	"context"
	"sort"
	"sync"

	apperrors "supportchat/internal/errors"
	"supportchat/internal/models"
	"supportchat/internal/tracing"
	"supportchat/internal/validation"

	"github.com/google/uuid"
)

type thread struct {
	sessionID string
	replies   []*models.Message
	loaded    bool
}

// threadCache holds reply threads loaded on demand. The map is guarded by
// mu; the messages inside a thread are guarded by their session's timeline
// lock.
type threadCache struct {
	mu      sync.Mutex
	threads map[string]*thread // parentID -> thread
	parents map[string]string  // replyID -> parentID
}

func newThreadCache() *threadCache {
	return &threadCache{
		threads: make(map[string]*thread),
		parents: make(map[string]string),
	}
}

func (c *threadCache) get(sessionID, parentID string) *thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[parentID]
	if !ok {
		th = &thread{sessionID: sessionID}
		c.threads[parentID] = th
	}
	return th
}

func (c *threadCache) lookup(parentID string) *thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads[parentID]
}

// releaseSession drops the threads of sessionID except their FAILED replies
// and returns the IDs of the replies it dropped. The session's timeline lock
// must be held.
func (c *threadCache) releaseSession(sessionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped []string
	for parentID, th := range c.threads {
		if th.sessionID != sessionID {
			continue
		}
		var kept []*models.Message
		for _, r := range th.replies {
			if r.DeliveryStatus == models.DeliveryFailed {
				kept = append(kept, r)
				continue
			}
			dropped = append(dropped, r.ID)
			delete(c.parents, r.ID)
		}
		if len(kept) == 0 {
			delete(c.threads, parentID)
			continue
		}
		th.replies = kept
		th.loaded = false
	}
	return dropped
}

func (c *threadCache) hasSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, th := range c.threads {
		if th.sessionID == sessionID {
			return true
		}
	}
	return false
}

func (c *threadCache) track(replyID, parentID string) {
	c.mu.Lock()
	c.parents[replyID] = parentID
	c.mu.Unlock()
}

func (c *threadCache) parentOf(replyID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.parents[replyID]
	return p, ok
}

// loadThreadLocked fills th from the store on first use. The session's timeline
// lock must be held.
func (h *Hub) loadThreadLocked(ctx context.Context, parentID string, th *thread) error {
	if th.loaded {
		return nil
	}
	persisted, err := h.store.ListReplies(ctx, parentID)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(th.replies))
	for _, r := range th.replies {
		known[r.ID] = true
	}
	for _, r := range persisted {
		if known[r.ID] {
			continue
		}
		th.replies = append(th.replies, r)
		h.threads.track(r.ID, parentID)
	}
	sort.SliceStable(th.replies, func(i, j int) bool {
		return th.replies[i].CreatedAt.Before(th.replies[j].CreatedAt)
	})
	th.loaded = true
	return nil
}

// parentMessage resolves a top-level message and the session it belongs to
func (h *Hub) parentMessage(ctx context.Context, parentID string) (string, error) {
	if parentID == "" {
		return "", apperrors.NewValidationError("message_id", "cannot be empty")
	}
	if _, isReply := h.threads.parentOf(parentID); isReply {
		return "", apperrors.NewValidationError("message_id", "replies cannot have replies")
	}

	h.mu.Lock()
	sessionID, ok := h.owners[parentID]
	h.mu.Unlock()
	if ok {
		return sessionID, nil
	}

	m, err := h.store.GetMessage(ctx, parentID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", apperrors.NewNotFoundError("message", parentID)
	}
	if m.ParentID != "" {
		return "", apperrors.NewValidationError("message_id", "replies cannot have replies")
	}
	return m.SessionID, nil
}

// GetThread returns the replies to parentID in creation order, loading them
// from the store on first access
func (h *Hub) GetThread(ctx context.Context, parentID string) ([]*models.Message, error) {
	sessionID, err := h.parentMessage(ctx, parentID)
	if err != nil {
		return nil, err
	}
	state, err := h.lookupSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == models.StateClosed {
		return h.closedThread(ctx, sessionID, parentID)
	}

	tl := h.timelineFor(sessionID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	th := h.threads.get(sessionID, parentID)
	if err := h.loadThreadLocked(ctx, parentID, th); err != nil {
		return nil, err
	}

	out := make([]*models.Message, len(th.replies))
	for i, r := range th.replies {
		out[i] = cloneMessage(r)
	}
	return out, nil
}

// closedThread reads a thread of a closed session from the store, adding
// any FAILED replies still cached, without caching it again
func (h *Hub) closedThread(ctx context.Context, sessionID, parentID string) ([]*models.Message, error) {
	out, err := h.store.ListReplies(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if tl := h.cachedTimeline(sessionID); tl != nil {
		tl.mu.Lock()
		if th := h.threads.lookup(parentID); th != nil {
			known := make(map[string]bool, len(out))
			for _, r := range out {
				known[r.ID] = true
			}
			for _, r := range th.replies {
				if !known[r.ID] {
					out = append(out, cloneMessage(r))
				}
			}
		}
		tl.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if out == nil {
		out = []*models.Message{}
	}
	return out, nil
}

// PostReply appends a reply to the thread of parentID. Delivery status
// follows the same SENDING, SENT or FAILED lifecycle as timeline messages.
func (h *Hub) PostReply(ctx context.Context, parentID string, msg models.Message) (*models.Message, error) {
	if !msg.Sender.Valid() {
		return nil, apperrors.NewValidationError("sender", "unknown sender")
	}
	if err := validation.ValidateMessageContent(msg.Content); err != nil {
		return nil, err
	}
	sessionID, err := h.parentMessage(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := h.requireOpen(ctx, sessionID); err != nil {
		return nil, err
	}

	reply := msg
	reply.ID = uuid.NewString()
	reply.SessionID = sessionID
	reply.ParentID = parentID
	reply.CreatedAt = h.now().UTC()
	reply.DeliveryStatus = models.DeliverySending
	reply.Reactions = nil

	ctx, span := tracing.StartSpan(ctx, "realtime.post_reply",
		tracing.AttrSessionID.String(sessionID),
		tracing.AttrMessageID.String(reply.ID),
	)
	defer span.End()

	tl := h.timelineFor(sessionID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	th := h.threads.get(sessionID, parentID)
	if err := h.loadThreadLocked(ctx, parentID, th); err != nil {
		return nil, err
	}
	th.replies = append(th.replies, &reply)
	h.threads.track(reply.ID, parentID)
	h.mu.Lock()
	h.owners[reply.ID] = sessionID
	h.mu.Unlock()

	ev := h.event(models.EventReply, sessionID)
	ev.Message = cloneMessage(&reply)
	h.broadcaster.Publish(sessionID, ev)

	err = h.persistLocked(ctx, &reply)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return cloneMessage(&reply), err
}

// findLocked returns the cached message messageID of sessionID from the
// timeline or a loaded thread. The session's timeline lock must be held.
func (h *Hub) findLocked(tl *timeline, messageID string) *models.Message {
	for _, m := range tl.messages {
		if m.ID == messageID {
			return m
		}
	}
	if parentID, ok := h.threads.parentOf(messageID); ok {
		if th := h.threads.lookup(parentID); th != nil {
			for _, r := range th.replies {
				if r.ID == messageID {
					return r
				}
			}
		}
	}
	return nil
}
