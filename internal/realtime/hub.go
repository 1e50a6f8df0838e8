package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/metrics"
	"supportchat/internal/models"
	"supportchat/internal/privacy"
	"supportchat/internal/tracing"
	"supportchat/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the durable side of the timeline
type Store interface {
	SaveMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error)
	ListReplies(ctx context.Context, parentID string) ([]*models.Message, error)
	AddReaction(ctx context.Context, r models.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, r models.Reaction) (bool, error)
}

// SessionResolver reports the state of a session. ok is false when the
// session does not exist.
type SessionResolver interface {
	SessionState(ctx context.Context, sessionID string) (state models.SessionState, ok bool, err error)
}

// Options configures a Hub. Zero values fall back to internal/constants.
type Options struct {
	TypingTTL        time.Duration
	TypingSweep      time.Duration
	SubscriberBuffer int
}

// timeline is the in-memory message list of one session. Its mutex
// serializes publish and persist so subscribers see events in the order
// they were durably accepted.
type timeline struct {
	mu       sync.Mutex
	messages []*models.Message
	seeded   bool
}

// Hub keeps message status, typing, reactions and reply threads consistent
// across every client watching a session
type Hub struct {
	store       Store
	sessions    SessionResolver
	broadcaster *Broadcaster
	typing      *TypingTracker
	sweep       time.Duration
	logger      *logrus.Logger
	now         func() time.Time

	mu        sync.Mutex
	timelines map[string]*timeline
	owners    map[string]string // messageID -> sessionID for cached messages
	threads   *threadCache

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. sessions may be nil, in which case session checks
// are skipped.
func NewHub(store Store, sessions SessionResolver, opts Options, logger *logrus.Logger) *Hub {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = time.Duration(constants.DefaultTypingTTLMs) * time.Millisecond
	}
	if opts.TypingSweep <= 0 || opts.TypingSweep > opts.TypingTTL {
		opts.TypingSweep = opts.TypingTTL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Hub{
		store:       store,
		sessions:    sessions,
		broadcaster: NewBroadcaster(opts.SubscriberBuffer, logger),
		typing:      NewTypingTracker(opts.TypingTTL),
		sweep:       opts.TypingSweep,
		logger:      logger,
		now:         time.Now,
		timelines:   make(map[string]*timeline),
		owners:      make(map[string]string),
		threads:     newThreadCache(),
		stopCh:      make(chan struct{}),
	}
}

// SetSessionResolver wires the session registry after construction
func (h *Hub) SetSessionResolver(r SessionResolver) {
	h.mu.Lock()
	h.sessions = r
	h.mu.Unlock()
}

func (h *Hub) resolver() SessionResolver {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions
}

// lookupSession returns the state of sessionID, or NOT_FOUND when no such
// session exists. Without a resolver every session reads as open.
func (h *Hub) lookupSession(ctx context.Context, sessionID string) (models.SessionState, error) {
	r := h.resolver()
	if r == nil {
		return "", nil
	}
	state, ok, err := r.SessionState(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.NewNotFoundError("session", sessionID)
	}
	return state, nil
}

// requireOpen fails unless sessionID names an existing session that is not closed
func (h *Hub) requireOpen(ctx context.Context, sessionID string) error {
	state, err := h.lookupSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if state == models.StateClosed {
		return apperrors.NewSessionClosedError(sessionID)
	}
	return nil
}

func (h *Hub) timelineFor(sessionID string) *timeline {
	h.mu.Lock()
	defer h.mu.Unlock()
	tl, ok := h.timelines[sessionID]
	if !ok {
		tl = &timeline{}
		h.timelines[sessionID] = tl
	}
	return tl
}

// cachedTimeline returns the timeline of sessionID without creating one
func (h *Hub) cachedTimeline(sessionID string) *timeline {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timelines[sessionID]
}

func (h *Hub) event(t models.EventType, sessionID string) models.Event {
	return models.Event{Type: t, SessionID: sessionID, Timestamp: h.now().UTC()}
}

// Subscribe opens an event stream for sessionID. It ends when ctx is
// cancelled, Cancel is called, or the session is closed.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	if err := h.requireOpen(ctx, sessionID); err != nil {
		return nil, err
	}
	sub := h.broadcaster.Subscribe(ctx, sessionID)

	// A close that landed between the check and the registration has
	// already run RemoveSession and would never end this subscription.
	if err := h.requireOpen(ctx, sessionID); err != nil {
		sub.Cancel()
		return nil, err
	}
	return sub, nil
}

// Unsubscribe ends a subscription. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(sessionID, subscriptionID string) {
	h.broadcaster.Unsubscribe(sessionID, subscriptionID)
}

// SubscriberCount returns the number of open subscriptions for sessionID
func (h *Hub) SubscriberCount(sessionID string) int {
	return h.broadcaster.Count(sessionID)
}

// Broadcast sends ev to the subscribers of every session
func (h *Hub) Broadcast(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	h.broadcaster.PublishAll(ev)
}

// Publish sends ev to the subscribers of one session
func (h *Hub) Publish(sessionID string, ev models.Event) {
	ev.SessionID = sessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	h.broadcaster.Publish(sessionID, ev)
}

// PostMessage appends a top-level message to the session timeline. The
// message is echoed as SENDING, persisted, and then reported SENT or
// FAILED. A FAILED message stays in the timeline and the persistence error
// is returned alongside it.
func (h *Hub) PostMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if !msg.Sender.Valid() {
		return nil, apperrors.NewValidationError("sender", "unknown sender")
	}
	if msg.AttachmentURL == "" {
		if err := validation.ValidateMessageContent(msg.Content); err != nil {
			return nil, err
		}
	} else if err := validation.ValidateUtterance(msg.Content); err != nil {
		return nil, err
	}

	msg.ID = uuid.NewString()
	msg.ParentID = ""
	msg.CreatedAt = h.now().UTC()
	msg.DeliveryStatus = models.DeliverySending
	msg.Reactions = nil

	ctx, span := tracing.StartSpan(ctx, "realtime.post_message",
		tracing.AttrSessionID.String(msg.SessionID),
		tracing.AttrMessageID.String(msg.ID),
	)
	defer span.End()

	tl := h.timelineFor(msg.SessionID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	stored := msg
	tl.messages = append(tl.messages, &stored)
	h.mu.Lock()
	h.owners[stored.ID] = stored.SessionID
	h.mu.Unlock()

	echo := h.event(models.EventMessage, stored.SessionID)
	echo.Message = cloneMessage(&stored)
	h.broadcaster.Publish(stored.SessionID, echo)

	err := h.persistLocked(ctx, &stored)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return cloneMessage(&stored), err
}

// persistLocked saves m and publishes the resulting status. The timeline
// lock of m's session must be held.
func (h *Hub) persistLocked(ctx context.Context, m *models.Message) error {
	labels := map[string]string{"sender": string(m.Sender)}

	saved := *m
	saved.DeliveryStatus = models.DeliverySent
	err := h.store.SaveMessage(ctx, &saved)
	if err != nil {
		m.DeliveryStatus = models.DeliveryFailed
		metrics.IncrementCounter(metrics.MessagesFailed, labels, "Messages the store did not accept")
		h.logger.WithError(err).WithFields(logrus.Fields{
			"session":    privacy.MaskSessionID(m.SessionID),
			"message_id": m.ID,
			"sender":     m.Sender,
		}).Warn("Failed to persist message")
	} else {
		m.DeliveryStatus = models.DeliverySent
		metrics.IncrementCounter(metrics.MessagesPosted, labels, "Messages accepted by the store")
	}

	status := h.event(models.EventMessageStatus, m.SessionID)
	status.Status = &models.StatusChange{
		MessageID: m.ID,
		Status:    m.DeliveryStatus,
		Retryable: m.Retryable(),
	}
	h.broadcaster.Publish(m.SessionID, status)
	return err
}

// RetryMessage re-attempts persistence of a FAILED message or reply.
// Messages that are not FAILED are returned unchanged.
func (h *Hub) RetryMessage(ctx context.Context, messageID string) (*models.Message, error) {
	h.mu.Lock()
	sessionID, ok := h.owners[messageID]
	h.mu.Unlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("message", messageID)
	}

	tl := h.timelineFor(sessionID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	target := h.findLocked(tl, messageID)
	if target == nil {
		return nil, apperrors.NewNotFoundError("message", messageID)
	}
	if target.DeliveryStatus != models.DeliveryFailed {
		return cloneMessage(target), nil
	}

	target.DeliveryStatus = models.DeliverySending
	sending := h.event(models.EventMessageStatus, sessionID)
	sending.Status = &models.StatusChange{MessageID: messageID, Status: models.DeliverySending}
	h.broadcaster.Publish(sessionID, sending)

	err := h.persistLocked(ctx, target)
	return cloneMessage(target), err
}

// History returns the full timeline of sessionID, including FAILED
// messages. A session with no in-memory timeline is seeded from the store.
// Closed sessions are read through without being cached again.
func (h *Hub) History(ctx context.Context, sessionID string) ([]*models.Message, error) {
	state, err := h.lookupSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == models.StateClosed {
		return h.closedHistory(ctx, sessionID)
	}

	tl := h.timelineFor(sessionID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if !tl.seeded {
		if err := h.seedLocked(ctx, tl, sessionID); err != nil {
			return nil, err
		}
	}

	out := make([]*models.Message, len(tl.messages))
	for i, m := range tl.messages {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (h *Hub) loadPersisted(ctx context.Context, sessionID string) ([]*models.Message, error) {
	var persisted []*models.Message
	for offset := 0; ; offset += constants.MaxHistoryPageSize {
		page, err := h.store.ListMessages(ctx, sessionID, constants.MaxHistoryPageSize, offset)
		if err != nil {
			return nil, err
		}
		persisted = append(persisted, page...)
		if len(page) < constants.MaxHistoryPageSize {
			return persisted, nil
		}
	}
}

// seedLocked merges persisted messages in front of anything posted since
// the process started. The timeline lock must be held.
func (h *Hub) seedLocked(ctx context.Context, tl *timeline, sessionID string) error {
	persisted, err := h.loadPersisted(ctx, sessionID)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(tl.messages))
	for _, m := range tl.messages {
		known[m.ID] = true
	}
	merged := make([]*models.Message, 0, len(persisted)+len(tl.messages))
	h.mu.Lock()
	for _, m := range persisted {
		if known[m.ID] {
			continue
		}
		merged = append(merged, m)
		h.owners[m.ID] = sessionID
	}
	h.mu.Unlock()

	tl.messages = append(merged, tl.messages...)
	tl.seeded = true
	return nil
}

// closedHistory merges the store with the FAILED messages still cached for
// a closed session
func (h *Hub) closedHistory(ctx context.Context, sessionID string) ([]*models.Message, error) {
	out, err := h.loadPersisted(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if tl := h.cachedTimeline(sessionID); tl != nil {
		known := make(map[string]bool, len(out))
		for _, m := range out {
			known[m.ID] = true
		}
		tl.mu.Lock()
		for _, m := range tl.messages {
			if !known[m.ID] {
				out = append(out, cloneMessage(m))
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

// ListMessages pages persisted top-level history. limit defaults to 50 and
// is capped at 200.
func (h *Hub) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	limit, offset, err := validation.ValidatePage(limit, offset)
	if err != nil {
		return nil, err
	}
	if _, err := h.lookupSession(ctx, sessionID); err != nil {
		return nil, err
	}
	msgs, err := h.store.ListMessages(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs, nil
}

// SetTyping records or clears a typing signal and publishes a typing event
// when the visible state changes
func (h *Hub) SetTyping(ctx context.Context, sessionID, userID string, isTyping bool) error {
	if err := validation.ValidateUserID(userID); err != nil {
		return err
	}
	if err := h.requireOpen(ctx, sessionID); err != nil {
		return err
	}
	if h.typing.Set(sessionID, userID, isTyping) {
		h.publishTyping(sessionID, userID, isTyping)
	}
	return nil
}

// Typing returns the users currently typing in sessionID
func (h *Hub) Typing(sessionID string) []models.TypingSignal {
	return h.typing.Active(sessionID)
}

func (h *Hub) publishTyping(sessionID, userID string, isTyping bool) {
	ev := h.event(models.EventTyping, sessionID)
	ev.Typing = &models.TypingChange{UserID: userID, IsTyping: isTyping}
	h.broadcaster.Publish(sessionID, ev)
}

// SweepTyping expires stale typing entries and publishes a stop event for each
func (h *Hub) SweepTyping() int {
	expired := h.typing.Sweep()
	for _, sig := range expired {
		h.publishTyping(sig.SessionID, sig.UserID, false)
	}
	return len(expired)
}

// Start runs the typing sweeper until ctx is cancelled or Stop is called
func (h *Hub) Start(ctx context.Context) {
	ticker := time.NewTicker(h.sweep)
	defer ticker.Stop()

	h.logger.WithField("interval", h.sweep).Info("Starting typing sweeper")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			if n := h.SweepTyping(); n > 0 {
				h.logger.WithField("count", n).Debug("Expired typing signals")
			}
		}
	}
}

// Stop ends the sweeper and closes every subscription
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.broadcaster.Close()
	})
}

// CloseSession publishes session_closed, drops typing entries without
// emitting stop events, ends every subscription of the session and releases
// its cached messages. Notification jobs are not touched.
func (h *Hub) CloseSession(sessionID string) {
	h.typing.Clear(sessionID)

	h.broadcaster.Publish(sessionID, h.event(models.EventSessionClosed, sessionID))
	n := h.broadcaster.RemoveSession(sessionID)
	released := h.release(sessionID)

	h.logger.WithFields(logrus.Fields{
		"session":       privacy.MaskSessionID(sessionID),
		"subscriptions": n,
		"released":      released,
	}).Debug("Realtime state released for closed session")
}

// release drops the cached messages, replies and ownership entries of
// sessionID and returns how many it dropped. FAILED messages and replies
// exist nowhere else, so they stay cached for History and RetryMessage.
func (h *Hub) release(sessionID string) int {
	tl := h.cachedTimeline(sessionID)
	if tl == nil {
		return 0
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	var kept []*models.Message
	dropped := h.threads.releaseSession(sessionID)
	for _, m := range tl.messages {
		if m.DeliveryStatus == models.DeliveryFailed {
			kept = append(kept, m)
			continue
		}
		dropped = append(dropped, m.ID)
	}
	tl.messages = kept
	tl.seeded = false
	keep := len(kept) > 0 || h.threads.hasSession(sessionID)

	h.mu.Lock()
	for _, id := range dropped {
		delete(h.owners, id)
	}
	if !keep {
		delete(h.timelines, sessionID)
	}
	h.mu.Unlock()
	return len(dropped)
}

// CachedSessions returns how many sessions hold in-memory timeline state
func (h *Hub) CachedSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timelines)
}

func cloneMessage(m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Reactions = append([]models.Reaction(nil), m.Reactions...)
	return &c
}
