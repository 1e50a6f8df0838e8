package realtime

import (
	"context"
	"sync"

	"supportchat/internal/constants"
	"supportchat/internal/metrics"
	"supportchat/internal/models"
	"supportchat/internal/privacy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscription is one client's stream of events for a session. Events is
// closed when the subscription ends.
type Subscription struct {
	ID        string
	SessionID string
	Events    <-chan models.Event

	ch          chan models.Event
	broadcaster *Broadcaster
}

// Cancel ends the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.broadcaster.Unsubscribe(s.SessionID, s.ID)
}

// Broadcaster fans events out to the subscribers of a session. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscription // sessionID -> subID -> sub
	bufferSize  int
	logger      *logrus.Logger
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer
func NewBroadcaster(bufferSize int, logger *logrus.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriberBufferSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]*Subscription),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a subscriber for sessionID. The subscription is
// removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) *Subscription {
	ch := make(chan models.Event, b.bufferSize)
	sub := &Subscription{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Events:      ch,
		ch:          ch,
		broadcaster: b,
	}

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]*Subscription)
	}
	b.subscribers[sessionID][sub.ID] = sub
	b.updateGaugeLocked()
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"session": privacy.MaskSessionID(sessionID),
		"sub_id":  sub.ID,
	}).Debug("Subscriber added")

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, sub.ID)
	}()

	return sub
}

// Publish delivers ev to every subscriber of sessionID
func (b *Broadcaster) Publish(sessionID string, ev models.Event) {
	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[sessionID] {
		b.send(sub, ev)
	}
}

// PublishAll delivers ev to every subscriber of every session, with
// SessionID rewritten per session
func (b *Broadcaster) PublishAll(ev models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sessionID, subs := range b.subscribers {
		scoped := ev
		scoped.SessionID = sessionID
		for _, sub := range subs {
			b.send(sub, scoped)
		}
	}
}

func (b *Broadcaster) send(sub *Subscription, ev models.Event) {
	select {
	case sub.ch <- ev:
	default:
		metrics.IncrementCounter(metrics.EventsDropped, map[string]string{"type": string(ev.Type)}, "Events dropped for slow subscribers")
		b.logger.WithFields(logrus.Fields{
			"session": privacy.MaskSessionID(sub.SessionID),
			"sub_id":  sub.ID,
			"event":   ev.Type,
		}).Debug("Dropped event for slow subscriber")
	}
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs are ignored.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	sub, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}
	b.updateGaugeLocked()
}

// RemoveSession closes every subscription of sessionID and returns how many there were
func (b *Broadcaster) RemoveSession(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sessionID]
	for _, sub := range subs {
		close(sub.ch)
	}
	delete(b.subscribers, sessionID)
	b.updateGaugeLocked()
	return len(subs)
}

// Count returns the number of subscribers of sessionID
func (b *Broadcaster) Count(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Close ends every subscription
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(b.subscribers, sessionID)
	}
	b.updateGaugeLocked()
}

// updateGaugeLocked must be called with b.mu held
func (b *Broadcaster) updateGaugeLocked() {
	total := 0
	for _, subs := range b.subscribers {
		total += len(subs)
	}
	metrics.SetGauge(metrics.SubscribersActive, float64(total), nil, "Open realtime subscriptions")
}
