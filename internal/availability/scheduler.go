package availability

import (
	"context"
	"sync"
	"time"

	"supportchat/internal/metrics"
	"supportchat/internal/models"

	"github.com/sirupsen/logrus"
)

// Status sources
const (
	SourcePresence = "presence"
	SourceSchedule = "schedule"
)

// PresenceSource reports how many staff members are online
type PresenceSource interface {
	CountOnlineStaff(ctx context.Context) (int, error)
}

// StatusChange is emitted when the online flag flips
type StatusChange struct {
	Previous models.SupportStatus
	Current  models.SupportStatus
}

// Listener receives status changes. Listeners run on the scheduler loop and
// must not block.
type Listener func(ctx context.Context, change StatusChange)

// Scheduler decides whether live support is available. Staff presence wins
// when a presence source answers; otherwise the operating window decides.
type Scheduler struct {
	source   PresenceSource
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	// checkMu serializes Check so an evaluation cannot overwrite a newer one
	checkMu sync.Mutex

	mu        sync.RWMutex
	window    Window
	listeners []Listener
	last      *models.SupportStatus

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. source may be nil.
func NewScheduler(window Window, source PresenceSource, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		source:   source,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		window:   window,
		stopCh:   make(chan struct{}),
	}
}

// SetWindow replaces the operating window, e.g. after a config reload
func (s *Scheduler) SetWindow(w Window) {
	s.mu.Lock()
	s.window = w
	s.mu.Unlock()
	s.logger.WithField("window", w.String()).Info("Support operating window updated")
}

// Window returns the current operating window
func (s *Scheduler) Window() Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// OnChange registers a listener for online/offline flips
func (s *Scheduler) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// IsOnline reports whether support is available at now
func (s *Scheduler) IsOnline(ctx context.Context, now time.Time) bool {
	return s.Status(ctx, now).Online
}

// Status evaluates availability at now
func (s *Scheduler) Status(ctx context.Context, now time.Time) models.SupportStatus {
	if s.source != nil {
		count, err := s.source.CountOnlineStaff(ctx)
		if err == nil {
			return models.SupportStatus{
				Online:     count > 0,
				StaffCount: count,
				Source:     SourcePresence,
				Timestamp:  now,
			}
		}
		s.logger.WithError(err).Warn("Presence source unavailable, using operating window")
	}

	return models.SupportStatus{
		Online:    s.Window().Contains(now),
		Source:    SourceSchedule,
		Timestamp: now,
	}
}

// Check evaluates availability and notifies listeners if the online flag
// changed since the previous check. The first check only sets the baseline.
// Concurrent checks run one at a time.
func (s *Scheduler) Check(ctx context.Context) models.SupportStatus {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	status := s.Status(ctx, s.now())

	s.mu.Lock()
	prev := s.last
	s.last = &status
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	online := 0.0
	if status.Online {
		online = 1
	}
	metrics.SetGauge(metrics.SupportOnline, online, nil, "Whether live support is available")

	if prev == nil || prev.Online == status.Online {
		return status
	}

	s.logger.WithFields(logrus.Fields{
		"online":      status.Online,
		"staff_count": status.StaffCount,
		"source":      status.Source,
	}).Info("Support availability changed")

	change := StatusChange{Previous: *prev, Current: status}
	for _, l := range listeners {
		l(ctx, change)
	}
	return status
}

// Current returns the last evaluated status, evaluating once if none exists
func (s *Scheduler) Current(ctx context.Context) models.SupportStatus {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last != nil {
		return *last
	}
	return s.Check(ctx)
}

// Start checks immediately and then on every interval until ctx is
// cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	s.Check(ctx)
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval": s.interval,
		"window":   s.Window().String(),
		"presence": s.source != nil,
	}).Info("Starting availability scheduler")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop ends the scheduler loop
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
