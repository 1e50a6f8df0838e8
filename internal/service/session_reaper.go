package service

import (
	"context"
	"sync"
	"time"

	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/privacy"
	"supportchat/internal/session"

	"github.com/sirupsen/logrus"
)

// SessionCloser is the part of session.Manager the reaper drives
type SessionCloser interface {
	IdleSessions(cutoff time.Time) []string
	CloseSession(ctx context.Context, sessionID, reason string) error
}

// IdleSessionLister finds open sessions in the store, including ones left
// over from a previous process
type IdleSessionLister interface {
	ListIdleSessions(ctx context.Context, before time.Time) ([]string, error)
}

// SessionReaper closes sessions that have been inactive longer than the
// idle timeout
type SessionReaper struct {
	closer        SessionCloser
	store         IdleSessionLister
	idleTimeout   time.Duration
	checkInterval time.Duration
	logger        *logrus.Logger
	now           func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSessionReaper creates a reaper. store may be nil.
func NewSessionReaper(closer SessionCloser, store IdleSessionLister, idleTimeout, checkInterval time.Duration, logger *logrus.Logger) *SessionReaper {
	if idleTimeout <= 0 {
		idleTimeout = time.Duration(constants.DefaultIdleTimeoutSec) * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = time.Duration(constants.DefaultReaperIntervalSec) * time.Second
	}
	return &SessionReaper{
		closer:        closer,
		store:         store,
		idleTimeout:   idleTimeout,
		checkInterval: checkInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Start begins reaping in the background
func (r *SessionReaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("Session reaper is already running")
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	go r.loop(ctx, stopCh, doneCh)
	r.logger.WithFields(logrus.Fields{
		"idle_timeout":   r.idleTimeout,
		"check_interval": r.checkInterval,
	}).Info("Session reaper started")
}

// Stop ends the loop and waits for a pass in progress
func (r *SessionReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	doneCh := r.doneCh
	r.running = false
	r.mu.Unlock()

	<-doneCh
	r.logger.Info("Session reaper stopped")
}

func (r *SessionReaper) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.Reap(ctx)
		}
	}
}

// Reap closes every session idle since before now minus the timeout and
// returns how many were closed
func (r *SessionReaper) Reap(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleTimeout)

	ids := make(map[string]struct{})
	for _, id := range r.closer.IdleSessions(cutoff) {
		ids[id] = struct{}{}
	}
	if r.store != nil {
		stored, err := r.store.ListIdleSessions(ctx, cutoff)
		if err != nil {
			r.logger.WithError(err).Error("Failed to list idle sessions")
		}
		for _, id := range stored {
			ids[id] = struct{}{}
		}
	}

	closed := 0
	for id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := r.closer.CloseSession(ctx, id, session.CloseReasonIdle); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
				continue
			}
			r.logger.WithError(err).WithField(LogFieldSession, privacy.MaskSessionID(id)).Warn("Failed to close idle session")
			continue
		}
		closed++
	}

	if closed > 0 {
		r.logger.WithField(LogFieldCount, closed).Info("Closed idle sessions")
	}
	return closed
}
