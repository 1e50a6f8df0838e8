package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "supportchat/internal/errors"
	"supportchat/internal/metrics"
	"supportchat/internal/models"
)

// Loader fetches a session that is not held in memory. It returns nil, nil
// when the session does not exist.
type Loader interface {
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
}

// entry serializes every transition of one session. state mirrors
// session.State so readers need not wait for a turn in progress.
type entry struct {
	mu      sync.Mutex
	session *models.ChatSession
	state   atomic.Value // models.SessionState
}

func (e *entry) setState(s models.SessionState) {
	e.session.State = s
	e.state.Store(s)
}

func (e *entry) currentState() models.SessionState {
	s, _ := e.state.Load().(models.SessionState)
	return s
}

// Registry holds the open sessions of this process, one entry per session.
// Different sessions proceed in parallel.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	loader  Loader
}

// NewRegistry creates a registry. loader may be nil.
func NewRegistry(loader Loader) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		loader:  loader,
	}
}

func (r *Registry) put(s *models.ChatSession) *entry {
	e := &entry{session: s}
	e.state.Store(s.State)

	r.mu.Lock()
	r.entries[s.ID] = e
	r.updateGaugeLocked()
	r.mu.Unlock()
	return e
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.updateGaugeLocked()
	r.mu.Unlock()
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// load returns the entry for id, reading it from the loader on a miss
func (r *Registry) load(ctx context.Context, id string) (*entry, error) {
	if e, ok := r.lookup(id); ok {
		return e, nil
	}
	if r.loader == nil {
		return nil, apperrors.NewNotFoundError("session", id)
	}

	s, err := r.loader.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.NewNotFoundError("session", id)
	}
	if s.State == models.StateClosed {
		// closed sessions are not kept in memory
		e := &entry{session: s}
		e.state.Store(s.State)
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	e := &entry{session: s}
	e.state.Store(s.State)
	r.entries[id] = e
	r.updateGaugeLocked()
	return e, nil
}

// acquire returns the entry for id with its lock held
func (r *Registry) acquire(ctx context.Context, id string) (*entry, error) {
	e, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	return e, nil
}

// SessionState reports the state of a session without waiting for a turn
// in progress
func (r *Registry) SessionState(ctx context.Context, id string) (models.SessionState, bool, error) {
	e, err := r.load(ctx, id)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return e.currentState(), true, nil
}

// Len returns the number of sessions held in memory
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the IDs of sessions held in memory whose state is one of states,
// or all of them when states is empty
func (r *Registry) IDs(states ...models.SessionState) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if len(states) == 0 {
			ids = append(ids, id)
			continue
		}
		current := e.currentState()
		for _, s := range states {
			if current == s {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// IdleSince returns in-memory sessions whose last activity is before cutoff
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.RUnlock()

	var ids []string
	for id, e := range entries {
		if !e.mu.TryLock() {
			// a turn is running, so the session is not idle
			continue
		}
		idle := e.session.LastActivityAt.Before(cutoff) && e.session.State != models.StateClosed
		e.mu.Unlock()
		if idle {
			ids = append(ids, id)
		}
	}
	return ids
}

// updateGaugeLocked must be called with r.mu held
func (r *Registry) updateGaugeLocked() {
	metrics.SetGauge(metrics.SessionsActive, float64(len(r.entries)), nil, "Open sessions held in memory")
}
