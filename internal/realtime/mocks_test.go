package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"supportchat/internal/models"
)

// memStore is an in-memory Store with a switch to simulate write failures
type memStore struct {
	mu         sync.Mutex
	messages   map[string]*models.Message
	reactions  map[models.ReactionKey]models.Reaction
	failWrites bool
	replyLoads int
}

func newMemStore() *memStore {
	return &memStore{
		messages:  make(map[string]*models.Message),
		reactions: make(map[models.ReactionKey]models.Reaction),
	}
}

var errStoreDown = errors.New("database is locked")

func (s *memStore) setFailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

func (s *memStore) SaveMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	c := *m
	s.messages[m.ID] = &c
	return nil
}

func (s *memStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

func (s *memStore) sorted(filter func(*models.Message) bool) []*models.Message {
	var out []*models.Message
	for _, m := range s.messages {
		if filter(m) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListMessages(_ context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted(func(m *models.Message) bool { return m.SessionID == sessionID && m.ParentID == "" })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *memStore) ListReplies(_ context.Context, parentID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyLoads++
	return s.sorted(func(m *models.Message) bool { return m.ParentID == parentID }), nil
}

func (s *memStore) AddReaction(_ context.Context, r models.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return false, errStoreDown
	}
	if _, ok := s.reactions[r.Key()]; ok {
		return false, nil
	}
	s.reactions[r.Key()] = r
	return true, nil
}

func (s *memStore) RemoveReaction(_ context.Context, r models.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reactions[r.Key()]; !ok {
		return false, nil
	}
	delete(s.reactions, r.Key())
	return true, nil
}

func (s *memStore) reactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reactions)
}

// stateMap is a SessionResolver backed by a map
type stateMap struct {
	mu     sync.Mutex
	states map[string]models.SessionState
}

func (m *stateMap) SessionState(_ context.Context, id string) (models.SessionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	return s, ok, nil
}

func (m *stateMap) set(id string, s models.SessionState) {
	m.mu.Lock()
	m.states[id] = s
	m.mu.Unlock()
}
