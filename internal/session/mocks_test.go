package session

import (
	"context"
	"errors"
	"sync"

	"supportchat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

var errStore = errors.New("database is locked")

// memStore is an in-memory Store with switches for failure paths
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*models.ChatSession
	customers   map[string]bool
	credentials map[string]string
	escalations map[string][]models.Escalation
	failUpdate  bool
	failLookup  bool
	updateCalls int
}

func newMemStore(known ...string) *memStore {
	s := &memStore{
		sessions:    make(map[string]*models.ChatSession),
		customers:   make(map[string]bool),
		credentials: make(map[string]string),
		escalations: make(map[string][]models.Escalation),
	}
	for _, id := range known {
		s.customers[id] = true
	}
	return s
}

func (s *memStore) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

func (s *memStore) CreateSession(_ context.Context, sess *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *memStore) UpdateSession(_ context.Context, sess *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.failUpdate {
		return errStore
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *memStore) AddEscalation(_ context.Context, sessionID string, e models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[sessionID] = append(s.escalations[sessionID], e)
	return nil
}

func (s *memStore) FindCustomer(_ context.Context, identifier string) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookup {
		return nil, errStore
	}
	if !s.customers[identifier] {
		return nil, nil
	}
	return &models.Customer{Identifier: identifier}, nil
}

func (s *memStore) SaveCredential(_ context.Context, sessionID, identifier, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[sessionID] = identifier + ":" + secret
	return nil
}

func (s *memStore) set(fn func(s *memStore)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

// mockNotifier records queued alerts
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Submit(ctx context.Context, t models.NotificationType, payload interface{}, sessionID string) (string, error) {
	args := m.Called(ctx, t, payload, sessionID)
	return args.String(0), args.Error(1)
}

func (m *mockNotifier) submitted(t models.NotificationType) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "Submit" && c.Arguments.Get(1) == t {
			n++
		}
	}
	return n
}

// fakeTimeline records posted messages and events
type fakeTimeline struct {
	mu         sync.Mutex
	messages   []*models.Message
	events     []models.Event
	broadcasts []models.Event
	closed     []string
	failPost   bool
}

func (f *fakeTimeline) PostMessage(_ context.Context, msg models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.DeliveryStatus = models.DeliverySent
	var err error
	if f.failPost {
		msg.DeliveryStatus = models.DeliveryFailed
		err = errStore
	}
	f.messages = append(f.messages, &msg)
	c := msg
	return &c, err
}

func (f *fakeTimeline) Publish(sessionID string, ev models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.SessionID = sessionID
	f.events = append(f.events, ev)
}

func (f *fakeTimeline) Broadcast(ev models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, ev)
}

func (f *fakeTimeline) CloseSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
}

func (f *fakeTimeline) bySession(sessionID string, sender models.Sender) []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.Sender == sender {
			out = append(out, m)
		}
	}
	return out
}
