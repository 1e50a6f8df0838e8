package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"supportchat/internal/availability"
	"supportchat/internal/dialogue"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/models"
	"supportchat/internal/privacy"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const fallbackURL = "https://t.me/support_desk"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testRules() *dialogue.Holder {
	return dialogue.NewHolder(dialogue.NewTable([]models.ResponseRule{
		{ID: 1, Key: models.ResponseKeyGreeting, Text: "Welcome! Please enter your Game ID.", IsActive: true},
		{ID: 2, Key: models.ResponseKeyPasswordPrompt, Text: "Please enter your game password.", IsActive: true},
		{ID: 3, Key: models.ResponseKeyNewCustomer, Text: "An admin will register you shortly.", IsActive: true},
		{ID: 10, Key: "deposit", Keywords: []string{"deposit"}, Text: "To deposit, open the wallet page.", Priority: 5, IsActive: true},
		{ID: 11, Key: "withdrawal", Keywords: []string{"withdraw"}, Text: "Withdrawals take 24 hours.", Priority: 5, IsActive: true},
	}))
}

type harness struct {
	manager  *Manager
	registry *Registry
	store    *memStore
	notifier *mockNotifier
	timeline *fakeTimeline
	rules    *dialogue.Holder
}

func newHarness(t *testing.T, known ...string) *harness {
	t.Helper()
	store := newMemStore(known...)
	notifier := &mockNotifier{}
	notifier.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	timeline := &fakeTimeline{}
	rules := testRules()
	registry := NewRegistry(store)
	m := NewManager(registry, store, rules, notifier, timeline, Options{FallbackContactURL: fallbackURL}, quietLogger())
	return &harness{manager: m, registry: registry, store: store, notifier: notifier, timeline: timeline, rules: rules}
}

// activeSession walks a new session through identification
func (h *harness) activeSession(t *testing.T, identifier string) string {
	t.Helper()
	ctx := context.Background()
	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)
	_, err = h.manager.SubmitUtterance(ctx, s.ID, identifier)
	require.NoError(t, err)
	res, err := h.manager.SubmitUtterance(ctx, s.ID, "hunter2")
	require.NoError(t, err)
	require.Equal(t, models.StateActive, res.State)
	return s.ID
}

func TestManager_StartSession(t *testing.T) {
	h := newHarness(t)

	s, res, err := h.manager.StartSession(context.Background(), "widget-1", "my-MM")
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitID, s.State)
	assert.Equal(t, "my", s.Locale)
	assert.Equal(t, "Welcome! Please enter your Game ID.", res.Reply)
	require.NotNil(t, res.BotMessage)
	assert.Equal(t, models.SenderBot, res.BotMessage.Sender)
	assert.Equal(t, 1, h.notifier.submitted(models.NotificationNewSession))
	assert.Empty(t, s.Escalations)

	_, _, err = h.manager.StartSession(context.Background(), "bad\nref", "en")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestManager_KnownCustomerFlow(t *testing.T) {
	h := newHarness(t, "G-10203040")
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)

	res, err := h.manager.SubmitUtterance(ctx, s.ID, "  G-10203040 ")
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitSecret, res.State)
	assert.Equal(t, "Please enter your game password.", res.Reply)
	require.NotNil(t, res.VisitorMessage)
	assert.Equal(t, privacy.MaskIdentifier("G-10203040"), res.VisitorMessage.Content)
	assert.NotContains(t, res.VisitorMessage.Content, "G-1020")

	res, err = h.manager.SubmitUtterance(ctx, s.ID, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, res.State)
	assert.Equal(t, "Welcome! Please enter your Game ID.", res.Reply)
	assert.False(t, res.Escalated)
	assert.Equal(t, privacy.Redacted, res.VisitorMessage.Content)
	assert.Equal(t, "G-10203040:hunter2", h.store.credentials[s.ID])

	got, err := h.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.KnownCustomer)
	assert.Equal(t, "G-10203040", got.Identifier)
	assert.Zero(t, h.notifier.submitted(models.NotificationNewCustomer))

	for _, m := range h.timeline.bySession(s.ID, models.SenderVisitor) {
		assert.NotContains(t, m.Content, "hunter2")
	}
}

func TestManager_UnknownCustomerEscalates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)
	_, err = h.manager.SubmitUtterance(ctx, s.ID, "G-999")
	require.NoError(t, err)

	res, err := h.manager.SubmitUtterance(ctx, s.ID, "pw")
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, res.State)
	assert.Equal(t, "An admin will register you shortly.", res.Reply)
	assert.True(t, res.Escalated)
	require.Len(t, res.Escalations, 1)
	assert.Equal(t, models.EscalationNewCustomer, res.Escalations[0].Type)
	assert.Equal(t, "job-1", res.Escalations[0].JobID)
	assert.Equal(t, 1, h.notifier.submitted(models.NotificationNewCustomer))
	assert.Len(t, h.store.escalations[s.ID], 1)
}

func TestManager_BlankInputRePrompts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)

	res, err := h.manager.SubmitUtterance(ctx, s.ID, "   ")
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitID, res.State)
	assert.Equal(t, "Welcome! Please enter your Game ID.", res.Reply)
	assert.Nil(t, res.VisitorMessage)
	assert.False(t, res.Escalated)

	_, err = h.manager.SubmitUtterance(ctx, s.ID, "G-1")
	require.NoError(t, err)
	res, err = h.manager.SubmitUtterance(ctx, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitSecret, res.State)
	assert.Equal(t, "Please enter your game password.", res.Reply)
}

func TestManager_ActiveTurns(t *testing.T) {
	h := newHarness(t, "G-1")
	ctx := context.Background()
	id := h.activeSession(t, "G-1")

	res, err := h.manager.SubmitUtterance(ctx, id, "how do I deposit")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, int64(10), res.RuleID)
	assert.Equal(t, "To deposit, open the wallet page.", res.Reply)
	assert.Equal(t, "how do I deposit", res.VisitorMessage.Content)

	res, err = h.manager.SubmitUtterance(ctx, id, "my account is weird")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.True(t, res.Escalated)
	assert.Equal(t, dialogue.DefaultUnknown, res.Reply)
	assert.Equal(t, models.StateActive, res.State)

	// escalation does not block later matched answers
	res, err = h.manager.SubmitUtterance(ctx, id, "withdraw please")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.False(t, res.Escalated)

	got, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Escalations, 1)
	assert.Equal(t, models.EscalationAssistanceNeeded, got.Escalations[0].Type)
	assert.Equal(t, 1, h.notifier.submitted(models.NotificationAssistanceNeeded))
}

func TestManager_DegradedTableStillAdvances(t *testing.T) {
	h := newHarness(t)
	h.rules.Swap(dialogue.DegradedTable("Sorry, try later."))
	ctx := context.Background()

	s, res, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, try later.", res.Reply)
	assert.Equal(t, models.StateAwaitID, s.State)

	res, err = h.manager.SubmitUtterance(ctx, s.ID, "G-5")
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitSecret, res.State)
	assert.Equal(t, "Sorry, try later.", res.Reply)
	assert.True(t, res.Escalated)
}

func TestManager_VisitorMessageFailureIsVisible(t *testing.T) {
	h := newHarness(t, "G-1")
	ctx := context.Background()
	id := h.activeSession(t, "G-1")

	h.timeline.mu.Lock()
	h.timeline.failPost = true
	h.timeline.mu.Unlock()

	res, err := h.manager.SubmitUtterance(ctx, id, "deposit")
	require.NoError(t, err)
	require.NotNil(t, res.VisitorMessage)
	assert.Equal(t, models.DeliveryFailed, res.VisitorMessage.DeliveryStatus)
	assert.True(t, res.VisitorMessage.Retryable())
	assert.Equal(t, "To deposit, open the wallet page.", res.Reply)
}

func TestManager_StoreFailureDegrades(t *testing.T) {
	h := newHarness(t, "G-1")
	ctx := context.Background()
	id := h.activeSession(t, "G-1")

	h.store.set(func(s *memStore) { s.failUpdate = true })
	res, err := h.manager.SubmitUtterance(ctx, id, "deposit")
	require.NoError(t, err)
	assert.Equal(t, "I'm sorry, I couldn't process that request. Let me connect you with an admin.", res.Reply)
	assert.True(t, res.Escalated)
	assert.False(t, res.Matched)
	assert.Equal(t, models.StateActive, res.State)

	h.store.set(func(s *memStore) { s.failUpdate = false })
	got, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Escalations, 1)
	assert.Equal(t, "internal error", got.Escalations[0].Reason)
}

func TestManager_LookupFailureKeepsAwaitingSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "my")
	require.NoError(t, err)
	_, err = h.manager.SubmitUtterance(ctx, s.ID, "G-1")
	require.NoError(t, err)

	h.store.set(func(s *memStore) { s.failLookup = true })
	res, err := h.manager.SubmitUtterance(ctx, s.ID, "pw")
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitSecret, res.State)
	assert.True(t, res.Escalated)
	assert.NotEmpty(t, res.Reply)
	assert.NotContains(t, res.Reply, "database")
}

func TestManager_CloseSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)

	require.NoError(t, h.manager.CloseSession(ctx, s.ID, CloseReasonVisitor))
	require.NoError(t, h.manager.CloseSession(ctx, s.ID, CloseReasonVisitor))
	assert.Equal(t, []string{s.ID}, h.timeline.closed)
	assert.Zero(t, h.registry.Len())

	_, err = h.manager.SubmitUtterance(ctx, s.ID, "hello")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionClosed))

	state, ok, err := h.registry.SessionState(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StateClosed, state)

	_, err = h.manager.Escalate(ctx, s.ID, models.EscalationEmergency, "help")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionClosed))
}

func TestManager_IdleCloseNotifiesVisitor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)

	assert.Empty(t, h.manager.IdleSessions(time.Now().Add(-time.Hour)))
	assert.Equal(t, []string{s.ID}, h.manager.IdleSessions(time.Now().Add(time.Hour)))

	require.NoError(t, h.manager.CloseSession(ctx, s.ID, CloseReasonIdle))
	system := h.timeline.bySession(s.ID, models.SenderSystem)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].Content, "inactivity")
}

func TestManager_EmergencyEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)

	esc, err := h.manager.Escalate(ctx, s.ID, models.EscalationEmergency, "account hacked")
	require.NoError(t, err)
	assert.Equal(t, models.EscalationEmergency, esc.Type)
	assert.Equal(t, 1, h.notifier.submitted(models.NotificationEmergency))

	got, err := h.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitID, got.State, "escalations never change state")
	assert.Len(t, h.timeline.bySession(s.ID, models.SenderSystem), 1)

	_, err = h.manager.Escalate(ctx, s.ID, models.EscalationType("bogus"), "")
	assert.Error(t, err)
}

func TestManager_PostFallbackNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, _, err := h.manager.StartSession(ctx, "widget-1", "en")
	require.NoError(t, err)

	h.manager.PostFallbackNotice(ctx, &models.NotificationJob{ID: "job-9", SessionID: s.ID, Status: models.JobFailed})
	system := h.timeline.bySession(s.ID, models.SenderSystem)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].Content, fallbackURL)

	require.NoError(t, h.manager.CloseSession(ctx, s.ID, CloseReasonStaff))
	h.manager.PostFallbackNotice(ctx, &models.NotificationJob{ID: "job-10", SessionID: s.ID})
	assert.Len(t, h.timeline.bySession(s.ID, models.SenderSystem), 1)

	h.manager.PostFallbackNotice(ctx, &models.NotificationJob{ID: "job-11"})
	h.manager.PostFallbackNotice(ctx, nil)
}

func TestManager_NotifyAvailability(t *testing.T) {
	h := newHarness(t, "G-1")
	ctx := context.Background()
	active := h.activeSession(t, "G-1")
	pending, _, err := h.manager.StartSession(ctx, "widget-2", "en")
	require.NoError(t, err)

	h.manager.NotifyAvailability(ctx, availability.StatusChange{
		Previous: models.SupportStatus{Online: false},
		Current:  models.SupportStatus{Online: true, StaffCount: 2, Source: availability.SourcePresence},
	})

	require.Len(t, h.timeline.broadcasts, 1)
	assert.True(t, h.timeline.broadcasts[0].Support.Online)
	assert.Len(t, h.timeline.bySession(active, models.SenderSystem), 1)
	assert.Empty(t, h.timeline.bySession(pending.ID, models.SenderSystem))
}

func TestManager_TurnsAreSerializedPerSession(t *testing.T) {
	h := newHarness(t, "G-1")
	ctx := context.Background()
	id := h.activeSession(t, "G-1")
	other := h.activeSession(t, "G-1")

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := h.manager.SubmitUtterance(ctx, id, fmt.Sprintf("gibberish %d", i))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := h.manager.SubmitUtterance(ctx, other, "deposit")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Escalations, turns)

	got, err = h.manager.Get(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, got.Escalations)
}

func TestRegistry_LoadsFromStore(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	require.NoError(t, store.CreateSession(context.Background(), &models.ChatSession{
		ID: "persisted", State: models.StateActive, CreatedAt: now, LastActivityAt: now,
	}))
	r := NewRegistry(store)

	state, ok, err := r.SessionState(context.Background(), "persisted")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StateActive, state)
	assert.Equal(t, 1, r.Len())

	_, ok, err = r.SessionState(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"persisted"}, r.IDs(models.StateActive))
	assert.Empty(t, r.IDs(models.StateAwaitID))
}
