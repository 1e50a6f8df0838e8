package session

import (
	"context"
	"strings"
	"time"

	"supportchat/internal/availability"
	"supportchat/internal/constants"
	"supportchat/internal/dialogue"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/i18n"
	"supportchat/internal/metrics"
	"supportchat/internal/models"
	"supportchat/internal/privacy"
	"supportchat/internal/tracing"
	"supportchat/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Close reasons
const (
	CloseReasonVisitor = "visitor"
	CloseReasonStaff   = "staff"
	CloseReasonIdle    = "idle"
)

const botSenderID = "bot"

// Store is the durable side of the session lifecycle
type Store interface {
	Loader
	CreateSession(ctx context.Context, s *models.ChatSession) error
	UpdateSession(ctx context.Context, s *models.ChatSession) error
	AddEscalation(ctx context.Context, sessionID string, e models.Escalation) error
	FindCustomer(ctx context.Context, identifier string) (*models.Customer, error)
	SaveCredential(ctx context.Context, sessionID, identifier, secret string) error
}

// Notifier queues staff notifications without waiting for delivery
type Notifier interface {
	Submit(ctx context.Context, notificationType models.NotificationType, payload interface{}, sessionID string) (string, error)
}

// Timeline posts messages and events to session subscribers
type Timeline interface {
	PostMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	Publish(sessionID string, ev models.Event)
	Broadcast(ev models.Event)
	CloseSession(sessionID string)
}

// RuleProvider returns the current keyword table
type RuleProvider interface {
	Load() *dialogue.Table
}

// Options configures a Manager
type Options struct {
	// FallbackContactURL is shown to visitors when staff could not be alerted
	FallbackContactURL string
}

// TurnResult is the outcome of one visitor turn
type TurnResult struct {
	SessionID      string              `json:"session_id"`
	Reply          string              `json:"reply"`
	State          models.SessionState `json:"state"`
	Matched        bool                `json:"matched"`
	RuleID         int64               `json:"rule_id,omitempty"`
	Escalated      bool                `json:"escalated"`
	Escalations    []models.Escalation `json:"escalations,omitempty"`
	VisitorMessage *models.Message     `json:"visitor_message,omitempty"`
	BotMessage     *models.Message     `json:"bot_message,omitempty"`
}

// Manager drives the visitor identity state machine and raises escalations.
// All transitions of one session are serialized by its registry entry.
type Manager struct {
	registry    *Registry
	store       Store
	rules       RuleProvider
	notifier    Notifier
	timeline    Timeline
	fallbackURL string
	logger      *logrus.Logger
	now         func() time.Time
}

// NewManager creates a session manager
func NewManager(registry *Registry, store Store, rules RuleProvider, notifier Notifier, timeline Timeline, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		registry:    registry,
		store:       store,
		rules:       rules,
		notifier:    notifier,
		timeline:    timeline,
		fallbackURL: opts.FallbackContactURL,
		logger:      logger,
		now:         time.Now,
	}
}

// StartSession opens a session for a visitor, answers with the greeting and
// alerts staff of the new session
func (m *Manager) StartSession(ctx context.Context, visitorRef, locale string) (*models.ChatSession, *TurnResult, error) {
	if err := validation.ValidateVisitorRef(visitorRef); err != nil {
		return nil, nil, err
	}

	now := m.now().UTC()
	s := &models.ChatSession{
		ID:             uuid.NewString(),
		VisitorRef:     visitorRef,
		State:          models.StateGreeting,
		Locale:         i18n.Parse(locale).String(),
		CreatedAt:      now,
		LastActivityAt: now,
		Escalations:    []models.Escalation{},
	}

	ctx, span := tracing.StartSpan(ctx, "session.start", tracing.AttrSessionID.String(s.ID))
	defer span.End()

	outcome := dialogue.Resolve(s.State, "", m.rules.Load())
	s.State = outcome.NextState
	if err := m.store.CreateSession(ctx, s); err != nil {
		tracing.RecordError(ctx, err)
		return nil, nil, err
	}

	e := m.registry.put(s)
	e.mu.Lock()
	defer e.mu.Unlock()

	recordTransition(models.StateGreeting, s.State)
	metrics.IncrementCounter(metrics.SessionsStarted, nil, "Chat sessions started")

	result := &TurnResult{
		SessionID: s.ID,
		Reply:     outcome.Reply,
		State:     s.State,
		Matched:   outcome.Matched,
	}
	result.BotMessage = m.post(ctx, s.ID, models.SenderBot, botSenderID, outcome.Reply)

	if _, err := m.notifier.Submit(ctx, models.NotificationNewSession, map[string]interface{}{
		"session_id":  s.ID,
		"visitor_ref": s.VisitorRef,
		"locale":      s.Locale,
		"created_at":  s.CreatedAt,
	}, s.ID); err != nil {
		m.logger.WithError(err).WithField("session", privacy.MaskSessionID(s.ID)).Warn("Failed to queue new session alert")
	}

	m.logger.WithFields(logrus.Fields{
		"session": privacy.MaskSessionID(s.ID),
		"locale":  s.Locale,
	}).Info("Chat session started")

	return s.Clone(), result, nil
}

type pendingEscalation struct {
	kind    models.EscalationType
	reason  string
	payload map[string]interface{}
}

// SubmitUtterance runs one visitor turn. Store failures during the turn do
// not surface as errors: the visitor gets fallback copy and staff get an
// assistance_needed alert.
func (m *Manager) SubmitUtterance(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if err := validation.ValidateUtterance(text); err != nil {
		return nil, err
	}

	e, err := m.registry.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	s := e.session
	if s.State == models.StateClosed {
		return nil, apperrors.NewSessionClosedError(sessionID)
	}

	prev := s.State
	ctx, span := tracing.StartSpan(ctx, "session.turn",
		tracing.AttrSessionID.String(s.ID),
		tracing.AttrSessionState.String(string(prev)),
	)
	defer span.End()

	table := m.rules.Load()
	outcome := dialogue.Resolve(prev, text, table)
	tracing.AddSpanAttributes(ctx, tracing.AttrRuleKey.String(outcome.Key))

	result := &TurnResult{SessionID: s.ID, Matched: outcome.Matched, RuleID: outcome.RuleID}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		result.VisitorMessage = m.post(ctx, s.ID, models.SenderVisitor, s.VisitorRef, historyText(prev, trimmed))
	}

	before := *s
	reply := outcome.Reply
	next := outcome.NextState
	invalid := outcome.Invalid
	var pending []pendingEscalation

	switch {
	case invalid:
		// re-prompt, nothing captured

	case prev == models.StateAwaitID:
		if len(trimmed) > constants.MaxIdentifierLength {
			next = models.StateAwaitID
			reply = table.Reply(models.ResponseKeyGreeting)
			invalid = true
			break
		}
		s.Identifier = trimmed

	case prev == models.StateAwaitSecret:
		known, err := m.captureSecret(ctx, s, text)
		if err != nil {
			return m.degrade(ctx, e, before, result, err), nil
		}
		s.KnownCustomer = known
		if !known {
			if !table.Degraded() {
				reply = table.Reply(models.ResponseKeyNewCustomer)
			}
			pending = append(pending, pendingEscalation{
				kind:    models.EscalationNewCustomer,
				reason:  "identifier not found",
				payload: map[string]interface{}{"identifier": s.Identifier},
			})
		}
	}

	if !result.Matched && !invalid {
		pending = append(pending, pendingEscalation{
			kind:    models.EscalationAssistanceNeeded,
			reason:  "no matching response",
			payload: map[string]interface{}{"utterance": historyText(prev, trimmed), "rule_key": outcome.Key},
		})
	}

	e.setState(next)
	s.LastActivityAt = m.now().UTC()
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return m.degrade(ctx, e, before, result, err), nil
	}

	for _, p := range pending {
		esc := m.escalateLocked(ctx, e, p.kind, p.reason, p.payload)
		result.Escalations = append(result.Escalations, esc)
	}
	result.Escalated = len(result.Escalations) > 0
	result.Reply = reply
	result.State = s.State
	result.BotMessage = m.post(ctx, s.ID, models.SenderBot, botSenderID, reply)

	metrics.IncrementCounter(metrics.DialogueResolutions, map[string]string{
		"key":     outcome.Key,
		"matched": boolLabel(result.Matched),
	}, "Dialogue turns resolved")

	if prev != s.State {
		recordTransition(prev, s.State)
		ev := models.Event{Type: models.EventSessionState, State: s.State}
		m.timeline.Publish(s.ID, ev)
	}

	m.logger.WithFields(logrus.Fields{
		"session":   privacy.MaskSessionID(s.ID),
		"from":      prev,
		"to":        s.State,
		"rule_key":  outcome.Key,
		"matched":   result.Matched,
		"escalated": result.Escalated,
	}).Debug("Turn resolved")

	return result, nil
}

// captureSecret forwards the secret to the credential sink and reports
// whether the captured identifier belongs to a known customer
func (m *Manager) captureSecret(ctx context.Context, s *models.ChatSession, secret string) (bool, error) {
	if err := m.store.SaveCredential(ctx, s.ID, s.Identifier, secret); err != nil {
		return false, err
	}
	customer, err := m.store.FindCustomer(ctx, s.Identifier)
	if err != nil {
		return false, err
	}
	return customer != nil, nil
}

// degrade restores the session to before, answers with fallback copy and
// guarantees an assistance_needed escalation
func (m *Manager) degrade(ctx context.Context, e *entry, before models.ChatSession, result *TurnResult, cause error) *TurnResult {
	tracing.RecordError(ctx, cause)
	apperrors.NewLogger(m.logger).LogError(cause, "Turn failed, answering with fallback copy", logrus.Fields{
		"session": privacy.MaskSessionID(before.ID),
		"state":   before.State,
	})

	*e.session = before
	e.setState(before.State)

	esc := m.escalateLocked(ctx, e, models.EscalationAssistanceNeeded, "internal error", map[string]interface{}{
		"error_code": string(apperrors.GetCode(cause)),
	})

	reply := i18n.TextFor(e.session.Locale, i18n.KeyApology)
	result.Reply = reply
	result.State = e.session.State
	result.Matched = false
	result.RuleID = 0
	result.Escalated = true
	result.Escalations = append(result.Escalations, esc)
	result.BotMessage = m.post(ctx, e.session.ID, models.SenderBot, botSenderID, reply)
	return result
}

// historyText is what a visitor turn looks like in the timeline. Captured
// credentials are never echoed.
func historyText(state models.SessionState, text string) string {
	switch state {
	case models.StateAwaitID:
		return privacy.MaskIdentifier(text)
	case models.StateAwaitSecret:
		return privacy.MaskSecret(text)
	default:
		return text
	}
}

var notificationFor = map[models.EscalationType]models.NotificationType{
	models.EscalationNewCustomer:      models.NotificationNewCustomer,
	models.EscalationAssistanceNeeded: models.NotificationAssistanceNeeded,
	models.EscalationEmergency:        models.NotificationEmergency,
}

// escalateLocked appends an escalation and queues its staff alert. The
// entry lock must be held. Escalations never change the session state.
func (m *Manager) escalateLocked(ctx context.Context, e *entry, kind models.EscalationType, reason string, payload map[string]interface{}) models.Escalation {
	s := e.session
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["session_id"] = s.ID
	payload["visitor_ref"] = s.VisitorRef
	payload["state"] = s.State
	payload["reason"] = reason

	esc := models.Escalation{Type: kind, Reason: reason, CreatedAt: m.now().UTC()}

	jobID, err := m.notifier.Submit(ctx, notificationFor[kind], payload, s.ID)
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"session": privacy.MaskSessionID(s.ID),
			"type":    kind,
		}).Error("Failed to queue escalation alert")
	}
	esc.JobID = jobID

	s.Escalations = append(s.Escalations, esc)
	if err := m.store.AddEscalation(ctx, s.ID, esc); err != nil {
		m.logger.WithError(err).WithField("session", privacy.MaskSessionID(s.ID)).Warn("Failed to persist escalation")
	}

	metrics.IncrementCounter(metrics.EscalationsRaised, map[string]string{"type": string(kind)}, "Escalations raised")
	m.logger.WithFields(logrus.Fields{
		"session": privacy.MaskSessionID(s.ID),
		"type":    kind,
		"job_id":  jobID,
	}).Info("Session escalated")
	return esc
}

// Escalate raises an escalation outside a turn, e.g. an emergency alert
// from the widget
func (m *Manager) Escalate(ctx context.Context, sessionID string, kind models.EscalationType, reason string) (*models.Escalation, error) {
	if _, ok := notificationFor[kind]; !ok {
		return nil, apperrors.NewValidationError("type", "unknown escalation type")
	}
	if err := validation.ValidateUtterance(reason); err != nil {
		return nil, err
	}

	e, err := m.registry.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if e.session.State == models.StateClosed {
		return nil, apperrors.NewSessionClosedError(sessionID)
	}

	esc := m.escalateLocked(ctx, e, kind, reason, nil)
	if kind == models.EscalationEmergency {
		m.post(ctx, sessionID, models.SenderSystem, "", i18n.TextFor(e.session.Locale, i18n.KeyEmergencyRaised))
	}
	return &esc, nil
}

// PostMessage adds a staff or visitor message outside the dialogue flow,
// such as a staff answer or an attachment
func (m *Manager) PostMessage(ctx context.Context, sessionID string, sender models.Sender, senderID, text, attachmentURL string) (*models.Message, error) {
	e, err := m.registry.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if e.session.State == models.StateClosed {
		return nil, apperrors.NewSessionClosedError(sessionID)
	}

	msg, err := m.timeline.PostMessage(ctx, models.Message{
		SessionID:     sessionID,
		Sender:        sender,
		SenderID:      senderID,
		Content:       text,
		AttachmentURL: attachmentURL,
	})
	if msg == nil {
		return nil, err
	}

	e.session.LastActivityAt = m.now().UTC()
	if uerr := m.store.UpdateSession(ctx, e.session); uerr != nil {
		m.logger.WithError(uerr).WithField("session", privacy.MaskSessionID(sessionID)).Warn("Failed to record session activity")
	}
	return msg, err
}

// CloseSession ends a session. Closing a closed session is a no-op.
// Notification jobs already queued for it keep running.
func (m *Manager) CloseSession(ctx context.Context, sessionID, reason string) error {
	e, err := m.registry.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	s := e.session
	if s.State == models.StateClosed {
		return nil
	}

	if reason == CloseReasonIdle {
		m.post(ctx, sessionID, models.SenderSystem, "", i18n.TextFor(s.Locale, i18n.KeySessionTimedOut))
	}

	prev := s.State
	e.setState(models.StateClosed)
	if err := m.store.UpdateSession(ctx, s); err != nil {
		e.setState(prev)
		return err
	}

	m.timeline.CloseSession(sessionID)
	m.registry.remove(sessionID)

	recordTransition(prev, models.StateClosed)
	metrics.IncrementCounter(metrics.SessionsClosed, map[string]string{"reason": reason}, "Chat sessions closed")
	m.logger.WithFields(logrus.Fields{
		"session": privacy.MaskSessionID(sessionID),
		"reason":  reason,
		"from":    prev,
	}).Info("Chat session closed")
	return nil
}

// Get returns a copy of a session
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	e, err := m.registry.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// NotifyAvailability shows the support banner to every subscriber and posts
// one informational message into each ACTIVE session
func (m *Manager) NotifyAvailability(ctx context.Context, change availability.StatusChange) {
	current := change.Current
	m.timeline.Broadcast(models.Event{Type: models.EventSupportStatus, Support: &current})

	key := i18n.KeySupportOffline
	if current.Online {
		key = i18n.KeySupportOnline
	}

	for _, id := range m.registry.IDs(models.StateActive) {
		e, ok := m.registry.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.session.State == models.StateActive {
			m.post(ctx, id, models.SenderSystem, "", i18n.TextFor(e.session.Locale, key))
		}
		e.mu.Unlock()
	}
}

// PostFallbackNotice tells the visitor that staff could not be alerted and
// shows a direct contact link. It is the dispatcher's exhaustion handler.
func (m *Manager) PostFallbackNotice(ctx context.Context, job *models.NotificationJob) {
	if job == nil || job.SessionID == "" {
		return
	}
	log := m.logger.WithFields(logrus.Fields{
		"session": privacy.MaskSessionID(job.SessionID),
		"job_id":  job.ID,
	})

	e, err := m.registry.acquire(ctx, job.SessionID)
	if err != nil {
		log.WithError(err).Warn("Cannot post fallback notice")
		return
	}
	defer e.mu.Unlock()

	if e.session.State == models.StateClosed {
		log.Debug("Session closed, skipping fallback notice")
		return
	}
	m.post(ctx, job.SessionID, models.SenderSystem, "", i18n.TextFor(e.session.Locale, i18n.KeyDeliveryExhausted, m.fallbackURL))
	log.Info("Posted fallback contact notice")
}

// IdleSessions returns in-memory sessions without activity since cutoff
func (m *Manager) IdleSessions(cutoff time.Time) []string {
	return m.registry.IdleSince(cutoff)
}

// post adds a message to the timeline. Persistence failures leave the
// message FAILED but visible, so only a rejected message returns nil.
func (m *Manager) post(ctx context.Context, sessionID string, sender models.Sender, senderID, content string) *models.Message {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	msg, err := m.timeline.PostMessage(ctx, models.Message{
		SessionID: sessionID,
		Sender:    sender,
		SenderID:  senderID,
		Content:   content,
	})
	if err != nil && msg == nil {
		m.logger.WithError(err).WithField("session", privacy.MaskSessionID(sessionID)).Warn("Message rejected by timeline")
	}
	return msg
}

func recordTransition(from, to models.SessionState) {
	metrics.IncrementCounter(metrics.SessionTransitions, map[string]string{
		"from": string(from),
		"to":   string(to),
	}, "Session state transitions")
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
