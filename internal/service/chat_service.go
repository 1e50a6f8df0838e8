package service

import (
	"context"
	"io"

	"supportchat/internal/dispatcher"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/models"
	"supportchat/internal/privacy"
	"supportchat/internal/realtime"
	"supportchat/internal/session"
	"supportchat/internal/validation"
	"supportchat/pkg/media"

	"github.com/sirupsen/logrus"
)

// Chat is everything the HTTP layer can ask of the chat engine
type Chat interface {
	StartSession(ctx context.Context, visitorRef, locale string) (*models.ChatSession, *session.TurnResult, error)
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	SendMessage(ctx context.Context, sessionID, text string) (*session.TurnResult, error)
	CloseSession(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]*models.Message, error)
	Messages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error)
	SetTyping(ctx context.Context, sessionID, userID string, isTyping bool) error
	UploadAttachment(ctx context.Context, sessionID, senderID, fileName string, r io.Reader) (*models.Message, error)
	RaiseEmergency(ctx context.Context, sessionID, reason string) (*models.Escalation, error)
	RetryMessage(ctx context.Context, messageID string) (*models.Message, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	Thread(ctx context.Context, parentID string) ([]*models.Message, error)
	Reply(ctx context.Context, parentID string, sender models.Sender, senderID, text string) (*models.Message, error)
	Subscribe(ctx context.Context, sessionID string) (*realtime.Subscription, error)
	SupportStatus(ctx context.Context) models.SupportStatus
	SetPresence(ctx context.Context, staff models.StaffMember) (models.SupportStatus, error)
	StaffMessage(ctx context.Context, sessionID, staffID, text string) (*models.Message, error)
	ReloadRules(ctx context.Context) error
	NotificationStats() dispatcher.Stats
}

// SessionFlow is implemented by session.Manager
type SessionFlow interface {
	StartSession(ctx context.Context, visitorRef, locale string) (*models.ChatSession, *session.TurnResult, error)
	SubmitUtterance(ctx context.Context, sessionID, text string) (*session.TurnResult, error)
	Get(ctx context.Context, sessionID string) (*models.ChatSession, error)
	CloseSession(ctx context.Context, sessionID, reason string) error
	Escalate(ctx context.Context, sessionID string, kind models.EscalationType, reason string) (*models.Escalation, error)
	PostMessage(ctx context.Context, sessionID string, sender models.Sender, senderID, text, attachmentURL string) (*models.Message, error)
}

// Timeline is implemented by realtime.Hub
type Timeline interface {
	Subscribe(ctx context.Context, sessionID string) (*realtime.Subscription, error)
	History(ctx context.Context, sessionID string) ([]*models.Message, error)
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error)
	SetTyping(ctx context.Context, sessionID, userID string, isTyping bool) error
	RetryMessage(ctx context.Context, messageID string) (*models.Message, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	GetThread(ctx context.Context, parentID string) ([]*models.Message, error)
	PostReply(ctx context.Context, parentID string, msg models.Message) (*models.Message, error)
}

// Availability is implemented by availability.Scheduler
type Availability interface {
	Current(ctx context.Context) models.SupportStatus
	Check(ctx context.Context) models.SupportStatus
}

// PresenceStore records staff presence
type PresenceStore interface {
	SetStaffPresence(ctx context.Context, staff *models.StaffMember) error
}

// AttachmentStore is implemented by media.Store
type AttachmentStore interface {
	Put(ctx context.Context, sessionID, name string, r io.Reader) (*media.Object, error)
}

// RuleReloader is implemented by dialogue.Reloader
type RuleReloader interface {
	Reload(ctx context.Context) error
}

// NotificationQueue is implemented by dispatcher.Dispatcher
type NotificationQueue interface {
	Stats() dispatcher.Stats
}

// ChatDeps wires a ChatService
type ChatDeps struct {
	Sessions      SessionFlow
	Timeline      Timeline
	Availability  Availability
	Presence      PresenceStore
	Attachments   AttachmentStore
	Rules         RuleReloader
	Notifications NotificationQueue
}

// ChatService routes requests to the session manager, the realtime hub and
// the supporting stores
type ChatService struct {
	ChatDeps
	logger *logrus.Logger
}

// NewChatService creates the facade used by the HTTP server
func NewChatService(deps ChatDeps, logger *logrus.Logger) *ChatService {
	return &ChatService{ChatDeps: deps, logger: logger}
}

func (c *ChatService) StartSession(ctx context.Context, visitorRef, locale string) (*models.ChatSession, *session.TurnResult, error) {
	return c.Sessions.StartSession(ctx, visitorRef, locale)
}

func (c *ChatService) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	return c.Sessions.Get(ctx, sessionID)
}

// SendMessage runs one visitor turn
func (c *ChatService) SendMessage(ctx context.Context, sessionID, text string) (*session.TurnResult, error) {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	return c.Sessions.SubmitUtterance(ctx, sessionID, text)
}

// CloseSession ends a session at the visitor's request
func (c *ChatService) CloseSession(ctx context.Context, sessionID string) error {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return err
	}
	return c.Sessions.CloseSession(ctx, sessionID, session.CloseReasonVisitor)
}

func (c *ChatService) History(ctx context.Context, sessionID string) ([]*models.Message, error) {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	return c.Timeline.History(ctx, sessionID)
}

func (c *ChatService) Messages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	return c.Timeline.ListMessages(ctx, sessionID, limit, offset)
}

func (c *ChatService) SetTyping(ctx context.Context, sessionID, userID string, isTyping bool) error {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return err
	}
	return c.Timeline.SetTyping(ctx, sessionID, userID, isTyping)
}

// UploadAttachment stores a file and posts it into the session as a
// visitor message referencing its URL
func (c *ChatService) UploadAttachment(ctx context.Context, sessionID, senderID, fileName string, r io.Reader) (*models.Message, error) {
	if c.Attachments == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "attachments are not enabled")
	}
	s, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.State == models.StateClosed {
		return nil, apperrors.NewSessionClosedError(sessionID)
	}
	if senderID == "" {
		senderID = s.VisitorRef
	}

	obj, err := c.Attachments.Put(ctx, sessionID, fileName, r)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		LogFieldSession:   privacy.MaskSessionID(sessionID),
		LogFieldMediaType: obj.ContentType,
		LogFieldFileSize:  obj.Size,
	}).Info("Attachment stored")

	return c.Sessions.PostMessage(ctx, sessionID, models.SenderVisitor, senderID, fileName, obj.URL)
}

// RaiseEmergency escalates a session at high priority
func (c *ChatService) RaiseEmergency(ctx context.Context, sessionID, reason string) (*models.Escalation, error) {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	return c.Sessions.Escalate(ctx, sessionID, models.EscalationEmergency, reason)
}

func (c *ChatService) RetryMessage(ctx context.Context, messageID string) (*models.Message, error) {
	if err := validation.ValidateID("message_id", messageID); err != nil {
		return nil, err
	}
	return c.Timeline.RetryMessage(ctx, messageID)
}

func (c *ChatService) AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if err := validation.ValidateID("message_id", messageID); err != nil {
		return false, err
	}
	return c.Timeline.AddReaction(ctx, messageID, userID, emoji)
}

func (c *ChatService) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if err := validation.ValidateID("message_id", messageID); err != nil {
		return false, err
	}
	return c.Timeline.RemoveReaction(ctx, messageID, userID, emoji)
}

func (c *ChatService) Thread(ctx context.Context, parentID string) ([]*models.Message, error) {
	if err := validation.ValidateID("message_id", parentID); err != nil {
		return nil, err
	}
	return c.Timeline.GetThread(ctx, parentID)
}

func (c *ChatService) Reply(ctx context.Context, parentID string, sender models.Sender, senderID, text string) (*models.Message, error) {
	if err := validation.ValidateID("message_id", parentID); err != nil {
		return nil, err
	}
	if sender != models.SenderVisitor && sender != models.SenderStaff {
		return nil, apperrors.NewValidationError("sender", "must be visitor or staff")
	}
	return c.Timeline.PostReply(ctx, parentID, models.Message{
		Sender:   sender,
		SenderID: senderID,
		Content:  text,
	})
}

func (c *ChatService) Subscribe(ctx context.Context, sessionID string) (*realtime.Subscription, error) {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	return c.Timeline.Subscribe(ctx, sessionID)
}

func (c *ChatService) SupportStatus(ctx context.Context) models.SupportStatus {
	return c.Availability.Current(ctx)
}

// SetPresence records a staff presence change and re-evaluates availability
// so listeners hear about a flip without waiting for the next tick
func (c *ChatService) SetPresence(ctx context.Context, staff models.StaffMember) (models.SupportStatus, error) {
	if err := validation.ValidateUserID(staff.ID); err != nil {
		return models.SupportStatus{}, err
	}
	if !staff.Presence.Valid() {
		return models.SupportStatus{}, apperrors.NewValidationError("presence", "must be online, away or offline")
	}
	if err := c.Presence.SetStaffPresence(ctx, &staff); err != nil {
		return models.SupportStatus{}, err
	}

	c.logger.WithFields(logrus.Fields{
		LogFieldStaffID: privacy.MaskUserID(staff.ID),
		"presence":      staff.Presence,
	}).Info("Staff presence updated")

	return c.Availability.Check(ctx), nil
}

// StaffMessage posts a staff answer into a session
func (c *ChatService) StaffMessage(ctx context.Context, sessionID, staffID, text string) (*models.Message, error) {
	if err := validation.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(staffID); err != nil {
		return nil, err
	}
	return c.Sessions.PostMessage(ctx, sessionID, models.SenderStaff, staffID, text, "")
}

func (c *ChatService) ReloadRules(ctx context.Context) error {
	return c.Rules.Reload(ctx)
}

func (c *ChatService) NotificationStats() dispatcher.Stats {
	return c.Notifications.Stats()
}
