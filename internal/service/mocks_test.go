package service

import (
	"context"
	"io"
	"time"

	"supportchat/internal/dispatcher"
	"supportchat/internal/models"
	"supportchat/internal/realtime"
	"supportchat/internal/session"
	"supportchat/pkg/media"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	args := m.Called(ctx, retentionDays)
	return args.Error(0)
}

type mockFileCleaner struct {
	mock.Mock
}

func (m *mockFileCleaner) CleanupOldFiles(maxAge time.Duration) (int, error) {
	args := m.Called(maxAge)
	return args.Int(0), args.Error(1)
}

type mockCloser struct {
	mock.Mock
}

func (m *mockCloser) IdleSessions(cutoff time.Time) []string {
	args := m.Called(cutoff)
	ids, _ := args.Get(0).([]string)
	return ids
}

func (m *mockCloser) CloseSession(ctx context.Context, sessionID, reason string) error {
	args := m.Called(ctx, sessionID, reason)
	return args.Error(0)
}

type mockIdleLister struct {
	mock.Mock
}

func (m *mockIdleLister) ListIdleSessions(ctx context.Context, before time.Time) ([]string, error) {
	args := m.Called(ctx, before)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

type mockStaleCounter struct {
	mock.Mock
}

func (m *mockStaleCounter) CountStaleJobs(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) StartSession(ctx context.Context, visitorRef, locale string) (*models.ChatSession, *session.TurnResult, error) {
	args := m.Called(ctx, visitorRef, locale)
	s, _ := args.Get(0).(*models.ChatSession)
	r, _ := args.Get(1).(*session.TurnResult)
	return s, r, args.Error(2)
}

func (m *mockSessions) SubmitUtterance(ctx context.Context, sessionID, text string) (*session.TurnResult, error) {
	args := m.Called(ctx, sessionID, text)
	r, _ := args.Get(0).(*session.TurnResult)
	return r, args.Error(1)
}

func (m *mockSessions) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*models.ChatSession)
	return s, args.Error(1)
}

func (m *mockSessions) CloseSession(ctx context.Context, sessionID, reason string) error {
	args := m.Called(ctx, sessionID, reason)
	return args.Error(0)
}

func (m *mockSessions) Escalate(ctx context.Context, sessionID string, kind models.EscalationType, reason string) (*models.Escalation, error) {
	args := m.Called(ctx, sessionID, kind, reason)
	e, _ := args.Get(0).(*models.Escalation)
	return e, args.Error(1)
}

func (m *mockSessions) PostMessage(ctx context.Context, sessionID string, sender models.Sender, senderID, text, attachmentURL string) (*models.Message, error) {
	args := m.Called(ctx, sessionID, sender, senderID, text, attachmentURL)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

type mockTimeline struct {
	mock.Mock
}

func (m *mockTimeline) Subscribe(ctx context.Context, sessionID string) (*realtime.Subscription, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*realtime.Subscription)
	return s, args.Error(1)
}

func (m *mockTimeline) History(ctx context.Context, sessionID string) ([]*models.Message, error) {
	args := m.Called(ctx, sessionID)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockTimeline) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockTimeline) SetTyping(ctx context.Context, sessionID, userID string, isTyping bool) error {
	args := m.Called(ctx, sessionID, userID, isTyping)
	return args.Error(0)
}

func (m *mockTimeline) RetryMessage(ctx context.Context, messageID string) (*models.Message, error) {
	args := m.Called(ctx, messageID)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockTimeline) AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *mockTimeline) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *mockTimeline) GetThread(ctx context.Context, parentID string) ([]*models.Message, error) {
	args := m.Called(ctx, parentID)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockTimeline) PostReply(ctx context.Context, parentID string, msg models.Message) (*models.Message, error) {
	args := m.Called(ctx, parentID, msg)
	out, _ := args.Get(0).(*models.Message)
	return out, args.Error(1)
}

type mockAvailability struct {
	mock.Mock
}

func (m *mockAvailability) Current(ctx context.Context) models.SupportStatus {
	return m.Called(ctx).Get(0).(models.SupportStatus)
}

func (m *mockAvailability) Check(ctx context.Context) models.SupportStatus {
	return m.Called(ctx).Get(0).(models.SupportStatus)
}

type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) SetStaffPresence(ctx context.Context, staff *models.StaffMember) error {
	return m.Called(ctx, staff).Error(0)
}

type mockAttachments struct {
	mock.Mock
}

func (m *mockAttachments) Put(ctx context.Context, sessionID, name string, r io.Reader) (*media.Object, error) {
	args := m.Called(ctx, sessionID, name, r)
	obj, _ := args.Get(0).(*media.Object)
	return obj, args.Error(1)
}

type mockRules struct {
	mock.Mock
}

func (m *mockRules) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type stubQueue struct {
	stats dispatcher.Stats
}

func (s stubQueue) Stats() dispatcher.Stats { return s.stats }
