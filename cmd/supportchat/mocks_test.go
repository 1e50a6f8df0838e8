package main

import (
	"context"
	"io"

	"supportchat/internal/dispatcher"
	"supportchat/internal/models"
	"supportchat/internal/realtime"
	"supportchat/internal/session"

	"github.com/stretchr/testify/mock"
)

type mockChat struct {
	mock.Mock
}

func (m *mockChat) StartSession(ctx context.Context, visitorRef, locale string) (*models.ChatSession, *session.TurnResult, error) {
	args := m.Called(ctx, visitorRef, locale)
	sess, _ := args.Get(0).(*models.ChatSession)
	turn, _ := args.Get(1).(*session.TurnResult)
	return sess, turn, args.Error(2)
}

func (m *mockChat) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	args := m.Called(ctx, sessionID)
	sess, _ := args.Get(0).(*models.ChatSession)
	return sess, args.Error(1)
}

func (m *mockChat) SendMessage(ctx context.Context, sessionID, text string) (*session.TurnResult, error) {
	args := m.Called(ctx, sessionID, text)
	turn, _ := args.Get(0).(*session.TurnResult)
	return turn, args.Error(1)
}

func (m *mockChat) CloseSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockChat) History(ctx context.Context, sessionID string) ([]*models.Message, error) {
	args := m.Called(ctx, sessionID)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockChat) Messages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockChat) SetTyping(ctx context.Context, sessionID, userID string, isTyping bool) error {
	return m.Called(ctx, sessionID, userID, isTyping).Error(0)
}

func (m *mockChat) UploadAttachment(ctx context.Context, sessionID, senderID, fileName string, r io.Reader) (*models.Message, error) {
	data, _ := io.ReadAll(r)
	args := m.Called(ctx, sessionID, senderID, fileName, string(data))
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockChat) RaiseEmergency(ctx context.Context, sessionID, reason string) (*models.Escalation, error) {
	args := m.Called(ctx, sessionID, reason)
	esc, _ := args.Get(0).(*models.Escalation)
	return esc, args.Error(1)
}

func (m *mockChat) RetryMessage(ctx context.Context, messageID string) (*models.Message, error) {
	args := m.Called(ctx, messageID)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockChat) AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *mockChat) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *mockChat) Thread(ctx context.Context, parentID string) ([]*models.Message, error) {
	args := m.Called(ctx, parentID)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockChat) Reply(ctx context.Context, parentID string, sender models.Sender, senderID, text string) (*models.Message, error) {
	args := m.Called(ctx, parentID, sender, senderID, text)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockChat) Subscribe(ctx context.Context, sessionID string) (*realtime.Subscription, error) {
	args := m.Called(ctx, sessionID)
	sub, _ := args.Get(0).(*realtime.Subscription)
	return sub, args.Error(1)
}

func (m *mockChat) SupportStatus(ctx context.Context) models.SupportStatus {
	return m.Called(ctx).Get(0).(models.SupportStatus)
}

func (m *mockChat) SetPresence(ctx context.Context, staff models.StaffMember) (models.SupportStatus, error) {
	args := m.Called(ctx, staff)
	return args.Get(0).(models.SupportStatus), args.Error(1)
}

func (m *mockChat) StaffMessage(ctx context.Context, sessionID, staffID, text string) (*models.Message, error) {
	args := m.Called(ctx, sessionID, staffID, text)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockChat) ReloadRules(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockChat) NotificationStats() dispatcher.Stats {
	return m.Called().Get(0).(dispatcher.Stats)
}

type stubHealth struct {
	err error
}

func (s stubHealth) Ping(context.Context) error { return s.err }
