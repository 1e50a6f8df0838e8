package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "supportchat/internal/errors"
	"supportchat/internal/models"
	"supportchat/internal/realtime"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandleEvents_StreamsUntilSessionCloses(t *testing.T) {
	srv, chat := newTestServer(t, nil)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	broadcaster := realtime.NewBroadcaster(8, logger)
	sub := broadcaster.Subscribe(context.Background(), testSessionID)
	chat.On("Subscribe", mock.Anything, testSessionID).Return(sub, nil)
	chat.On("SupportStatus", mock.Anything).Return(models.SupportStatus{Online: true, StaffCount: 2, Source: "presence"})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/sessions/" + testSessionID + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first models.Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, models.EventSupportStatus, first.Type)
	require.NotNil(t, first.Support)
	assert.True(t, first.Support.Online)
	assert.Equal(t, 2, first.Support.StaffCount)

	broadcaster.Publish(testSessionID, models.Event{
		Type:      models.EventMessage,
		SessionID: testSessionID,
		Message:   &models.Message{ID: testMessageID, SessionID: testSessionID, Sender: models.SenderBot, Content: "Hello"},
	})

	var second models.Event
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, models.EventMessage, second.Type)
	require.NotNil(t, second.Message)
	assert.Equal(t, "Hello", second.Message.Content)

	// Closing the session ends every stream with a normal closure
	broadcaster.RemoveSession(testSessionID)

	var third models.Event
	err = wsjson.Read(ctx, conn, &third)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestHandleEvents_UnknownSession(t *testing.T) {
	srv, chat := newTestServer(t, nil)
	chat.On("Subscribe", mock.Anything, testSessionID).Return(nil, apperrors.NewNotFoundError("session", testSessionID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+testSessionID+"/events", nil)
	w := serve(srv, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	chat.AssertNotCalled(t, "SupportStatus", mock.Anything)
}

func TestOriginPatterns(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	assert.Equal(t, []string{"*"}, srv.originPatterns())

	srv, _ = newTestServer(t, &models.Config{Server: models.ServerConfig{
		AllowedOrigins: []string{"https://shop.example.com", "http://localhost:3000", "not a url"},
	}})
	assert.Equal(t, []string{"shop.example.com", "localhost:3000"}, srv.originPatterns())
}
