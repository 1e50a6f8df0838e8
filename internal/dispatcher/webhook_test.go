package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob() *models.NotificationJob {
	return &models.NotificationJob{
		ID:        "job-1",
		Type:      models.NotificationAssistanceNeeded,
		SessionID: "3f2c9a1e-5b7d-4f3a-9c1e-2d4b6a8c0e1f",
		Payload:   json.RawMessage(`{"utterance":"help"}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestWebhookSender_PostsSignedEnvelope(t *testing.T) {
	var gotSig string
	var got alertEnvelope
	var rawBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(constants.AlertSignatureHeader)
		rawBody, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(rawBody, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{URL: srv.URL, SigningSecret: "shh"}, quietLogger())
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), testJob()))
	assert.Equal(t, Sign("shh", rawBody), gotSig)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, models.NotificationAssistanceNeeded, got.Type)
	assert.Equal(t, 1, got.Attempt)
	assert.JSONEq(t, `{"utterance":"help"}`, string(got.Payload))
}

func TestWebhookSender_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{URL: srv.URL}, quietLogger())
	require.NoError(t, err)

	err = sender.Send(context.Background(), testJob())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDeliveryFailed, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestWebhookSender_BreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{
		URL:                srv.URL,
		BreakerMaxFailures: 2,
		BreakerTimeout:     time.Minute,
	}, quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		assert.Error(t, sender.Send(ctx, testJob()))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, uint64(2), sender.BreakerStats().Rejected)
}

func TestWebhookSender_OpenBreakerDefers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{
		URL:                srv.URL,
		BreakerMaxFailures: 1,
		BreakerTimeout:     time.Minute,
	}, quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	err = sender.Send(ctx, testJob())
	var deferred *DeferredError
	assert.False(t, errors.As(err, &deferred), "a real failed request spends an attempt")

	err = sender.Send(ctx, testJob())
	require.True(t, errors.As(err, &deferred))
	assert.Greater(t, deferred.RetryAfter, 50*time.Second)
	assert.Equal(t, apperrors.ErrCodeDeliveryFailed, apperrors.GetCode(err))
}

func TestDispatcher_OpenBreakerDoesNotExhaustJob(t *testing.T) {
	var healthy atomic.Bool
	var delivered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{
		URL:                srv.URL,
		BreakerMaxFailures: 2,
		BreakerTimeout:     150 * time.Millisecond,
	}, quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.Error(t, sender.Send(ctx, testJob()))
	}
	require.Equal(t, "OPEN", sender.BreakerStats().State.String())
	healthy.Store(true)

	var exhausted int32
	d := New(sender, Options{
		MaxAttempts:  3,
		BaseDelay:    5 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		OnExhausted: func(context.Context, *models.NotificationJob) {
			atomic.AddInt32(&exhausted, 1)
		},
	}, quietLogger())

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.Start(loopCtx)
	defer d.Stop()

	_, err = d.Submit(ctx, models.NotificationNewSession, nil, "s-9")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return d.Stats().Sent == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, d.Stats().Failed)
	assert.Zero(t, atomic.LoadInt32(&exhausted))
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestNewWebhookSender_RejectsBadURL(t *testing.T) {
	_, err := NewWebhookSender(WebhookConfig{URL: "not a url"}, quietLogger())
	assert.Error(t, err)
}

func TestSign(t *testing.T) {
	// echo -n '{}' | openssl dgst -sha256 -hmac key
	assert.Equal(t, "sha256=a777724d943eb48dc69bca8a4a6d57a04db3f9ec7e1de4e581e860265bdf3032", Sign("key", []byte("{}")))
	assert.NotEqual(t, Sign("a", []byte("{}")), Sign("b", []byte("{}")))
}

func TestLogSender_AlwaysSucceeds(t *testing.T) {
	assert.NoError(t, NewLogSender(quietLogger()).Send(context.Background(), testJob()))
}

func TestLogSender_NeverLogsPayloadValues(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	job := testJob()
	job.Type = models.NotificationNewCustomer
	job.Payload = json.RawMessage(`{"identifier":"G-10203040","utterance":"my password is hunter2"}`)

	require.NoError(t, NewLogSender(logger).Send(context.Background(), job))

	out := buf.String()
	assert.NotContains(t, out, "G-10203040")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "******3040")
	assert.Contains(t, out, "utterance")
}
