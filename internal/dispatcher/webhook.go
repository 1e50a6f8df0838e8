package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/metrics"
	"supportchat/internal/models"
	"supportchat/internal/privacy"
	"supportchat/internal/security"
	"supportchat/internal/tracing"
	"supportchat/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

const webhookChannel = "webhook"

// WebhookConfig configures the HTTP alert channel
type WebhookConfig struct {
	URL                string
	SigningSecret      string
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// alertEnvelope is the JSON body posted to the staff alert endpoint
type alertEnvelope struct {
	ID        string                  `json:"id"`
	Type      models.NotificationType `json:"type"`
	SessionID string                  `json:"session_id,omitempty"`
	Priority  string                  `json:"priority,omitempty"`
	Attempt   int                     `json:"attempt"`
	CreatedAt time.Time               `json:"created_at"`
	SentAt    time.Time               `json:"sent_at"`
	Payload   json.RawMessage         `json:"payload"`
}

// WebhookSender posts alerts as signed JSON. Calls go through a circuit
// breaker; while it is open, Send returns a DeferredError instead of
// waiting out the HTTP timeout.
type WebhookSender struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewWebhookSender creates a sender for cfg.URL
func NewWebhookSender(cfg WebhookConfig, logger *logrus.Logger) (*WebhookSender, error) {
	if err := security.ValidateWebhookURL(cfg.URL); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultAlertHTTPTimeoutSec) * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = constants.DefaultAlertCBMaxFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Duration(constants.DefaultAlertCBTimeoutSec) * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	breaker := circuitbreaker.NewWithLogger("alert-webhook", cfg.BreakerMaxFailures, cfg.BreakerTimeout, logger)
	breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		metrics.IncrementCounter(metrics.CircuitStateChanges, map[string]string{
			"breaker": name,
			"state":   to.String(),
		}, "Circuit breaker state transitions")
	})

	return &WebhookSender{
		url:     cfg.URL,
		secret:  cfg.SigningSecret,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Send delivers one attempt of job
func (s *WebhookSender) Send(ctx context.Context, job *models.NotificationJob) error {
	body, err := json.Marshal(alertEnvelope{
		ID:        job.ID,
		Type:      job.Type,
		SessionID: job.SessionID,
		Priority:  job.Priority,
		Attempt:   job.AttemptCount + 1,
		CreatedAt: job.CreatedAt,
		SentAt:    time.Now().UTC(),
		Payload:   job.Payload,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to encode alert")
	}

	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.post(ctx, job, body)
	})
	var cbErr *circuitbreaker.CircuitBreakerError
	if errors.As(err, &cbErr) {
		// Nothing was sent, so the attempt is handed back to the dispatcher
		return &DeferredError{
			RetryAfter: cbErr.RetryAfter,
			Cause:      apperrors.NewDeliveryError(webhookChannel, 0, err),
		}
	}
	return err
}

func (s *WebhookSender) post(ctx context.Context, job *models.NotificationJob, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewDeliveryError(webhookChannel, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", tracing.GenerateRequestID())
	if s.secret != "" {
		req.Header.Set(constants.AlertSignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewDeliveryError(webhookChannel, 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewDeliveryError(webhookChannel, resp.StatusCode,
			fmt.Errorf("alert endpoint returned status %d", resp.StatusCode))
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"type":        job.Type,
		"session":     privacy.MaskSessionID(job.SessionID),
		"status_code": resp.StatusCode,
	}).Debug("Alert posted")
	return nil
}

// BreakerStats exposes the circuit breaker counters
func (s *WebhookSender) BreakerStats() circuitbreaker.Stats {
	return s.breaker.GetStats()
}

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// LogSender writes alerts to the log. It is used when no alert endpoint is
// configured so the service still runs standalone.
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(logger *logrus.Logger) *LogSender {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSender{logger: logger}
}

// Send logs job at warn level and always succeeds. Payload values are
// masked; identifiers and visitor text never reach the log.
func (s *LogSender) Send(_ context.Context, job *models.NotificationJob) error {
	s.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"type":     job.Type,
		"session":  privacy.MaskSessionID(job.SessionID),
		"priority": job.Priority,
		"payload":  maskedPayload(job.Payload),
	}).Warn("Staff alert (no webhook configured)")
	return nil
}

func maskedPayload(payload json.RawMessage) map[string]interface{} {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return map[string]interface{}{"unreadable_bytes": len(payload)}
	}
	return privacy.MaskSensitiveFields(fields)
}
