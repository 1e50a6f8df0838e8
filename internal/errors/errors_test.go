package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      New(ErrCodeNotFound, "customer not found"),
			expected: "NOT_FOUND: customer not found",
		},
		{
			name:     "with cause",
			err:      Wrap(errors.New("disk full"), ErrCodePersistenceFailed, "store insert failed"),
			expected: "PERSISTENCE_FAILED: store insert failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	inner := NewPersistenceError("insert message", errors.New("database is locked"))
	wrapped := fmt.Errorf("post message: %w", inner)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodePersistenceFailed, appErr.Code)
	assert.Equal(t, ErrCodePersistenceFailed, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodePersistenceFailed))
	assert.False(t, HasCode(nil, ErrCodePersistenceFailed))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestNewValidationError_DoesNotKeepValue(t *testing.T) {
	err := NewValidationError("identifier", "must not be empty")

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "identifier", err.Context["field"])
	_, hasValue := err.Context["value"]
	assert.False(t, hasValue)
	assert.Equal(t, "Invalid identifier: must not be empty", err.UserMessage)
}

func TestNewDeliveryError_Retryable(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		retryable  bool
	}{
		{"transport failure", 0, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"request timeout", http.StatusRequestTimeout, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDeliveryError("webhook", tt.statusCode, errors.New("boom"))
			assert.Equal(t, ErrCodeDeliveryFailed, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", NewValidationError("text", "empty"), http.StatusBadRequest},
		{"not found", NewNotFoundError("session", "abc"), http.StatusNotFound},
		{"closed", NewSessionClosedError("abc"), http.StatusConflict},
		{"auth", NewAuthError("missing token"), http.StatusUnauthorized},
		{"persistence", NewPersistenceError("insert", errors.New("x")), http.StatusServiceUnavailable},
		{"retryable delivery", NewDeliveryError("webhook", 503, errors.New("x")), http.StatusBadGateway},
		{"terminal delivery", NewDeliveryError("webhook", 400, errors.New("x")), http.StatusInternalServerError},
		{"plain error", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatusCode(tt.err))
		})
	}
}

func TestToHTTPResponse(t *testing.T) {
	err := NewNotFoundError("customer", "G-123").WithContext("secret", "hunter2")

	resp := ToHTTPResponse(err, "req_1", "")
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "customer not found", resp.Error.Message)
	assert.Equal(t, "req_1", resp.RequestID)

	ctx, ok := resp.Error.Context.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "customer", ctx["resource"])
	assert.NotContains(t, ctx, "secret")
	assert.NotContains(t, ctx, "identifier")

	override := ToHTTPResponse(errors.New("sql: boom"), "", "Failed to send message. Please try again.")
	assert.Equal(t, ErrCodeInternalError, override.Error.Code)
	assert.Equal(t, "Failed to send message. Please try again.", override.Error.Message)
}

func TestFromContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_42")
	ctx = WithSessionID(ctx, "sess-1")

	values := FromContext(ctx)
	assert.Equal(t, "req_42", values["request_id"])
	assert.Equal(t, "sess-1", values["session_id"])

	err := WithContextFromRequest(New(ErrCodeInternalError, "x"), ctx)
	assert.Equal(t, "sess-1", err.Context["session_id"])
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(nil)
	logger.SetOutput(&buf)

	tests := []struct {
		name             string
		err              error
		fields           []logrus.Fields
		expectedInOutput []string
	}{
		{
			name:   "AppError with context",
			err:    NewValidationError("text", "empty"),
			fields: []logrus.Fields{{"session_id": "s1"}},
			expectedInOutput: []string{
				`"level":"error"`,
				`"error_code":"VALIDATION_FAILED"`,
				`"field":"text"`,
				`"session_id":"s1"`,
			},
		},
		{
			name: "standard error",
			err:  errors.New("something went wrong"),
			expectedInOutput: []string{
				`"error":"something went wrong"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			logger.LogError(tt.err, "operation failed", tt.fields...)
			for _, expected := range tt.expectedInOutput {
				assert.Contains(t, buf.String(), expected)
			}
		})
	}
}

func TestLogger_LogRetryableError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(nil)
	logger.SetOutput(&buf)

	logger.LogRetryableError(NewDeliveryError("webhook", 503, errors.New("x")), "send failed")
	assert.Contains(t, buf.String(), `"level":"warning"`)

	buf.Reset()
	logger.LogRetryableError(NewDeliveryError("webhook", 400, errors.New("x")), "send failed")
	assert.Contains(t, buf.String(), `"level":"error"`)
}
