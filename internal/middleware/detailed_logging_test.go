package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"supportchat/internal/privacy"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoBody(t *testing.T, got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		*got = string(body)
		w.WriteHeader(http.StatusOK)
	})
}

func TestDetailedLoggingMiddleware_SilentAboveDebug(t *testing.T) {
	logger, buf := newBufferedLogger(logrus.InfoLevel)
	var got string
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(echoBody(t, &got))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"locale":"en"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, buf.String())
	assert.Equal(t, `{"locale":"en"}`, got)
}

func TestDetailedLoggingMiddleware_RedactsHeaders(t *testing.T) {
	logger, buf := newBufferedLogger(logrus.DebugLevel)
	var got string
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(echoBody(t, &got))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/staff/presence", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer super-secret-token")
	req.Header.Set("X-Presence-Signature", "sha256=abc")
	req.Header.Set("Accept-Language", "my")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := findLog(logLines(t, buf), "Detailed request logging")
	require.NotNil(t, entry)
	headers, ok := entry["request_headers"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, privacy.Redacted, headers["Authorization"])
	assert.Equal(t, privacy.Redacted, headers["X-Presence-Signature"])
	assert.Equal(t, "my", headers["Accept-Language"])
	assert.NotContains(t, buf.String(), "super-secret-token")
	_, hasBody := entry["request_body"]
	assert.False(t, hasBody, "bodies are off by default")
}

func TestDetailedLoggingMiddleware_MasksTurnText(t *testing.T) {
	logger, buf := newBufferedLogger(logrus.DebugLevel)
	cfg := DefaultDetailedLoggingConfig()
	cfg.LogRequestBody = true

	var got string
	handler := DetailedLoggingMiddleware(logger, cfg)(echoBody(t, &got))

	body := `{"text":"hunter2-my-password","user_id":"visitor-123456"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/abc/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, body, got, "handler still sees the original body")
	assert.NotContains(t, buf.String(), "hunter2")

	entry := findLog(logLines(t, buf), "Detailed request logging")
	require.NotNil(t, entry)
	logged, ok := entry["request_body"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, privacy.Redacted, logged["text"])
	assert.Equal(t, "**********3456", logged["user_id"])
}

func TestDetailedLoggingMiddleware_BodyLimits(t *testing.T) {
	logger, buf := newBufferedLogger(logrus.DebugLevel)
	cfg := DefaultDetailedLoggingConfig()
	cfg.LogRequestBody = true
	cfg.MaxBodySize = 16

	var got string
	handler := DetailedLoggingMiddleware(logger, cfg)(echoBody(t, &got))

	large := `{"visitor_ref":"` + strings.Repeat("a", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(large))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := findLog(logLines(t, buf), "Detailed request logging")
	require.NotNil(t, entry)
	_, hasBody := entry["request_body"]
	assert.False(t, hasBody)
	assert.Equal(t, large, got)
}

func TestDetailedLoggingMiddleware_SkipsPrefixes(t *testing.T) {
	logger, buf := newBufferedLogger(logrus.DebugLevel)
	var got string
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(echoBody(t, &got))

	for _, path := range []string{"/health", "/metrics", "/files/abc/receipt.png"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Empty(t, buf.String())
}

func TestMaskJSONBody(t *testing.T) {
	assert.Equal(t, privacy.Redacted, maskJSONBody([]byte(`["not","an","object"]`)))
	assert.Equal(t, privacy.Redacted, maskJSONBody([]byte(`not json`)))

	masked, ok := maskJSONBody([]byte(`{"secret":"pw","locale":"en"}`)).(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, privacy.Redacted, masked["secret"])
	assert.Equal(t, "en", masked["locale"])
}

func TestIsSensitiveHeader(t *testing.T) {
	sensitive := DefaultDetailedLoggingConfig().SensitiveHeaders
	assert.True(t, isSensitiveHeader("Authorization", sensitive))
	assert.True(t, isSensitiveHeader("COOKIE", sensitive))
	assert.True(t, isSensitiveHeader("x-presence-signature", sensitive))
	assert.False(t, isSensitiveHeader("Content-Type", sensitive))
}
