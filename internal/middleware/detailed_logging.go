package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"supportchat/internal/httputil"
	"supportchat/internal/privacy"
	"supportchat/internal/service"
	"supportchat/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what the debug request logger records
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	MaxBodySize       int
	SensitiveHeaders  []string
	SkipPrefixes      []string
}

// DefaultDetailedLoggingConfig logs headers only
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    false,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "cookie", "x-presence-signature", "x-signature-256",
		},
		SkipPrefixes: []string{
			"/metrics", "/health", "/files/",
		},
	}
}

// DetailedLoggingMiddleware logs request details at debug level. JSON
// bodies are logged with chat text and credentials masked, since a turn
// in AWAIT_SECRET carries the visitor's password.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path, config.SkipPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			requestInfo := tracing.GetRequestInfo(r.Context())
			fields := logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.Path,
				service.LogFieldRemoteIP:  httputil.GetClientIP(r),
				"content_length":          r.ContentLength,
				"protocol":                r.Proto,
			}

			if config.LogRequestHeaders {
				headers := make(map[string]string, len(r.Header))
				for name, values := range r.Header {
					if isSensitiveHeader(name, config.SensitiveHeaders) {
						headers[name] = privacy.Redacted
					} else {
						headers[name] = strings.Join(values, ", ")
					}
				}
				fields["request_headers"] = headers
			}

			if config.LogRequestBody && isJSON(r) && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					fields["request_body"] = maskJSONBody(body)
				}
			}

			logger.WithFields(fields).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

// maskJSONBody masks known sensitive keys of a JSON object. Turn text is
// dropped entirely because it may be a credential. Anything that is not a
// JSON object is dropped.
func maskJSONBody(body []byte) interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return privacy.Redacted
	}
	masked := privacy.MaskSensitiveFields(obj)
	if _, ok := masked["text"]; ok {
		masked["text"] = privacy.Redacted
	}
	return masked
}

func skipPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// isSensitiveHeader checks if a header should be masked
func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
