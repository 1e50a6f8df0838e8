package security

import (
	"net/url"
	"strings"

	"supportchat/internal/errors"
)

// ValidateWebhookURL checks that raw is an absolute http(s) URL with a host
// and no embedded credentials
func ValidateWebhookURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.NewValidationError("webhook_url", "cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.NewValidationError("webhook_url", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewValidationError("webhook_url", "scheme must be http or https")
	}
	if u.Host == "" {
		return errors.NewValidationError("webhook_url", "host is required")
	}
	if u.User != nil {
		return errors.NewValidationError("webhook_url", "must not contain credentials")
	}
	return nil
}
