package config

import (
	"encoding/json"
	"fmt"
	"os"

	"supportchat/internal/availability"
	"supportchat/internal/constants"
	"supportchat/internal/models"
	"supportchat/internal/security"
	"supportchat/internal/validation"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrInvalidLogLevel   = models.ConfigError{Message: "invalid log level"}
	ErrInvalidRetryLimit = models.ConfigError{Message: "notifications.max_attempts must be at least 1"}
)

// EnvProduction is the SUPPORTCHAT_ENV value that enables strict checks
const EnvProduction = "production"

// envOverrides are the settings that may come from the environment.
// Secrets should always be set this way.
type envOverrides struct {
	Environment           string   `env:"SUPPORTCHAT_ENV"`
	Port                  int      `env:"SUPPORTCHAT_PORT"`
	AllowedOrigins        []string `env:"SUPPORTCHAT_ALLOWED_ORIGINS" envSeparator:","`
	PresenceWebhookSecret string   `env:"SUPPORTCHAT_PRESENCE_WEBHOOK_SECRET"`
	DBPath                string   `env:"SUPPORTCHAT_DB_PATH"`
	RulesPath             string   `env:"SUPPORTCHAT_RULES_PATH"`
	WebhookURL            string   `env:"SUPPORTCHAT_ALERT_WEBHOOK_URL"`
	SigningSecret         string   `env:"SUPPORTCHAT_ALERT_SIGNING_SECRET"`
	FallbackContactURL    string   `env:"SUPPORTCHAT_FALLBACK_CONTACT_URL"`
	Timezone              string   `env:"SUPPORTCHAT_TIMEZONE"`
	StorageDir            string   `env:"SUPPORTCHAT_STORAGE_DIR"`
	JWTSecret             string   `env:"SUPPORTCHAT_JWT_SECRET"`
	LogLevel              string   `env:"SUPPORTCHAT_LOG_LEVEL"`
	OTLPEndpoint          string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig reads a JSON config file, fills defaults and applies
// environment overrides
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.CleanupIntervalHours <= 0 {
		c.Server.CleanupIntervalHours = constants.CleanupSchedulerIntervalH
	}
	if c.Dialogue.ReloadIntervalSec <= 0 {
		c.Dialogue.ReloadIntervalSec = constants.DefaultRulesReloadIntervalSec
	}

	n := &c.Notifications
	if n.TimeoutSec <= 0 {
		n.TimeoutSec = constants.DefaultAlertHTTPTimeoutSec
	}
	if n.MaxAttempts == 0 {
		n.MaxAttempts = constants.DefaultNotifyMaxAttempts
	}
	if n.BaseDelayMs <= 0 {
		n.BaseDelayMs = constants.DefaultNotifyBaseDelayMs
	}
	if n.MaxDelayMs <= 0 {
		n.MaxDelayMs = constants.DefaultNotifyMaxDelayMs
	}
	if n.TickIntervalMs <= 0 {
		n.TickIntervalMs = constants.DefaultNotifyTickIntervalMs
	}
	if n.CircuitBreakerMaxFailures == 0 {
		n.CircuitBreakerMaxFailures = constants.DefaultAlertCBMaxFailures
	}
	if n.CircuitBreakerTimeoutSec <= 0 {
		n.CircuitBreakerTimeoutSec = constants.DefaultAlertCBTimeoutSec
	}
	if n.MonitorIntervalSec <= 0 {
		n.MonitorIntervalSec = constants.DefaultJobMonitorIntervalSec
	}

	a := &c.Availability
	if a.OpenTime == "" {
		a.OpenTime = constants.DefaultOpenTime
	}
	if a.CloseTime == "" {
		a.CloseTime = constants.DefaultCloseTime
	}
	if a.Timezone == "" {
		a.Timezone = constants.DefaultTimezone
	}
	if a.CheckIntervalSec <= 0 {
		a.CheckIntervalSec = constants.DefaultAvailabilityCheckSec
	}

	r := &c.Realtime
	if r.TypingTTLMs <= 0 {
		r.TypingTTLMs = constants.DefaultTypingTTLMs
	}
	if r.TypingSweepMs <= 0 {
		r.TypingSweepMs = constants.DefaultTypingSweepMs
	}
	if r.SubscriberBuffer <= 0 {
		r.SubscriberBuffer = constants.DefaultSubscriberBufferSize
	}

	if c.Session.ReaperIntervalSec <= 0 {
		c.Session.ReaperIntervalSec = constants.DefaultReaperIntervalSec
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = constants.DefaultStorageDir
	}
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = constants.DefaultStorageBaseURL
	}
	if c.Storage.MaxSizeMB <= 0 {
		c.Storage.MaxSizeMB = constants.DefaultMaxAttachmentSizeMB
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return ErrInvalidLogLevel
	}
	if c.Notifications.MaxAttempts < 1 {
		return ErrInvalidRetryLimit
	}
	if c.Notifications.WebhookURL != "" {
		if err := security.ValidateWebhookURL(c.Notifications.WebhookURL); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid notifications.webhook_url: %v", err)}
		}
	}
	if _, err := availability.ParseWindow(c.Availability.OpenTime, c.Availability.CloseTime, c.Availability.Timezone); err != nil {
		return err
	}
	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Dialogue.RulesPath != "" {
		if err := security.ValidateFilePath(c.Dialogue.RulesPath); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid dialogue.rules_path: %v", err)}
		}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid environment: %v", err)}
	}

	if o.Environment != "" {
		c.Tracing.Environment = o.Environment
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if len(o.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = o.AllowedOrigins
	}
	if o.PresenceWebhookSecret != "" {
		c.Server.PresenceWebhookSecret = o.PresenceWebhookSecret
	}
	if o.DBPath != "" {
		c.Database.Path = o.DBPath
	}
	if o.RulesPath != "" {
		c.Dialogue.RulesPath = o.RulesPath
	}
	if o.WebhookURL != "" {
		c.Notifications.WebhookURL = o.WebhookURL
	}
	if o.SigningSecret != "" {
		c.Notifications.SigningSecret = o.SigningSecret
	}
	if o.FallbackContactURL != "" {
		c.Notifications.FallbackContactURL = o.FallbackContactURL
	}
	if o.Timezone != "" {
		c.Availability.Timezone = o.Timezone
	}
	if o.StorageDir != "" {
		c.Storage.Dir = o.StorageDir
	}
	if o.JWTSecret != "" {
		c.Auth.JWTSecret = o.JWTSecret
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.OTLPEndpoint != "" {
		c.Tracing.OTLPEndpoint = o.OTLPEndpoint
	}
	return nil
}

// IsProduction reports whether strict security checks apply
func IsProduction() bool {
	return os.Getenv("SUPPORTCHAT_ENV") == EnvProduction
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if IsProduction() {
		if len(c.Auth.JWTSecret) < 32 {
			return models.ConfigError{Message: "staff JWT secret must be at least 32 characters in production (set SUPPORTCHAT_JWT_SECRET)"}
		}
		if c.Notifications.WebhookURL != "" && len(c.Notifications.SigningSecret) < 32 {
			return models.ConfigError{Message: "alert signing secret must be at least 32 characters in production (set SUPPORTCHAT_ALERT_SIGNING_SECRET)"}
		}
		if c.Server.PresenceWebhookSecret != "" && len(c.Server.PresenceWebhookSecret) < 32 {
			return models.ConfigError{Message: "presence webhook secret must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if c.Notifications.FallbackContactURL == "" {
			return models.ConfigError{Message: "notifications.fallback_contact_url is required in production"}
		}
	} else {
		if c.Auth.JWTSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: staff JWT secret not set. Staff routes will reject every request. Set SUPPORTCHAT_JWT_SECRET.\n")
		}
		if c.Notifications.WebhookURL == "" {
			fmt.Fprintf(os.Stderr, "WARNING: alert webhook URL not set. Staff alerts will only be logged.\n")
		}
	}

	return nil
}
