package models

// Config holds the application configuration
type Config struct {
	Server        ServerConfig       `json:"server"`
	Database      DatabaseConfig     `json:"database"`
	Dialogue      DialogueConfig     `json:"dialogue"`
	Notifications NotificationConfig `json:"notifications"`
	Availability  AvailabilityConfig `json:"availability"`
	Realtime      RealtimeConfig     `json:"realtime"`
	Session       SessionConfig      `json:"session"`
	Storage       StorageConfig      `json:"storage"`
	Auth          AuthConfig         `json:"auth"`
	Tracing       TracingConfig      `json:"tracing"`
	Retry         RetryConfig        `json:"retry"`
	LogLevel      string             `json:"log_level"`
	RetentionDays int                `json:"retention_days"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port                  int      `json:"port"`
	AllowedOrigins        []string `json:"allowed_origins"`
	CleanupIntervalHours  int      `json:"cleanup_interval_hours"`
	PresenceWebhookSecret string   `json:"presence_webhook_secret"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DialogueConfig controls where the keyword table comes from.
// An empty RulesPath loads the table from the database.
type DialogueConfig struct {
	RulesPath         string `json:"rules_path"`
	ReloadIntervalSec int    `json:"reload_interval_sec"`
}

// NotificationConfig configures the staff alert channel and its retry policy
type NotificationConfig struct {
	WebhookURL                string `json:"webhook_url"`
	SigningSecret             string `json:"signing_secret"`
	TimeoutSec                int    `json:"timeout_sec"`
	MaxAttempts               int    `json:"max_attempts"`
	BaseDelayMs               int    `json:"base_delay_ms"`
	MaxDelayMs                int    `json:"max_delay_ms"`
	TickIntervalMs            int    `json:"tick_interval_ms"`
	FallbackContactURL        string `json:"fallback_contact_url"`
	CircuitBreakerMaxFailures uint32 `json:"circuit_breaker_max_failures"`
	CircuitBreakerTimeoutSec  int    `json:"circuit_breaker_timeout_sec"`
	MonitorIntervalSec        int    `json:"monitor_interval_sec"`
}

// AvailabilityConfig holds the daily operating window used when no presence
// feed is available
type AvailabilityConfig struct {
	OpenTime         string `json:"open_time"`
	CloseTime        string `json:"close_time"`
	Timezone         string `json:"timezone"`
	CheckIntervalSec int    `json:"check_interval_sec"`
	UsePresence      bool   `json:"use_presence"`
}

// RealtimeConfig holds typing and fan-out settings
type RealtimeConfig struct {
	TypingTTLMs      int `json:"typing_ttl_ms"`
	TypingSweepMs    int `json:"typing_sweep_ms"`
	SubscriberBuffer int `json:"subscriber_buffer"`
}

// SessionConfig holds the inactivity policy. IdleTimeoutSec of 0 disables the reaper.
type SessionConfig struct {
	IdleTimeoutSec    int `json:"idle_timeout_sec"`
	ReaperIntervalSec int `json:"reaper_interval_sec"`
}

// StorageConfig configures the attachment object store
type StorageConfig struct {
	Dir           string `json:"dir"`
	PublicBaseURL string `json:"public_base_url"`
	MaxSizeMB     int    `json:"max_size_mb"`
}

// AuthConfig holds the HS256 secret used to verify staff tokens
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// RetryConfig holds retry related configurations for startup dependencies
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
