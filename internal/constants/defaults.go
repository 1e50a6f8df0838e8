package constants

// Server defaults
const (
	DefaultServerPort           = 8085
	DefaultServerReadTimeoutSec = 15
	DefaultServerIdleTimeoutSec = 60
	DefaultGracefulShutdownSec  = 30
	DefaultMaxRequestBodyBytes  = 1 << 20
	DefaultRateLimitRequests    = 60
	DefaultRateLimitWindowSec   = 60
	WebSocketPingIntervalSec    = 30
	WebSocketWriteTimeoutSec    = 10
)

// Dialogue defaults
const (
	DefaultRulesReloadIntervalSec = 60
	MaxUtteranceLength            = 2000
)

// Notification dispatcher defaults
const (
	DefaultNotifyMaxAttempts     = 3
	DefaultNotifyBaseDelayMs     = 5000
	DefaultNotifyMaxDelayMs      = 300000
	DefaultNotifyTickIntervalMs  = 250
	DefaultAlertHTTPTimeoutSec   = 10
	DefaultAlertCBMaxFailures    = 5
	DefaultAlertCBTimeoutSec     = 30
	DefaultJobMonitorIntervalSec = 60
	DefaultStaleJobThresholdSec  = 600
	AlertSignatureHeader         = "X-Supportchat-Signature"
)

// Realtime defaults
const (
	DefaultTypingTTLMs          = 5000
	DefaultTypingSweepMs        = 5000
	DefaultSubscriberBufferSize = 64
	DefaultHistoryPageSize      = 50
	MaxHistoryPageSize          = 200
	MaxEmojiLength              = 32
)

// Session defaults
const (
	DefaultIdleTimeoutSec     = 1800
	DefaultReaperIntervalSec  = 60
	DefaultRetentionDays      = 30
	CleanupSchedulerIntervalH = 24
	MaxVisitorRefLength       = 128
	MaxIdentifierLength       = 64
	MaxUserIDLength           = 128
	MaxSessionIDLength        = 64
)

// Availability defaults
const (
	DefaultAvailabilityCheckSec = 30
	DefaultOpenTime             = "09:00"
	DefaultCloseTime            = "21:00"
	DefaultTimezone             = "UTC"
)

// Database defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 200
	DefaultMaxBackoffMs          = 5000
)

// Attachment defaults
const (
	DefaultMaxAttachmentSizeMB = 10
	DefaultStorageDir          = "data/chat-files"
	DefaultStorageBaseURL      = "/files"
)

// Encryption
const (
	EncryptionSalt       = "supportchat-credential-salt-v1"
	EncryptionLookupSalt = "supportchat-lookup-salt-v1"
)
