package service

// Logging Standards for supportchat
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldSession   = "session"
	LogFieldMessageID = "message_id"
	LogFieldUserID    = "user_id"
	LogFieldStaffID   = "staff_id"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"
	LogFieldReason    = "reason"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Attachments
	LogFieldMediaType = "media_type"
	LogFieldFileSize  = "file_size"
)

// Log Level Usage Guidelines
//
// DEBUG: Detailed information for diagnosing problems.
//   - Per-turn resolution details
//   - Subscriber fan-out and dropped events
//
// INFO: General information about application flow and key events.
//   - Application startup/shutdown
//   - Sessions opened, escalated and closed
//   - Rule table reloads
//   - Services started/stopped
//
// WARN: Something unexpected happened, but the application can continue.
//   - Alert delivery retries
//   - Fallback copy served to a visitor
//   - Presence source unavailable, operating window used
//
// ERROR: Error events that might still allow the application to continue.
//   - Alert delivery exhausted
//   - Store writes that failed after retries
//   - Authentication failures
//
// FATAL: Very severe error events that will presumably lead the application to abort.
//   - Configuration required for startup is missing
//   - Database connection failed and cannot be recovered

// Identifiers captured in AWAIT_ID are masked with privacy.MaskIdentifier
// and secrets are never logged, at any level.
//
// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldSession:   privacy.MaskSessionID(sessionID),
//     LogFieldOperation: "send_message",
// }).Info("Visitor turn resolved")
