package service

import (
	"context"

	"supportchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx for verbose request logging
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}

// LogMessageProcessing logs one chat message with privacy controls. Content
// is only included, shortened, in verbose mode.
func LogMessageProcessing(ctx context.Context, logger *logrus.Logger, operation, sessionID, messageID, senderID, content string) {
	fields := logrus.Fields{
		LogFieldOperation: operation,
		LogFieldSession:   privacy.MaskSessionID(sessionID),
		LogFieldMessageID: privacy.MaskSessionID(messageID),
		LogFieldUserID:    privacy.MaskUserID(senderID),
	}
	if IsVerboseLogging(ctx) {
		fields["content"] = privacy.MaskContent(content, 32)
	}
	logger.WithFields(fields).Info("Processing message")
}
