package privacy

import (
	"strings"
	"unicode/utf8"
)

// Redacted replaces values that must never reach logs or history
const Redacted = "[REDACTED]"

// MaskIdentifier masks a visitor identifier showing only the last 4 characters
// Example: "G-10203040" -> "******3040"
func MaskIdentifier(identifier string) string {
	return maskString(identifier, 4)
}

// MaskSecret hides a captured credential completely
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return Redacted
}

// MaskSessionID keeps the leading segment of a UUID for log correlation
// Example: "3f2c9a1e-5b7d-4f3a-9c1e-2d4b6a8c0e1f" -> "3f2c9a1e-****"
func MaskSessionID(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	if i := strings.IndexByte(sessionID, '-'); i > 0 {
		return sessionID[:i] + "-****"
	}
	return maskString(sessionID, 4)
}

// MaskUserID masks a user identifier
// Example: "user123456" -> "******3456"
func MaskUserID(userID string) string {
	return maskString(userID, 4)
}

// MaskContent shortens free text for debug logs
func MaskContent(content string, keepFirst int) string {
	if utf8.RuneCountInString(content) <= keepFirst {
		return content
	}
	runes := []rune(content)
	return string(runes[:keepFirst]) + "..."
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= keepLast {
		return strings.Repeat("*", len(runes))
	}

	return strings.Repeat("*", len(runes)-keepLast) + string(runes[len(runes)-keepLast:])
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "identifier", "game_id", "visitor_ref":
			masked[k] = MaskIdentifier(s)
		case "secret", "password", "token", "authorization", "utterance":
			masked[k] = MaskSecret(s)
		case "session_id":
			masked[k] = MaskSessionID(s)
		case "user_id", "staff_id", "sender_id":
			masked[k] = MaskUserID(s)
		case "content", "text":
			masked[k] = MaskContent(s, 16)
		default:
			masked[k] = v
		}
	}

	return masked
}
