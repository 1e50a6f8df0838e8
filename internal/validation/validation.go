package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"supportchat/internal/constants"
	"supportchat/internal/errors"

	"github.com/google/uuid"
)

// ValidateID validates a UUID-shaped identifier such as a session or message ID
func ValidateID(field, id string) error {
	if id == "" {
		return errors.NewValidationError(field, "cannot be empty")
	}
	if len(id) > constants.MaxSessionIDLength {
		return errors.NewValidationError(field, fmt.Sprintf("too long (max %d characters)", constants.MaxSessionIDLength))
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.NewValidationError(field, "must be a UUID")
	}
	return nil
}

// ValidateUserID validates the ID of a visitor or staff member acting on a session
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.NewValidationError("user_id", "cannot be empty")
	}
	if len(userID) > constants.MaxUserIDLength {
		return errors.NewValidationError("user_id", fmt.Sprintf("too long (max %d characters)", constants.MaxUserIDLength))
	}
	if hasControlChars(userID) {
		return errors.NewValidationError("user_id", "contains invalid characters")
	}
	return nil
}

// ValidateVisitorRef validates the opaque reference supplied when a visit starts
func ValidateVisitorRef(ref string) error {
	if len(ref) > constants.MaxVisitorRefLength {
		return errors.NewValidationError("visitor_ref", fmt.Sprintf("too long (max %d characters)", constants.MaxVisitorRefLength))
	}
	if hasControlChars(ref) {
		return errors.NewValidationError("visitor_ref", "contains invalid characters")
	}
	return nil
}

// ValidateUtterance validates one visitor-submitted turn. Blank text is
// allowed here; the dialogue engine re-prompts for it.
func ValidateUtterance(text string) error {
	if !utf8.ValidString(text) {
		return errors.NewValidationError("text", "must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > constants.MaxUtteranceLength {
		return errors.NewValidationError("text", fmt.Sprintf("too long (max %d characters)", constants.MaxUtteranceLength))
	}
	if strings.ContainsRune(text, '\x00') {
		return errors.NewValidationError("text", "contains invalid characters")
	}
	return nil
}

// ValidateMessageContent validates staff or reply content, which must not be blank
func ValidateMessageContent(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.NewValidationError("text", "cannot be empty")
	}
	return ValidateUtterance(text)
}

// ValidateEmoji validates a reaction emoji
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return errors.NewValidationError("emoji", "cannot be empty")
	}
	if len(emoji) > constants.MaxEmojiLength {
		return errors.NewValidationError("emoji", fmt.Sprintf("too long (max %d bytes)", constants.MaxEmojiLength))
	}
	if !utf8.ValidString(emoji) {
		return errors.NewValidationError("emoji", "must be valid UTF-8")
	}
	for _, r := range emoji {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.NewValidationError("emoji", "contains invalid characters")
		}
	}
	return nil
}

// ValidatePage validates history pagination and applies defaults
func ValidatePage(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, errors.NewValidationError("offset", "cannot be negative")
	}
	if limit < 0 {
		return 0, 0, errors.NewValidationError("limit", "cannot be negative")
	}
	if limit == 0 {
		limit = constants.DefaultHistoryPageSize
	}
	if limit > constants.MaxHistoryPageSize {
		limit = constants.MaxHistoryPageSize
	}
	return limit, offset, nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r == '\x00' || r == '\n' || r == '\r' || r == '\t' {
			return true
		}
	}
	return false
}
