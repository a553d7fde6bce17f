package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxMessageRunes = 4000
	maxRegionLength = 64
	maxRefLength    = 128
)

// ValidateMessageText validates message text before it is trimmed and stored.
func ValidateMessageText(text string) error {
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("text cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return errors.New("text exceeds maximum length")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateRef validates a vendor or order reference supplied by a client.
func ValidateRef(name, ref string) error {
	if len(ref) > maxRefLength {
		return errors.New(name + " exceeds maximum length")
	}
	if !utf8.ValidString(ref) {
		return errors.New(name + " must be valid UTF-8")
	}
	return nil
}

// ValidateRegion validates a cultural region filter.
func ValidateRegion(region string) error {
	if len(region) > maxRegionLength {
		return errors.New("region exceeds maximum length")
	}
	if !utf8.ValidString(region) {
		return errors.New("region must be valid UTF-8")
	}
	return nil
}
