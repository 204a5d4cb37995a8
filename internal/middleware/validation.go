package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"
)

// MaxContentBytes caps message content.
const MaxContentBytes = 100000

// MaxFrameOverhead is the room a frame needs around maximum-size content
// for its envelope fields.
const MaxFrameOverhead = 4096

// Conversation ids become NATS subject tokens, so dots, wildcards and spaces are excluded.
var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if !conversationIDPattern.MatchString(id) {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateUserID validates a user ID.
func ValidateUserID(id string) error {
	if len(id) == 0 {
		return errors.New("user ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("user ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("user ID must be valid UTF-8")
	}
	return nil
}
