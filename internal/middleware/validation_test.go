package middleware

import (
	"strings"
	"testing"
)

func TestValidateConversationID(t *testing.T) {
	valid := []string{"c1", "conv_42", "a-b-c", strings.Repeat("x", 128)}
	invalid := []string{"", "c.1", "c>", "c*", "has space", strings.Repeat("x", 129), "ünï"}

	for _, id := range valid {
		if err := ValidateConversationID(id); err != nil {
			t.Errorf("%q: unexpected error %v", id, err)
		}
	}
	for _, id := range invalid {
		if err := ValidateConversationID(id); err == nil {
			t.Errorf("%q: expected error", id)
		}
	}
}

func TestValidateMessageContent(t *testing.T) {
	if err := ValidateMessageContent("hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateMessageContent(""); err == nil {
		t.Fatalf("empty content accepted")
	}
	if err := ValidateMessageContent(strings.Repeat("x", MaxContentBytes+1)); err == nil {
		t.Fatalf("oversized content accepted")
	}
	if err := ValidateMessageContent("\xff\xfe"); err == nil {
		t.Fatalf("invalid UTF-8 accepted")
	}
}

func TestValidateUserID(t *testing.T) {
	if err := ValidateUserID("agent@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateUserID(""); err == nil {
		t.Fatalf("empty user id accepted")
	}
	if err := ValidateUserID(strings.Repeat("u", 129)); err == nil {
		t.Fatalf("long user id accepted")
	}
}
