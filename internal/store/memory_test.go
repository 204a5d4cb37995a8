package store

import (
	"context"
	"errors"
	"testing"

	"github.com/capitalize-ai/livechat-relay/internal/model"
)

func TestMemoryStoreAppendCreatesConversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	msg, err := s.AppendMessage(ctx, "c1", "hello", model.SenderUser)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == "" || msg.ConversationID != "c1" || msg.Content != "hello" || msg.Type != model.SenderUser {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}

	conv, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Status != model.StatusActive {
		t.Fatalf("new conversation should be ACTIVE, got %s", conv.Status)
	}
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.UpdateConversationStatus(ctx, "missing", model.StatusTransferred)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.CreateConversation(ctx, "c1"); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.UpdateConversationStatus(ctx, "c1", model.StatusTransferred); err != nil {
		t.Fatalf("UpdateConversationStatus: %v", err)
	}
	conv, _ := s.GetConversation(ctx, "c1")
	if conv.Status != model.StatusTransferred {
		t.Fatalf("status not updated: %s", conv.Status)
	}
}

func TestMemoryStoreListMessagesKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, content := range []string{"a", "b", "c", "d"} {
		if _, err := s.AppendMessage(ctx, "c1", content, model.SenderUser); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "c" || msgs[1].Content != "d" {
		t.Fatalf("unexpected page: %+v", msgs)
	}

	all, _ := s.ListMessages(ctx, "c1", 0)
	if len(all) != 4 {
		t.Fatalf("expected all 4 messages, got %d", len(all))
	}

	// returned slices must not alias internal state
	all[0].Content = "mutated"
	again, _ := s.ListMessages(ctx, "c1", 0)
	if again[0].Content != "a" {
		t.Fatalf("internal state mutated via returned slice")
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().AppendMessage(ctx, "c1", "x", model.SenderUser)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
