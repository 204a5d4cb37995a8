// Package store persists conversations and chat messages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/livechat-relay/internal/model"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Store is the persistence backend shared by the services.
type Store interface {
	CreateConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// AppendMessage stores a message, creating its conversation in ACTIVE state if needed.
	AppendMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error)

	UpdateConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error

	// ListMessages returns the newest limit messages, oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	Ping(ctx context.Context) error
	Close()
}
