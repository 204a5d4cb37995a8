package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/livechat-relay/internal/model"
)

// MemoryStore keeps everything in process memory. Used for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		now:           time.Now,
	}
}

// CreateConversation creates a conversation. An empty id gets a generated one.
func (s *MemoryStore) CreateConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.conversations[id]; ok {
		c := *existing
		return &c, nil
	}
	conv := s.createLocked(id)
	c := *conv
	return &c, nil
}

func (s *MemoryStore) createLocked(id string) *model.Conversation {
	now := s.now()
	conv := &model.Conversation{
		ID:        id,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[id] = conv
	return conv
}

// GetConversation returns a copy of a conversation.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// AppendMessage stores a message.
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("append message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = s.createLocked(conversationID)
	}

	msg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Content:        content,
		Type:           sender,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.UpdatedAt = msg.CreatedAt

	return &msg, nil
}

// UpdateConversationStatus sets the status of an existing conversation.
func (s *MemoryStore) UpdateConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	if err := ctx.Err(); err != nil {
		return wrap("update conversation status", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return wrap("update conversation status", ErrNotFound)
	}
	conv.Status = status
	conv.UpdatedAt = s.now()
	return nil
}

// ListMessages returns up to limit of the newest messages, oldest first.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]model.Message, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() {}
