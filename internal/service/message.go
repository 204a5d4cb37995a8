package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/model"
	"github.com/capitalize-ai/livechat-relay/internal/store"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
	"github.com/capitalize-ai/livechat-relay/pkg/metrics"
)

// ErrInvalidInput is returned for requests that fail validation.
var ErrInvalidInput = errors.New("invalid input")

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// MessageService handles message operations.
type MessageService struct {
	store   store.Store
	journal Journal
	logger  *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(st store.Store, journal Journal, log *logger.Logger) *MessageService {
	return &MessageService{
		store:   st,
		journal: journal,
		logger:  log,
	}
}

// AppendMessage persists a message and journals it.
func (s *MessageService) AppendMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error) {
	msg, err := s.store.AppendMessage(ctx, conversationID, content, sender)
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(sender)).Inc()
	s.publishMessage(ctx, msg)
	return msg, nil
}

// List returns the newest messages of a conversation, oldest first.
func (s *MessageService) List(ctx context.Context, conversationID string, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	messages, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}

	return &model.ListMessagesResponse{
		Messages: messages,
		Count:    len(messages),
	}, nil
}

func (s *MessageService) publishMessage(ctx context.Context, msg *model.Message) {
	if s.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if _, err := s.journal.PublishMessage(jctx, msg); err != nil {
		metrics.JournalPublishFailures.WithLabelValues("message").Inc()
		s.logger.Warn("failed to journal message",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}
