// Package service provides the business logic between the relay, the REST
// API and the persistence backends.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/middleware"
	"github.com/capitalize-ai/livechat-relay/internal/model"
	"github.com/capitalize-ai/livechat-relay/internal/store"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
	"github.com/capitalize-ai/livechat-relay/pkg/metrics"
)

// journalTimeout bounds best-effort journal writes.
const journalTimeout = 2 * time.Second

// Journal records persisted traffic for downstream consumers. A nil
// Journal disables journaling.
type Journal interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// ConversationService handles conversation operations.
type ConversationService struct {
	store   store.Store
	journal Journal
	logger  *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, journal Journal, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:   st,
		journal: journal,
		logger:  log,
	}
}

// Create creates a conversation. An empty id gets a generated one.
func (s *ConversationService) Create(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error) {
	if req.ID != "" {
		if err := middleware.ValidateConversationID(req.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	conv, err := s.store.CreateConversation(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversationStatus records a status change and journals it.
func (s *ConversationService) UpdateConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus, actorID string) error {
	if err := s.store.UpdateConversationStatus(ctx, conversationID, status); err != nil {
		return err
	}

	metrics.ConversationStatusChanges.WithLabelValues(string(status)).Inc()

	s.publishEvent(ctx, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Status:         status,
		ActorID:        actorID,
		CreatedAt:      time.Now(),
	})
	return nil
}

func (s *ConversationService) publishEvent(ctx context.Context, event *model.ConversationEvent) {
	if s.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if _, err := s.journal.PublishEvent(jctx, event); err != nil {
		metrics.JournalPublishFailures.WithLabelValues("event").Inc()
		s.logger.Warn("failed to journal conversation event",
			zap.String("conversation_id", event.ConversationID),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
	}
}
