package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/llm"
	"github.com/capitalize-ai/livechat-relay/internal/model"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
	"github.com/capitalize-ai/livechat-relay/pkg/metrics"
)

const (
	historyLimit        = 20
	defaultSystemPrompt = "You are a helpful customer support assistant. Answer briefly and politely. " +
		"If you cannot help, tell the customer a human agent can take over."
)

// AutoReplyConfig configures the support bot.
type AutoReplyConfig struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// AutoReplyService answers customer messages with an LLM until a human
// agent takes the conversation over.
type AutoReplyService struct {
	conversations *ConversationService
	messages      *MessageService
	llmClient     llm.Client
	cfg           AutoReplyConfig
	logger        *logger.Logger
}

// NewAutoReplyService creates the support bot.
func NewAutoReplyService(
	conversations *ConversationService,
	messages *MessageService,
	llmClient llm.Client,
	cfg AutoReplyConfig,
	log *logger.Logger,
) *AutoReplyService {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &AutoReplyService{
		conversations: conversations,
		messages:      messages,
		llmClient:     llmClient,
		cfg:           cfg,
		logger:        log,
	}
}

// Respond generates, persists and returns a bot reply to msg. It returns
// nil when the conversation is no longer handled by the bot.
func (s *AutoReplyService) Respond(ctx context.Context, msg *model.Message) (*model.Message, error) {
	conv, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != model.StatusActive {
		return nil, nil
	}

	history, err := s.messages.List(ctx, msg.ConversationID, historyLimit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.llmClient.Complete(ctx, &llm.CompletionRequest{
		Model:     s.cfg.Model,
		System:    s.cfg.SystemPrompt,
		Messages:  toChatMessages(history.Messages),
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		metrics.RecordLLMCompletion(s.modelLabel(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}
	metrics.RecordLLMCompletion(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		s.logger.Warn("LLM returned an empty reply",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("stop_reason", resp.StopReason),
		)
		return nil, nil
	}

	reply, err := s.messages.AppendMessage(ctx, msg.ConversationID, content, model.SenderBot)
	if err != nil {
		return nil, fmt.Errorf("failed to save bot reply: %w", err)
	}

	s.logger.Debug("bot replied",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("provider", s.llmClient.Name()),
		zap.String("model", resp.Model),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return reply, nil
}

func (s *AutoReplyService) modelLabel() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return s.llmClient.Name()
}

// toChatMessages maps chat history onto LLM turns. Customers speak as the
// user; bot and agent replies speak as the assistant. System notices are
// not part of the dialogue.
func toChatMessages(history []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(history))
	for _, m := range history {
		switch m.Type {
		case model.SenderUser:
			out = append(out, llm.ChatMessage{Role: llm.RoleUser, Content: m.Content})
		case model.SenderBot, model.SenderAgent:
			out = append(out, llm.ChatMessage{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return out
}
