// Package handler provides HTTP handlers for the relay's REST API and websocket endpoint.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/middleware"
	"github.com/capitalize-ai/livechat-relay/internal/model"
	"github.com/capitalize-ai/livechat-relay/internal/service"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
)

// Relay is the part of the relay dispatcher the REST API drives, so HTTP
// callers reach sockets through the same persist-then-broadcast path.
type Relay interface {
	Takeover(ctx context.Context, conversationID, agentID string) error
	PostMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error)
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	relay   Relay
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, relay Relay, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		relay:   relay,
		logger:  log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.service.Create(r.Context(), &req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to create conversation", zap.Error(err))
			writeError(w, status, "failed to create conversation")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(r.Context(), conversationID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "conversation not found")
			return
		}
		h.logger.Error("failed to get conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, status, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Takeover handles POST /api/v1/conversations/:id/takeover. The acting
// agent is the authenticated subject.
func (h *ConversationHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	agentID := middleware.GetUserID(ctx)

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if agentID == "" {
		writeError(w, http.StatusUnauthorized, "token has no subject")
		return
	}

	if err := h.relay.Takeover(ctx, conversationID, agentID); err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "conversation not found")
			return
		}
		h.logger.Error("failed to take over conversation",
			zap.String("conversation_id", conversationID),
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		writeError(w, status, "failed to update conversation")
		return
	}

	writeJSON(w, http.StatusOK, &model.TakeoverResponse{
		ConversationID: conversationID,
		Status:         model.StatusTransferred,
		AgentID:        agentID,
	})
}
