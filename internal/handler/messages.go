package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/middleware"
	"github.com/capitalize-ai/livechat-relay/internal/model"
	"github.com/capitalize-ai/livechat-relay/internal/service"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
)

// PostMessageRequest is the body of POST /conversations/:id/messages.
type PostMessageRequest struct {
	Content     string           `json:"content"`
	MessageType model.SenderType `json:"messageType,omitempty"`
}

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	relay          Relay
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, relay Relay, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		relay:          relay,
		logger:         log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	resp, err := h.messageService.List(r.Context(), conversationID, limit)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "conversation not found")
			return
		}
		h.logger.Error("failed to list messages", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, status, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Post handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MessageType == "" {
		req.MessageType = model.SenderAgent
	}
	if !req.MessageType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown messageType")
		return
	}

	msg, err := h.relay.PostMessage(r.Context(), conversationID, req.Content, req.MessageType)
	if err != nil {
		h.logger.Error("failed to post message",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", middleware.GetUserID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
