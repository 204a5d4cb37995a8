package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/middleware"
	"github.com/capitalize-ai/livechat-relay/internal/relay"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
)

// PresenceReader answers whether a user holds a live connection.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// LocalPresence answers from this process's registry. Used when no shared
// presence store is configured.
type LocalPresence struct {
	Registry *relay.Registry
}

// IsOnline reports whether userID is bound on this instance.
func (p LocalPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	conn, ok := p.Registry.Lookup(userID)
	return ok && conn.Open(), nil
}

// PresenceHandler handles presence endpoints.
type PresenceHandler struct {
	presence PresenceReader
	logger   *logger.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(presence PresenceReader, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, logger: log}
}

// Get handles GET /api/v1/presence/:userId
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if err := middleware.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	online, err := h.presence.IsOnline(r.Context(), userID)
	if err != nil {
		h.logger.Error("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "presence lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"online": online,
	})
}
