package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/relay"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
)

// WSHandler upgrades requests into relay connections.
type WSHandler struct {
	ctx        context.Context
	dispatcher *relay.Dispatcher
	upgrader   websocket.Upgrader
	opts       relay.ClientOptions
	logger     *logger.Logger
}

// NewWSHandler creates the websocket endpoint. Connections live until they
// close or ctx is done.
func NewWSHandler(ctx context.Context, dispatcher *relay.Dispatcher, opts relay.ClientOptions, allowedOrigins []string, log *logger.Logger) *WSHandler {
	h := &WSHandler{
		ctx:        ctx,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
	return h
}

// ServeHTTP handles GET /ws
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Info("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	client := relay.NewClient(ws, h.opts, h.logger)
	h.dispatcher.Serve(h.ctx, client)
}

// originAllowed matches origin against patterns that may hold one "*"
// wildcard. Requests without an Origin header come from non-browser clients
// and are allowed.
func originAllowed(origin string, patterns []string) bool {
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" || p == origin {
			return true
		}
		prefix, suffix, ok := strings.Cut(p, "*")
		if ok && len(origin) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
