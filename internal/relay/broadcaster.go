package relay

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/pkg/logger"
	"github.com/capitalize-ai/livechat-relay/pkg/metrics"
)

// MembershipFilter decides whether a connection takes part in a conversation.
type MembershipFilter interface {
	IsMember(conn Conn, conversationID string) bool
}

// MembershipFunc adapts a function to MembershipFilter.
type MembershipFunc func(conn Conn, conversationID string) bool

// IsMember calls f.
func (f MembershipFunc) IsMember(conn Conn, conversationID string) bool {
	return f(conn, conversationID)
}

// AllConnections treats every open bound connection as a member of every
// conversation. This is the unscoped fan-out the chat widgets and agent
// consoles currently rely on.
var AllConnections MembershipFilter = MembershipFunc(func(Conn, string) bool { return true })

// Broadcaster fans conversation events out to live connections.
type Broadcaster struct {
	registry   *Registry
	membership MembershipFilter
	logger     *logger.Logger
}

// NewBroadcaster creates a broadcaster. A nil filter means AllConnections.
func NewBroadcaster(registry *Registry, membership MembershipFilter, log *logger.Logger) *Broadcaster {
	if membership == nil {
		membership = AllConnections
	}
	return &Broadcaster{
		registry:   registry,
		membership: membership,
		logger:     log,
	}
}

// Broadcast delivers event to every member connection of conversationID.
// A failed send is logged and never stops delivery to the remaining connections.
func (b *Broadcaster) Broadcast(ctx context.Context, conversationID string, event Event) {
	_, span := tracer.Start(ctx, "relay.broadcast", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("event.type", string(event.EventType())),
	))
	defer span.End()

	eventType := string(event.EventType())

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to serialize broadcast event",
			zap.String("conversation_id", conversationID),
			zap.String("event", eventType),
			zap.Error(err),
		)
		return
	}

	var recipients []Conn
	for _, c := range b.registry.Snapshot() {
		if b.membership.IsMember(c, conversationID) {
			recipients = append(recipients, c)
		}
	}
	metrics.BroadcastRecipients.Observe(float64(len(recipients)))
	span.SetAttributes(attribute.Int("broadcast.recipients", len(recipients)))

	failed := 0
	for _, c := range recipients {
		if err := c.Send(data); err != nil {
			failed++
			metrics.BroadcastSends.WithLabelValues(eventType, "failed").Inc()
			b.logger.Warn("broadcast delivery failed",
				zap.String("conversation_id", conversationID),
				zap.String("event", eventType),
				zap.String("conn_id", c.ID()),
				zap.Error(err),
			)
			if errors.Is(err, ErrConnClosed) {
				b.registry.Unbind(c)
			}
			continue
		}
		metrics.BroadcastSends.WithLabelValues(eventType, "ok").Inc()
	}

	b.logger.Debug("broadcast complete",
		zap.String("conversation_id", conversationID),
		zap.String("event", eventType),
		zap.Int("recipients", len(recipients)),
		zap.Int("failed", failed),
	)
}
