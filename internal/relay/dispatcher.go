package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/model"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
	"github.com/capitalize-ai/livechat-relay/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/livechat-relay/internal/relay")

// presenceTimeout bounds best-effort presence updates.
const presenceTimeout = 2 * time.Second

// MessageStore persists chat messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error)
}

// ConversationStore persists conversation status changes.
type ConversationStore interface {
	UpdateConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus, actorID string) error
}

// Authenticator resolves the identity an auth frame may bind to.
type Authenticator interface {
	Authenticate(ctx context.Context, userID, token string) (string, error)
}

// AuthError is returned by an Authenticator that rejects a credential.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// TrustFrameUser accepts the userId of the auth frame as-is.
type TrustFrameUser struct{}

// Authenticate returns userID unchanged.
func (TrustFrameUser) Authenticate(_ context.Context, userID, _ string) (string, error) {
	if userID == "" {
		return "", &AuthError{Reason: "missing userId"}
	}
	return userID, nil
}

// Responder produces an automatic reply to a persisted message. It returns
// nil without error when no reply is due.
type Responder interface {
	Respond(ctx context.Context, msg *model.Message) (*model.Message, error)
}

// Presence records which users hold a live connection.
type Presence interface {
	Online(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
	// Refresh extends the record of userID while connID still owns it.
	Refresh(ctx context.Context, userID, connID string) error
}

// Options configures a Dispatcher.
type Options struct {
	Registry      *Registry
	Broadcaster   *Broadcaster
	Messages      MessageStore
	Conversations ConversationStore

	// Optional collaborators.
	Authenticator Authenticator
	Responder     Responder
	Presence      Presence

	// PresenceRefresh is how often a bound connection renews its presence
	// record. It must be shorter than the presence TTL; zero disables it.
	PresenceRefresh time.Duration

	// PersistTimeout bounds each persistence call; zero waits indefinitely.
	PersistTimeout time.Duration

	Logger *logger.Logger
}

// Dispatcher decodes inbound frames and routes them to the registry,
// the persistence collaborators and the broadcaster.
type Dispatcher struct {
	registry        *Registry
	broadcaster     *Broadcaster
	messages        MessageStore
	conversations   ConversationStore
	authenticator   Authenticator
	responder       Responder
	presence        Presence
	presenceRefresh time.Duration
	persistTimeout  time.Duration
	logger          *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Authenticator == nil {
		opts.Authenticator = TrustFrameUser{}
	}
	return &Dispatcher{
		registry:        opts.Registry,
		broadcaster:     opts.Broadcaster,
		messages:        opts.Messages,
		conversations:   opts.Conversations,
		authenticator:   opts.Authenticator,
		responder:       opts.Responder,
		presence:        opts.Presence,
		presenceRefresh: opts.PresenceRefresh,
		persistTimeout:  opts.PersistTimeout,
		logger:          opts.Logger,
	}
}

// Serve runs a websocket client until it disconnects, then unbinds it.
func (d *Dispatcher) Serve(ctx context.Context, c *Client) {
	metrics.IncrementConnections()
	defer metrics.DecrementConnections()

	c.logger.Info("client connected")
	defer d.Disconnect(c)

	if d.presence != nil && d.presenceRefresh > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go d.keepPresence(ctx, c, stop)
	}

	if err := c.Run(ctx, func(ctx context.Context, data []byte) {
		d.HandleFrame(ctx, c, data)
	}); err != nil {
		c.logger.Debug("client run ended with error", zap.Error(err))
	}
}

// keepPresence renews the presence record of conn's user until stop closes.
func (d *Dispatcher) keepPresence(ctx context.Context, conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(d.presenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshPresence(ctx, conn)
		}
	}
}

func (d *Dispatcher) refreshPresence(ctx context.Context, conn Conn) {
	userID, ok := d.registry.UserOf(conn)
	if !ok {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	if err := d.presence.Refresh(pctx, userID, conn.ID()); err != nil {
		d.logger.Warn("failed to refresh presence", zap.String("user_id", userID), zap.Error(err))
	}
}

// Disconnect removes conn from the registry. Serve calls it exactly once per
// connection; further calls are no-ops.
func (d *Dispatcher) Disconnect(conn Conn) {
	userID, ok := d.registry.Unbind(conn)
	if !ok {
		d.logger.Info("client disconnected", zap.String("conn_id", conn.ID()))
		return
	}

	d.logger.Info("client disconnected",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", userID),
	)

	if d.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := d.presence.Offline(ctx, userID, conn.ID()); err != nil {
			d.logger.Warn("failed to clear presence", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// HandleFrame processes one inbound frame from conn. Every failure is
// reported to conn alone and never escapes this call.
func (d *Dispatcher) HandleFrame(ctx context.Context, conn Conn, data []byte) {
	start := time.Now()
	frameType := "invalid"
	result := "ok"

	ctx, span := tracer.Start(ctx, "relay.frame", trace.WithAttributes(
		attribute.String("conn.id", conn.ID()),
	))
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			d.logger.Error("frame handler panicked",
				zap.String("conn_id", conn.ID()),
				zap.String("type", frameType),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			d.reply(conn, Error(errMsgInternal))
		}
		span.SetAttributes(attribute.String("frame.type", frameType), attribute.String("frame.result", result))
		span.End()
		metrics.RecordFrame(frameType, result, time.Since(start).Seconds())
	}()

	frame, err := DecodeFrame(data)
	if err != nil {
		result = "rejected"
		span.SetStatus(codes.Error, "invalid frame")
		d.logger.Info("rejected inbound frame", zap.String("conn_id", conn.ID()), zap.Error(err))
		d.reply(conn, Error(errMsgInvalidFormat))
		return
	}
	frameType = string(frame.Type())

	if err := d.dispatch(ctx, conn, frame); err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, conn Conn, frame InboundFrame) error {
	switch f := frame.(type) {
	case AuthFrame:
		return d.handleAuth(ctx, conn, f)
	case MessageFrame:
		return d.handleMessage(ctx, conn, f)
	case TakeoverFrame:
		return d.handleTakeover(ctx, conn, f)
	default:
		d.reply(conn, Error(errMsgInvalidFormat))
		return fmt.Errorf("%w: unhandled frame %T", ErrInvalidFrame, frame)
	}
}

func (d *Dispatcher) handleAuth(ctx context.Context, conn Conn, f AuthFrame) error {
	userID, err := d.authenticator.Authenticate(ctx, f.UserID, f.Token)
	if err != nil {
		d.logger.Info("auth frame rejected", zap.String("conn_id", conn.ID()), zap.Error(err))
		d.reply(conn, Error(errMsgAuthFailed))
		return err
	}

	if bound, ok := d.registry.UserOf(conn); ok && bound != userID {
		d.reply(conn, Error(errMsgAlreadyBound))
		return fmt.Errorf("connection already bound to %q", bound)
	}

	d.registry.Bind(userID, conn)
	d.logger.Info("connection bound",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", userID),
	)

	if d.presence != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
		defer cancel()
		if err := d.presence.Online(pctx, userID, conn.ID()); err != nil {
			d.logger.Warn("failed to record presence", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) handleMessage(ctx context.Context, conn Conn, f MessageFrame) error {
	if _, err := d.PostMessage(ctx, f.ConversationID, f.Content, f.MessageType); err != nil {
		d.logger.Error("failed to persist message",
			zap.String("conn_id", conn.ID()),
			zap.String("conversation_id", f.ConversationID),
			zap.Error(err),
		)
		d.reply(conn, Error(errMsgSaveMessage))
		return err
	}
	return nil
}

// PostMessage persists a message and broadcasts it. Nothing is broadcast if
// persistence fails. Customer messages may trigger a bot reply.
func (d *Dispatcher) PostMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error) {
	pctx, cancel := d.persistContext(ctx)
	msg, err := d.messages.AppendMessage(pctx, conversationID, content, sender)
	cancel()
	if err != nil {
		return nil, err
	}

	d.broadcaster.Broadcast(ctx, conversationID, NewMessage(msg))

	if d.responder != nil && msg.Type == model.SenderUser {
		d.autoReply(ctx, msg)
	}
	return msg, nil
}

func (d *Dispatcher) autoReply(ctx context.Context, msg *model.Message) {
	reply, err := d.responder.Respond(ctx, msg)
	if err != nil {
		d.logger.Warn("auto reply failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
		return
	}
	if reply == nil {
		return
	}
	d.broadcaster.Broadcast(ctx, reply.ConversationID, NewMessage(reply))
}

func (d *Dispatcher) handleTakeover(ctx context.Context, conn Conn, f TakeoverFrame) error {
	if err := d.Takeover(ctx, f.ConversationID, f.UserID); err != nil {
		d.logger.Error("failed to take over conversation",
			zap.String("conn_id", conn.ID()),
			zap.String("conversation_id", f.ConversationID),
			zap.String("agent_id", f.UserID),
			zap.Error(err),
		)
		d.reply(conn, Error(errMsgUpdateConversation))
		return err
	}
	return nil
}

// Takeover transfers a conversation to agentID and broadcasts the update.
// Nothing is broadcast if the status update fails.
func (d *Dispatcher) Takeover(ctx context.Context, conversationID, agentID string) error {
	pctx, cancel := d.persistContext(ctx)
	err := d.conversations.UpdateConversationStatus(pctx, conversationID, model.StatusTransferred, agentID)
	cancel()
	if err != nil {
		return err
	}

	d.logger.Info("conversation taken over",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", agentID),
	)
	d.broadcaster.Broadcast(ctx, conversationID, ConversationUpdate(conversationID, model.StatusTransferred, agentID))
	return nil
}

func (d *Dispatcher) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.persistTimeout > 0 {
		return context.WithTimeout(ctx, d.persistTimeout)
	}
	return context.WithCancel(ctx)
}

// reply sends an event to a single connection.
func (d *Dispatcher) reply(conn Conn, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("failed to serialize reply", zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil && !errors.Is(err, ErrConnClosed) {
		d.logger.Warn("failed to send reply",
			zap.String("conn_id", conn.ID()),
			zap.String("event", string(event.EventType())),
			zap.Error(err),
		)
	}
}
