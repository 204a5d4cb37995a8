package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/capitalize-ai/livechat-relay/internal/middleware"
	"github.com/capitalize-ai/livechat-relay/internal/model"
)

// FrameType is the "type" discriminator of a wire frame.
type FrameType string

const (
	FrameAuth     FrameType = "auth"
	FrameMessage  FrameType = "message"
	FrameTakeover FrameType = "takeover"

	FrameNewMessage         FrameType = "new_message"
	FrameConversationUpdate FrameType = "conversation_update"
	FrameError              FrameType = "error"
)

// inboundTypes lists every inbound frame kind the dispatcher must handle.
var inboundTypes = []FrameType{FrameAuth, FrameMessage, FrameTakeover}

// ErrInvalidFrame is returned for malformed or unrecognized inbound frames.
var ErrInvalidFrame = errors.New("invalid frame")

// Error frame texts sent back to the originating connection.
const (
	errMsgInvalidFormat      = "Invalid message format"
	errMsgAuthFailed         = "Authentication failed"
	errMsgAlreadyBound       = "Connection already authenticated"
	errMsgSaveMessage        = "Failed to save message"
	errMsgUpdateConversation = "Failed to update conversation"
	errMsgInternal           = "Internal server error"
)

// InboundFrame is one decoded client frame. The set of implementations is closed.
type InboundFrame interface {
	Type() FrameType
	inbound()
}

// AuthFrame binds the connection to a user.
type AuthFrame struct {
	UserID string
	Token  string
}

// MessageFrame carries a chat message to persist and broadcast.
type MessageFrame struct {
	ConversationID string
	Content        string
	MessageType    model.SenderType
}

// TakeoverFrame hands a conversation over to a human agent.
type TakeoverFrame struct {
	ConversationID string
	UserID         string
}

func (AuthFrame) Type() FrameType     { return FrameAuth }
func (MessageFrame) Type() FrameType  { return FrameMessage }
func (TakeoverFrame) Type() FrameType { return FrameTakeover }

func (AuthFrame) inbound()     {}
func (MessageFrame) inbound()  {}
func (TakeoverFrame) inbound() {}

type wireFrame struct {
	Type           FrameType `json:"type"`
	UserID         string    `json:"userId"`
	Token          string    `json:"token"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	ConversationID string    `json:"conversationId"`
}

// DecodeFrame parses and validates one inbound frame.
func DecodeFrame(data []byte) (InboundFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch w.Type {
	case FrameAuth:
		if w.UserID == "" && w.Token == "" {
			return nil, fmt.Errorf("%w: auth requires userId", ErrInvalidFrame)
		}
		if w.UserID != "" {
			if err := middleware.ValidateUserID(w.UserID); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
			}
		}
		return AuthFrame{UserID: w.UserID, Token: w.Token}, nil

	case FrameMessage:
		if err := middleware.ValidateConversationID(w.ConversationID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		if err := middleware.ValidateMessageContent(w.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		sender := model.SenderType(w.MessageType)
		if !sender.Valid() {
			return nil, fmt.Errorf("%w: unknown messageType %q", ErrInvalidFrame, w.MessageType)
		}
		return MessageFrame{
			ConversationID: w.ConversationID,
			Content:        w.Content,
			MessageType:    sender,
		}, nil

	case FrameTakeover:
		if err := middleware.ValidateConversationID(w.ConversationID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		if err := middleware.ValidateUserID(w.UserID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return TakeoverFrame{ConversationID: w.ConversationID, UserID: w.UserID}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, w.Type)
	}
}

// Event is an outbound frame.
type Event interface {
	EventType() FrameType
}

// NewMessageEvent announces a persisted message.
type NewMessageEvent struct {
	Type    FrameType      `json:"type"`
	Message *model.Message `json:"message"`
}

// ConversationUpdateEvent announces a conversation status change.
type ConversationUpdateEvent struct {
	Type           FrameType                `json:"type"`
	ConversationID string                   `json:"conversationId"`
	Status         model.ConversationStatus `json:"status"`
	AgentID        string                   `json:"agentId"`
}

// ErrorEvent reports a failure to the originating connection only.
type ErrorEvent struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

func (NewMessageEvent) EventType() FrameType         { return FrameNewMessage }
func (ConversationUpdateEvent) EventType() FrameType { return FrameConversationUpdate }
func (ErrorEvent) EventType() FrameType              { return FrameError }

// NewMessage builds a new_message event.
func NewMessage(msg *model.Message) NewMessageEvent {
	return NewMessageEvent{Type: FrameNewMessage, Message: msg}
}

// ConversationUpdate builds a conversation_update event.
func ConversationUpdate(conversationID string, status model.ConversationStatus, agentID string) ConversationUpdateEvent {
	return ConversationUpdateEvent{
		Type:           FrameConversationUpdate,
		ConversationID: conversationID,
		Status:         status,
		AgentID:        agentID,
	}
}

// Error builds an error event.
func Error(message string) ErrorEvent {
	return ErrorEvent{Type: FrameError, Message: message}
}
