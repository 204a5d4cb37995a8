package model

import (
	"time"
)

// ConversationStatus is the handling state of a conversation.
type ConversationStatus string

const (
	// StatusActive means the bot is handling the conversation.
	StatusActive ConversationStatus = "ACTIVE"
	// StatusTransferred means a human agent took the conversation over.
	StatusTransferred ConversationStatus = "TRANSFERRED"
	StatusClosed      ConversationStatus = "CLOSED"
)

// Conversation is the relay-visible shape of a conversation.
type Conversation struct {
	ID        string             `json:"id"`
	Status    ConversationStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ID string `json:"id,omitempty"`
}

// TakeoverResponse is returned by the HTTP takeover endpoint.
type TakeoverResponse struct {
	ConversationID string             `json:"conversationId"`
	Status         ConversationStatus `json:"status"`
	AgentID        string             `json:"agentId"`
}

// ConversationEvent is a journaled status transition.
type ConversationEvent struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversationId"`
	Status         ConversationStatus `json:"status"`
	ActorID        string             `json:"actorId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}
