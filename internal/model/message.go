// Package model defines data structures for the live-chat relay.
package model

import (
	"time"
)

// SenderType identifies who authored a chat message.
type SenderType string

const (
	SenderUser   SenderType = "USER"
	SenderBot    SenderType = "BOT"
	SenderAgent  SenderType = "AGENT"
	SenderSystem SenderType = "SYSTEM"
)

// Valid reports whether t is one of the known sender types.
func (t SenderType) Valid() bool {
	switch t {
	case SenderUser, SenderBot, SenderAgent, SenderSystem:
		return true
	}
	return false
}

// Message is a persisted chat message. The relay never keeps one beyond a broadcast.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Content        string     `json:"content"`
	Type           SenderType `json:"type"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
}
