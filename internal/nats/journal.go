package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/livechat-relay/internal/model"
)

const (
	// StreamName is the name of the live chat stream.
	StreamName = "LIVECHAT"

	// SubjectPrefix is the prefix for all live chat subjects.
	SubjectPrefix = "chat"
)

// Publisher is the subset of jetstream.JetStream the journal writes through.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Journal appends persisted messages and status changes to JetStream so
// other services can replay a conversation.
type Journal struct {
	js Publisher
}

// NewJournal creates a journal on top of a connected client.
func NewJournal(client *Client) *Journal {
	return &Journal{js: client.JetStream()}
}

// NewJournalWithPublisher creates a journal writing through p.
func NewJournalWithPublisher(p Publisher) *Journal {
	return &Journal{js: p}
}

// EnsureStream ensures the live chat stream exists with proper configuration.
func EnsureStream(ctx context.Context, client *Client) error {
	js := client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Live chat messages and conversation status changes",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject for a message.
func MessageSubject(conversationID string, sender model.SenderType) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, sender)
}

// EventSubject returns the subject for a status change.
func EventSubject(conversationID string, status model.ConversationStatus) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationID, status)
}

// PublishMessage journals a persisted message.
func (j *Journal) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := j.js.Publish(ctx, MessageSubject(msg.ConversationID, msg.Type), data, jetstream.WithMsgID(msg.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}
	return ack.Sequence, nil
}

// PublishEvent journals a conversation status change.
func (j *Journal) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := j.js.Publish(ctx, EventSubject(event.ConversationID, event.Status), data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return ack.Sequence, nil
}
