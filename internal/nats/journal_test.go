package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/livechat-relay/internal/model"
)

type published struct {
	subject string
	payload []byte
}

type fakePublisher struct {
	err  error
	msgs []published
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject, payload})
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.msgs))}, nil
}

func TestSubjects(t *testing.T) {
	if got := MessageSubject("c1", model.SenderAgent); got != "chat.c1.msg.AGENT" {
		t.Fatalf("MessageSubject = %q", got)
	}
	if got := EventSubject("c1", model.StatusTransferred); got != "chat.c1.event.TRANSFERRED" {
		t.Fatalf("EventSubject = %q", got)
	}
}

func TestJournalPublishMessage(t *testing.T) {
	pub := &fakePublisher{}
	j := NewJournalWithPublisher(pub)

	msg := &model.Message{ID: "m1", ConversationID: "c1", Content: "hello", Type: model.SenderUser, CreatedAt: time.Now()}
	seq, err := j.PublishMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}
	if seq != 1 {
		t.Fatalf("sequence = %d, want 1", seq)
	}
	if pub.msgs[0].subject != "chat.c1.msg.USER" {
		t.Fatalf("subject = %q", pub.msgs[0].subject)
	}

	var decoded model.Message
	if err := json.Unmarshal(pub.msgs[0].payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.ID != "m1" || decoded.Content != "hello" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestJournalPublishEvent(t *testing.T) {
	pub := &fakePublisher{}
	j := NewJournalWithPublisher(pub)

	_, err := j.PublishEvent(context.Background(), &model.ConversationEvent{
		ID: "e1", ConversationID: "c1", Status: model.StatusTransferred, ActorID: "agent-1",
	})
	if err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	if pub.msgs[0].subject != "chat.c1.event.TRANSFERRED" {
		t.Fatalf("subject = %q", pub.msgs[0].subject)
	}
}

func TestJournalPublishError(t *testing.T) {
	boom := errors.New("no responders")
	j := NewJournalWithPublisher(&fakePublisher{err: boom})

	_, err := j.PublishMessage(context.Background(), &model.Message{ID: "m1", ConversationID: "c1", Type: model.SenderUser})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}
