package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/livechat-relay/internal/model"
)

// fakeConn records frames sent to it.
type fakeConn struct {
	id      string
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
	sends   int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return ErrConnClosed
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

// decoded returns every received frame as a generic map.
func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("frame is not JSON: %q", f)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) framesOfType(t *testing.T, typ FrameType) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range c.decoded(t) {
		if m["type"] == string(typ) {
			out = append(out, m)
		}
	}
	return out
}

// fakeStore implements MessageStore and ConversationStore.
type fakeStore struct {
	mu            sync.Mutex
	appendErr     error
	statusErr     error
	appended      []model.Message
	statusUpdates []statusUpdate
}

type statusUpdate struct {
	conversationID string
	status         model.ConversationStatus
	actorID        string
}

func (s *fakeStore) AppendMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Type:           sender,
		CreatedAt:      time.Now(),
	}
	s.appended = append(s.appended, msg)
	return &msg, nil
}

func (s *fakeStore) UpdateConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	s.statusUpdates = append(s.statusUpdates, statusUpdate{conversationID, status, actorID})
	return nil
}

// fakePresence records presence calls.
type fakePresence struct {
	mu        sync.Mutex
	online    map[string]string
	offline   []string
	refreshed []string
}

func (p *fakePresence) Online(ctx context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = make(map[string]string)
	}
	p.online[userID] = connID
	return nil
}

func (p *fakePresence) Offline(ctx context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = append(p.offline, userID+"/"+connID)
	if p.online[userID] == connID {
		delete(p.online, userID)
	}
	return nil
}

func (p *fakePresence) Refresh(ctx context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = append(p.refreshed, userID+"/"+connID)
	return nil
}

func (p *fakePresence) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refreshed)
}

var errBoom = errors.New("boom")
