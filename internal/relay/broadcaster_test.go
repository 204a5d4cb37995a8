package relay

import (
	"context"
	"testing"

	"github.com/capitalize-ai/livechat-relay/internal/model"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
)

func TestBroadcastIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, nil, logger.NewNop())

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = newFakeConn(string(rune('a' + i)))
		r.Bind(conns[i].id+"-user", conns[i])
	}
	conns[2].sendErr = ErrSendBufferFull

	b.Broadcast(context.Background(), "c1", ConversationUpdate("c1", model.StatusTransferred, "agent"))

	for i, c := range conns {
		if c.attempts() != 1 {
			t.Fatalf("conn %d: expected one send attempt, got %d", i, c.attempts())
		}
		if i == 2 {
			continue
		}
		if got := len(c.framesOfType(t, FrameConversationUpdate)); got != 1 {
			t.Fatalf("conn %d: expected one conversation_update, got %d", i, got)
		}
	}
}

func TestBroadcastPrunesClosedConnections(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, nil, logger.NewNop())

	c := newFakeConn("c")
	c.sendErr = ErrConnClosed
	r.Bind("u", c)

	b.Broadcast(context.Background(), "c1", NewMessage(&model.Message{ID: "m1", ConversationID: "c1"}))

	if _, ok := r.Lookup("u"); ok {
		t.Fatalf("connection that reported closed should be pruned")
	}
}

func TestBroadcastMembershipFilter(t *testing.T) {
	r := NewRegistry()
	member := newFakeConn("member")
	outsider := newFakeConn("outsider")
	r.Bind("a", member)
	r.Bind("b", outsider)

	filter := MembershipFunc(func(c Conn, conversationID string) bool {
		return c.ID() == "member" && conversationID == "c1"
	})
	b := NewBroadcaster(r, filter, logger.NewNop())

	b.Broadcast(context.Background(), "c1", NewMessage(&model.Message{ID: "m1", ConversationID: "c1"}))

	if len(member.decoded(t)) != 1 {
		t.Fatalf("member should receive the event")
	}
	if len(outsider.decoded(t)) != 0 {
		t.Fatalf("outsider should not receive the event")
	}
}

func TestBroadcastPreservesPerConnectionOrder(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, nil, logger.NewNop())
	c := newFakeConn("c")
	r.Bind("u", c)

	for _, id := range []string{"m1", "m2", "m3"} {
		b.Broadcast(context.Background(), "c1", NewMessage(&model.Message{ID: id, ConversationID: "c1"}))
	}

	frames := c.framesOfType(t, FrameNewMessage)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		msg := frames[i]["message"].(map[string]any)
		if msg["id"] != want {
			t.Fatalf("frame %d: expected %s, got %v", i, want, msg["id"])
		}
	}
}

func TestBroadcastSkipsUnboundAndClosed(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, nil, logger.NewNop())

	closed := newFakeConn("closed")
	closed.Close()
	r.Bind("u", closed)

	b.Broadcast(context.Background(), "c1", NewMessage(&model.Message{ID: "m1"}))

	if closed.attempts() != 0 {
		t.Fatalf("closed connections are not part of the snapshot")
	}
}
