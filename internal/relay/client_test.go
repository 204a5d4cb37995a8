package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/livechat-relay/internal/middleware"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
)

func newWSServer(t *testing.T, tr *testRelay) *httptest.Server {
	t.Helper()
	return newWSServerWithOptions(t, tr, ClientOptions{SendBuffer: 16, MaxFrameBytes: 4096})
}

func newWSServerWithOptions(t *testing.T, tr *testRelay, opts ClientOptions) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(ws, opts, logger.NewNop())
		tr.dispatcher.Serve(r.Context(), c)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame is not JSON: %s", data)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketEndToEnd(t *testing.T) {
	tr := newTestRelay()
	srv := newWSServer(t, tr)

	alice := dial(t, srv)
	bob := dial(t, srv)

	alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","userId":"alice"}`))
	bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","userId":"bob"}`))
	waitFor(t, func() bool { return tr.registry.Len() == 2 })

	alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":"hello","messageType":"USER","conversationId":"c1"}`))

	for name, ws := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		frame := readFrame(t, ws)
		if frame["type"] != "new_message" {
			t.Fatalf("%s: expected new_message, got %v", name, frame)
		}
		msg := frame["message"].(map[string]any)
		if msg["content"] != "hello" || msg["conversationId"] != "c1" {
			t.Fatalf("%s: unexpected message %v", name, msg)
		}
	}

	bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))
	if frame := readFrame(t, bob); frame["type"] != "error" || frame["message"] != "Invalid message format" {
		t.Fatalf("expected error frame, got %v", frame)
	}
}

func TestWebsocketCloseUnbinds(t *testing.T) {
	tr := newTestRelay()
	srv := newWSServer(t, tr)

	ws := dial(t, srv)
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","userId":"u1"}`))
	waitFor(t, func() bool { return tr.registry.Len() == 1 })

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()

	waitFor(t, func() bool { return tr.registry.Len() == 0 })
	waitFor(t, func() bool {
		tr.presence.mu.Lock()
		defer tr.presence.mu.Unlock()
		return len(tr.presence.offline) == 1
	})
}

func TestWebsocketRefreshesPresence(t *testing.T) {
	tr := newTestRelay(func(o *Options) { o.PresenceRefresh = 10 * time.Millisecond })
	srv := newWSServer(t, tr)

	ws := dial(t, srv)
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","userId":"u1"}`))

	waitFor(t, func() bool { return tr.presence.refreshCount() >= 2 })
}

func TestWebsocketOversizedFrameClosesConnection(t *testing.T) {
	tr := newTestRelay()
	srv := newWSServer(t, tr)

	ws := dial(t, srv)
	big := `{"type":"message","content":"` + strings.Repeat("x", 8192) + `","messageType":"USER","conversationId":"c1"}`
	ws.WriteMessage(websocket.TextMessage, []byte(big))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected the server to close an oversized connection")
	}
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()
	if len(tr.store.appended) != 0 {
		t.Fatalf("oversized frame must not be persisted")
	}
}

func TestDefaultFrameLimitFitsMaximumContent(t *testing.T) {
	if DefaultMaxFrameBytes < middleware.MaxContentBytes+middleware.MaxFrameOverhead {
		t.Fatalf("DefaultMaxFrameBytes %d cannot carry %d bytes of content", DefaultMaxFrameBytes, middleware.MaxContentBytes)
	}
}

func TestWebsocketLargeContentAtDefaultFrameLimit(t *testing.T) {
	tr := newTestRelay()
	srv := newWSServerWithOptions(t, tr, ClientOptions{})

	ws := dial(t, srv)
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","userId":"u1"}`))
	waitFor(t, func() bool { return tr.registry.Len() == 1 })

	frame := func(n int) []byte {
		return []byte(`{"type":"message","content":"` + strings.Repeat("x", n) + `","messageType":"USER","conversationId":"c1"}`)
	}

	ws.WriteMessage(websocket.TextMessage, frame(middleware.MaxContentBytes))
	got := readFrame(t, ws)
	if got["type"] != "new_message" {
		t.Fatalf("expected new_message, got type %v", got["type"])
	}
	if content := got["message"].(map[string]any)["content"].(string); len(content) != middleware.MaxContentBytes {
		t.Fatalf("content length = %d, want %d", len(content), middleware.MaxContentBytes)
	}

	// Over the content limit but under the frame limit: an error frame, and
	// the connection stays usable.
	ws.WriteMessage(websocket.TextMessage, frame(middleware.MaxContentBytes+1))
	if got := readFrame(t, ws); got["type"] != "error" || got["message"] != "Invalid message format" {
		t.Fatalf("expected error frame, got %v", got)
	}

	ws.WriteMessage(websocket.TextMessage, frame(5))
	if got := readFrame(t, ws); got["type"] != "new_message" {
		t.Fatalf("connection should stay open after a rejected frame, got %v", got)
	}
}

func TestClientRunStopsOnContextCancel(t *testing.T) {
	tr := newTestRelay()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(ws, ClientOptions{}, logger.NewNop())
		tr.dispatcher.Serve(ctx, c)
		close(served)
	}))
	defer srv.Close()

	ws := dial(t, srv)
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","userId":"u1"}`))
	waitFor(t, func() bool { return tr.registry.Len() == 1 })

	cancel()

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after context cancel")
	}
	if tr.registry.Len() != 0 {
		t.Fatalf("connection should be unbound after shutdown")
	}
}
