package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// DefaultMaxFrameBytes fits a message frame carrying maximum-size content.
// Larger frames close the connection with 1009 instead of getting an error
// frame.
const DefaultMaxFrameBytes = 128 << 10

// ClientOptions tunes one websocket connection.
type ClientOptions struct {
	SendBuffer int
	// MaxFrameBytes is the read limit; zero means DefaultMaxFrameBytes.
	MaxFrameBytes int64
}

// Client is a websocket connection. Reads happen on the goroutine running
// Run; writes go through a buffered queue drained by a single writer.
type Client struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	opts   ClientOptions
	logger *logger.Logger
}

// NewClient wraps an upgraded websocket connection.
func NewClient(ws *websocket.Conn, opts ClientOptions, log *logger.Logger) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	id := uuid.Must(uuid.NewV7()).String()
	return &Client{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
		logger: log.WithConnection(id, ws.RemoteAddr().String()),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame for the writer. A full queue closes the connection.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn("send buffer full, closing slow connection")
		c.Close()
		return ErrSendBufferFull
	}
}

// Open reports whether Close has not been called yet.
func (c *Client) Open() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close signals the writer to send a close frame and tear the socket down.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// Run pumps frames until the socket closes or ctx is done. handle is called
// serially, in arrival order, for each inbound frame.
func (c *Client) Run(ctx context.Context, handle func(ctx context.Context, data []byte)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	err := c.readPump(ctx, handle)
	c.Close()
	<-writerDone
	return err
}

func (c *Client) readPump(ctx context.Context, handle func(ctx context.Context, data []byte)) error {
	c.ws.SetReadLimit(c.opts.MaxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("websocket read error", zap.Error(err))
				return err
			}
			return nil
		}
		handle(ctx, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes frames queued before Close so a final error frame is not lost.
func (c *Client) flush() {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	for {
		select {
		case frame := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
