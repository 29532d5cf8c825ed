package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ubaish01/commune--client/internal/dns"
	"github.com/ubaish01/commune--client/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024

	DefaultRequestTimeout = 10 * time.Second
)

// ClientOptions configures a websocket signaling client.
type ClientOptions struct {
	// Codec selects the envelope format. Defaults to JSON.
	Codec Codec
	// RequestTimeout bounds a request when the caller's context has no
	// deadline.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Client is a request/ack signaling channel over one websocket connection.
type Client struct {
	*Router

	conn      *websocket.Conn
	serverURL string
	codec     Codec
	timeout   time.Duration
	log       *slog.Logger

	outgoing chan []byte
	done     chan struct{}

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool
	err     error
}

// NewClient creates a new signaling client.
func NewClient(serverURL string, opts ClientOptions) *Client {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With("module", "signaling", "codec", opts.Codec.Name())

	r := NewRouter(log)
	r.Retain(connectionSuccessEvent)

	return &Client{
		Router:    r,
		serverURL: serverURL,
		codec:     opts.Codec,
		timeout:   opts.RequestTimeout,
		log:       log,
		outgoing:  make(chan []byte, 16),
		done:      make(chan struct{}),
		pending:   make(map[string]chan *Message),
	}
}

// connectionSuccessEvent is retained so a session created after the
// connection is up still observes it.
const connectionSuccessEvent = "connection-success"

// Connect establishes the WebSocket connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.Dialer()

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.log.Debug("connected", "url", u.Redacted())
	return nil
}

// readPump reads frames, resolves pending requests and dispatches pushes.
func (c *Client) readPump() {
	defer c.shutdown(ErrClosed)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", "error", err)
			continue
		}

		if msg.Ack {
			c.resolve(msg)
			continue
		}

		metrics.SignalingPushesTotal.WithLabelValues(msg.Event).Inc()
		c.Dispatch(msg.Event, msg)
	}
}

// writePump writes queued frames and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := c.codec.FrameType()
	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.log.Warn("write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Request sends event and waits for its acknowledgement. The answer payload
// is decoded into response when it is non-nil.
func (c *Client) Request(ctx context.Context, event string, payload, response any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := uuid.NewString()
	reply := make(chan *Message, 1)

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := c.send(ctx, &Message{Event: event, ID: id, Payload: payload}); err != nil {
		metrics.SignalingRequestsTotal.WithLabelValues(event, "error").Inc()
		return err
	}

	select {
	case msg, ok := <-reply:
		metrics.SignalingRequestDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
		if !ok {
			metrics.SignalingRequestsTotal.WithLabelValues(event, "error").Inc()
			return c.closedErr()
		}
		if msg.Error != "" {
			metrics.SignalingRequestsTotal.WithLabelValues(event, "error").Inc()
			return &ServerError{Event: event, Message: msg.Error}
		}
		metrics.SignalingRequestsTotal.WithLabelValues(event, "ok").Inc()
		if err := msg.Decode(response); err != nil {
			return fmt.Errorf("decode %s response: %w", event, err)
		}
		return nil

	case <-ctx.Done():
		metrics.SignalingRequestsTotal.WithLabelValues(event, "timeout").Inc()
		return fmt.Errorf("%s: %w", event, ctx.Err())
	}
}

// Emit sends event without waiting for an answer.
func (c *Client) Emit(event string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return c.send(ctx, &Message{Event: event, Payload: payload})
}

func (c *Client) send(ctx context.Context, msg *Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	data, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Event, err)
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) resolve(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, ok := c.pending[msg.ID]
	if !ok {
		c.log.Debug("ack for unknown request", "event", msg.Event, "id", msg.ID)
		return
	}
	delete(c.pending, msg.ID)
	reply <- msg
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

// shutdown fails every pending request and stops the router.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
	close(c.done)
	c.mu.Unlock()

	c.Router.Close()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}
