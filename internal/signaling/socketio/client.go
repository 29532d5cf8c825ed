// Package socketio adapts a socket.io room server to the signaling channel
// contract: requests map to acks, fire-and-forget maps to emit.
//
// The connection speaks Engine.IO protocol 3 (socket.io v2). Servers on
// socket.io v3 or v4 must be started with allowEIO3: true.
package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gosocketio "github.com/graarh/golang-socketio"
	"github.com/graarh/golang-socketio/transport"
	"github.com/ubaish01/commune--client/internal/metrics"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/signaling"
)

// pushEvents are forwarded from the socket.io connection to the router.
var pushEvents = []string{
	protocol.EventNewProducer,
	protocol.EventProducerClosed,
	protocol.EventConnectionSuccess,
}

// Client is a signaling channel backed by a socket.io connection.
type Client struct {
	*signaling.Router

	conn    *gosocketio.Client
	timeout time.Duration
	log     *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// payload wraps a raw JSON argument.
type payload json.RawMessage

func (p payload) Decode(v any) error {
	if v == nil || len(p) == 0 {
		return nil
	}
	return json.Unmarshal(p, v)
}

// Dial connects to serverURL (http, https, ws or wss).
func Dial(ctx context.Context, serverURL string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = signaling.DefaultRequestTimeout
	}

	endpoint, err := endpointURL(serverURL)
	if err != nil {
		return nil, err
	}

	type result struct {
		conn *gosocketio.Client
		err  error
	}
	tr := &frameTransport{WebsocketTransport: transport.GetDefaultWebsocketTransport()}
	dialed := make(chan result, 1)
	go func() {
		conn, err := gosocketio.Dial(endpoint, tr)
		dialed <- result{conn: conn, err: err}
	}()

	var conn *gosocketio.Client
	select {
	case res := <-dialed:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect: %w", res.err)
		}
		conn = res.conn
	case <-ctx.Done():
		go func() {
			if res := <-dialed; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}

	log = log.With("module", "signaling", "transport", "socketio")
	r := signaling.NewRouter(log)
	r.Retain(protocol.EventConnectionSuccess)

	c := &Client{
		Router:  r,
		conn:    conn,
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}

	for _, event := range pushEvents {
		event := event
		if err := conn.On(event, func(_ *gosocketio.Channel, raw json.RawMessage) {
			metrics.SignalingPushesTotal.WithLabelValues(event).Inc()
			c.Dispatch(event, payload(raw))
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", event, err)
		}
	}
	if err := conn.On(gosocketio.OnDisconnection, func(*gosocketio.Channel) {
		c.log.Debug("disconnected")
		c.shutdown()
	}); err != nil {
		conn.Close()
		return nil, err
	}
	tr.conn.release()

	return c, nil
}

// endpointURL turns a server address into the socket.io websocket endpoint.
func endpointURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	secure := u.Scheme == "https" || u.Scheme == "wss"
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}

	port := 80
	if secure {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid port in %q: %w", serverURL, err)
		}
	}

	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		host = "[" + host + "]"
	}
	return gosocketio.GetUrl(host, port, secure), nil
}

// Request emits event with an ack callback and decodes the ack argument
// into response.
func (c *Client) Request(ctx context.Context, event string, body, response any) error {
	select {
	case <-c.done:
		return signaling.ErrClosed
	default:
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	type result struct {
		raw string
		err error
	}
	acked := make(chan result, 1)
	start := time.Now()
	go func() {
		raw, err := c.conn.Ack(event, body, timeout)
		acked <- result{raw: raw, err: err}
	}()

	select {
	case res := <-acked:
		metrics.SignalingRequestDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
		if res.err != nil {
			metrics.SignalingRequestsTotal.WithLabelValues(event, "error").Inc()
			return fmt.Errorf("%s: %w", event, res.err)
		}
		metrics.SignalingRequestsTotal.WithLabelValues(event, "ok").Inc()
		if err := payload(res.raw).Decode(response); err != nil {
			return fmt.Errorf("decode %s response: %w", event, err)
		}
		return nil
	case <-ctx.Done():
		metrics.SignalingRequestsTotal.WithLabelValues(event, "timeout").Inc()
		return fmt.Errorf("%s: %w", event, ctx.Err())
	case <-c.done:
		return signaling.ErrClosed
	}
}

// Emit sends event without an ack.
func (c *Client) Emit(event string, body any) error {
	return c.conn.Emit(event, body)
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Router.Close()
	})
}

// Close closes the socket.io connection.
func (c *Client) Close() error {
	c.shutdown()
	c.conn.Close()
	return nil
}

// frameTransport is the default websocket transport with every connection
// wrapped in a frameConn.
type frameTransport struct {
	*transport.WebsocketTransport
	conn *frameConn
}

func (t *frameTransport) Connect(url string) (transport.Connection, error) {
	conn, err := t.WebsocketTransport.Connect(url)
	if err != nil {
		return nil, err
	}
	t.conn = &frameConn{Connection: conn, ready: make(chan struct{})}
	return t.conn, nil
}

// frameConn holds inbound frames until release, so pushes sent right after
// the handshake reach the handlers subscribed by Dial.
type frameConn struct {
	transport.Connection

	ready     chan struct{}
	readyOnce sync.Once
}

func (c *frameConn) GetMessage() (string, error) {
	<-c.ready
	return c.Connection.GetMessage()
}

func (c *frameConn) WriteMessage(frame string) error {
	return c.Connection.WriteMessage(bareEventFrame(frame))
}

func (c *frameConn) Close() {
	c.release()
	c.Connection.Close()
}

func (c *frameConn) release() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// bareEventFrame drops the separator golang-socketio leaves after the event
// name when an event has no arguments: 42N["event",] becomes 42N["event"].
func bareEventFrame(frame string) string {
	if strings.HasPrefix(frame, "42") && strings.HasSuffix(frame, ",]") {
		return strings.TrimSuffix(frame, ",]") + "]"
	}
	return frame
}
