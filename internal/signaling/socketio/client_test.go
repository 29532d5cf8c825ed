package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/signaling"
)

// socketServer is a minimal Engine.IO 3 endpoint. It records every frame the
// client writes and answers ack requests for the events in acks.
type socketServer struct {
	*httptest.Server

	acks   map[string]string
	frames chan string
	push   chan string
	hangup chan struct{}
}

func newSocketServer(t *testing.T, acks map[string]string, greeting ...string) *socketServer {
	t.Helper()

	s := &socketServer{
		acks:   acks,
		frames: make(chan string, 32),
		push:   make(chan string, 8),
		hangup: make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		write := func(frame string) {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		write(`0{"sid":"sid-1","upgrades":[],"pingInterval":25000,"pingTimeout":60000}`)
		write("40")
		for _, frame := range greeting {
			write(frame)
		}

		done := make(chan struct{})
		defer close(done)
		incoming := make(chan string)
		go func() {
			defer close(incoming)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				select {
				case incoming <- string(data):
				case <-done:
					return
				}
			}
		}()

		for {
			select {
			case frame, ok := <-incoming:
				if !ok {
					return
				}
				s.frames <- frame
				if reply, ok := s.answer(frame); ok {
					write(reply)
				}
			case frame := <-s.push:
				write(frame)
			case <-s.hangup:
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// answer builds the ack response for a 42N[...] request frame.
func (s *socketServer) answer(frame string) (string, bool) {
	id, args, ok := ackRequest(frame)
	if !ok || len(args) == 0 {
		return "", false
	}
	var event string
	if err := json.Unmarshal(args[0], &event); err != nil {
		return "", false
	}
	reply, ok := s.acks[event]
	if !ok {
		return "", false
	}
	return "43" + id + "[" + reply + "]", true
}

// next returns the next frame the client wrote, skipping pings.
func (s *socketServer) next(t *testing.T) string {
	t.Helper()
	for {
		select {
		case frame := <-s.frames:
			if frame == "2" {
				continue
			}
			return frame
		case <-time.After(2 * time.Second):
			t.Fatal("no frame from client")
			return ""
		}
	}
}

// ackRequest splits 42N[...] into the ack id and its arguments. It fails on
// frames that are not valid JSON arrays.
func ackRequest(frame string) (string, []json.RawMessage, bool) {
	if !strings.HasPrefix(frame, "42") {
		return "", nil, false
	}
	rest := frame[2:]
	i := strings.IndexByte(rest, '[')
	if i <= 0 {
		return "", nil, false
	}
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(rest[i:]), &args); err != nil {
		return "", nil, false
	}
	return rest[:i], args, true
}

func dial(t *testing.T, s *socketServer) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, s.URL, 2*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func requestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEndpointURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000":      "ws://localhost:3000/socket.io/?EIO=3&transport=websocket",
		"https://rooms.example.com":  "wss://rooms.example.com:443/socket.io/?EIO=3&transport=websocket",
		"ws://10.0.0.5:4000/ignored": "ws://10.0.0.5:4000/socket.io/?EIO=3&transport=websocket",
	}
	for in, want := range cases {
		got, err := endpointURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := endpointURL("http://")
	assert.Error(t, err)
	_, err = endpointURL("http://host:port")
	assert.Error(t, err)
}

func TestPayloadDecode(t *testing.T) {
	var info protocol.ProducerInfo
	require.NoError(t, payload(`{"producerID":"p2","name":"bob"}`).Decode(&info))
	assert.Equal(t, protocol.ProducerInfo{ProducerID: "p2", Name: "bob"}, info)

	assert.NoError(t, payload(nil).Decode(&info))
	assert.NoError(t, payload(`{}`).Decode(nil))
}

func TestBareEventFrame(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: `421["get-producers",]`, want: `421["get-producers"]`},
		{in: `42["consumer-resume",]`, want: `42["consumer-resume"]`},
		{in: `421["create-transport",{"consumer":true}]`, want: `421["create-transport",{"consumer":true}]`},
		{in: `431[]`, want: `431[]`},
		{in: "2", want: "2"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, bareEventFrame(tc.in), tc.in)
	}
}

func TestRequestWithoutBodySendsArgumentlessAck(t *testing.T) {
	s := newSocketServer(t, map[string]string{
		protocol.EventGetProducers: `[{"producerID":"p1","name":"bob"}]`,
	})
	c := dial(t, s)

	var list []protocol.ProducerInfo
	require.NoError(t, c.Request(requestContext(t), protocol.EventGetProducers, nil, &list))
	assert.Equal(t, []protocol.ProducerInfo{{ProducerID: "p1", Name: "bob"}}, list)

	frame := s.next(t)
	assert.Equal(t, `421["get-producers"]`, frame)
	_, args, ok := ackRequest(frame)
	require.True(t, ok)
	assert.Len(t, args, 1)
}

func TestRequestDecodesAck(t *testing.T) {
	s := newSocketServer(t, map[string]string{
		protocol.EventCreateTransport: `{"params":{"id":"t1"}}`,
	})
	c := dial(t, s)

	var resp protocol.CreateTransportResponse
	err := c.Request(requestContext(t), protocol.EventCreateTransport, protocol.CreateTransportRequest{Consumer: true}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.Params.ID)
	assert.Equal(t, `421["create-transport",{"consumer":true}]`, s.next(t))
}

func TestEmitWritesEventFrames(t *testing.T) {
	s := newSocketServer(t, nil)
	c := dial(t, s)

	require.NoError(t, c.Emit(protocol.EventConsumerResume, protocol.ConsumerResume{ServerConsumerID: "sc1"}))
	assert.Equal(t, `42["consumer-resume",{"serverConsumerId":"sc1"}]`, s.next(t))

	require.NoError(t, c.Emit("leave-room", nil))
	assert.Equal(t, `42["leave-room"]`, s.next(t))
}

func TestPushesReachHandlers(t *testing.T) {
	s := newSocketServer(t, nil, `42["connection-success",{"socketId":"sock-9"}]`)
	c := dial(t, s)

	connected := make(chan protocol.ConnectionSuccess, 1)
	require.True(t, c.OnceKey(protocol.EventConnectionSuccess, "test", func(p signaling.Payload) {
		var msg protocol.ConnectionSuccess
		if p.Decode(&msg) == nil {
			connected <- msg
		}
	}))

	select {
	case msg := <-connected:
		assert.Equal(t, "sock-9", msg.SocketID)
	case <-time.After(2 * time.Second):
		t.Fatal("connection-success sent right after the handshake was lost")
	}

	announced := make(chan protocol.ProducerInfo, 1)
	require.True(t, c.OnceKey(protocol.EventNewProducer, "test", func(p signaling.Payload) {
		var info protocol.ProducerInfo
		if p.Decode(&info) == nil {
			announced <- info
		}
	}))
	s.push <- `42["new-producer",{"producerId":"p7","name":"eve"}]`

	select {
	case info := <-announced:
		assert.Equal(t, protocol.ProducerInfo{ProducerID: "p7", Name: "eve"}, info)
	case <-time.After(2 * time.Second):
		t.Fatal("new-producer not delivered")
	}
}

func TestDoneOnDisconnect(t *testing.T) {
	s := newSocketServer(t, nil)
	c := dial(t, s)

	close(s.hangup)

	require.Eventually(t, func() bool {
		select {
		case <-c.Done():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	err := c.Request(requestContext(t), protocol.EventGetProducers, nil, nil)
	assert.True(t, errors.Is(err, signaling.ErrClosed), "got %v", err)
}
