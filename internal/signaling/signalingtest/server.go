// Package signalingtest provides an in-process scripted signaling server for
// tests.
package signalingtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ubaish01/commune--client/internal/signaling"
)

const (
	writeWait  = 2 * time.Second
	sendBuffer = 64
)

// Responder answers one request. A non-nil error is sent back as the
// envelope error string.
type Responder func(p signaling.Payload) (any, error)

// Received is one frame the server got from a client.
type Received struct {
	Event   string
	ID      string
	Message *signaling.Message
}

// Server is a scripted signaling server.
type Server struct {
	*httptest.Server

	codec    signaling.Codec
	upgrader websocket.Upgrader

	mu         sync.Mutex
	responders map[string]Responder
	peers      map[*peer]struct{}
	received   []Received
	onConnect  []func() (string, any)
	silent     map[string]bool
}

type peer struct {
	conn *websocket.Conn
	send chan *signaling.Message

	mu     sync.Mutex
	closed bool
}

// NewServer starts a server speaking codec. Stop it with Close.
func NewServer(codec signaling.Codec) *Server {
	if codec == nil {
		codec = signaling.JSONCodec{}
	}
	s := &Server{
		codec:      codec,
		responders: make(map[string]Responder),
		peers:      make(map[*peer]struct{}),
		silent:     make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Handle scripts the answer for event.
func (s *Server) Handle(event string, r Responder) {
	s.mu.Lock()
	s.responders[event] = r
	s.mu.Unlock()
}

// Reply scripts a fixed answer for event.
func (s *Server) Reply(event string, v any) {
	s.Handle(event, func(signaling.Payload) (any, error) { return v, nil })
}

// Ignore makes the server swallow requests for event without answering.
func (s *Server) Ignore(event string) {
	s.mu.Lock()
	s.silent[event] = true
	s.mu.Unlock()
}

// PushOnConnect pushes event to every new connection right after upgrade.
func (s *Server) PushOnConnect(event string, payload any) {
	s.mu.Lock()
	s.onConnect = append(s.onConnect, func() (string, any) { return event, payload })
	s.mu.Unlock()
}

// Push sends a notification to every connected client.
func (s *Server) Push(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		p.enqueue(&signaling.Message{Event: event, Payload: payload})
	}
}

// Received returns a copy of every frame received so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Count returns how many frames for event were received.
func (s *Server) Count(event string) int {
	n := 0
	for _, r := range s.Received() {
		if r.Event == event {
			n++
		}
	}
	return n
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// DropAll closes every client connection.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		p.conn.Close()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &peer{conn: conn, send: make(chan *signaling.Message, sendBuffer)}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	pushes := append([]func() (string, any){}, s.onConnect...)
	s.mu.Unlock()

	go s.writePump(p)
	for _, push := range pushes {
		event, payload := push()
		p.enqueue(&signaling.Message{Event: event, Payload: payload})
	}
	s.readPump(p)
}

// readPump answers requests from one client until its connection closes.
func (s *Server) readPump(p *peer) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		p.close()
		p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := s.codec.Decode(data)
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, Received{Event: msg.Event, ID: msg.ID, Message: msg})
		responder := s.responders[msg.Event]
		silent := s.silent[msg.Event]
		s.mu.Unlock()

		if msg.ID == "" || silent {
			continue
		}

		reply := &signaling.Message{Event: msg.Event, ID: msg.ID, Ack: true}
		if responder != nil {
			payload, err := responder(msg)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Payload = payload
			}
		}
		p.enqueue(reply)
	}
}

// writePump serialises frames for one client.
func (s *Server) writePump(p *peer) {
	frameType := s.codec.FrameType()
	for msg := range p.send {
		data, err := s.codec.Encode(msg)
		if err != nil {
			continue
		}
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(frameType, data); err != nil {
			return
		}
	}
}

func (p *peer) enqueue(msg *signaling.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- msg:
	default:
	}
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}
