package conference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/metrics"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/signaling"
)

// State is the lifecycle state of a room session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateCapabilitiesLoaded
	StateSendReady
	StateActive
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateCapabilitiesLoaded:
		return "capabilities-loaded"
	case StateSendReady:
		return "send-ready"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// handlerKey dedupes push handler registration per channel.
const handlerKey = "session"

// Options configure a room session.
type Options struct {
	Room string
	Name string

	Encodings            []protocol.RtpEncodingParameters
	CodecOptions         engine.CodecOptions
	DiscoveryConcurrency int

	// AwaitConnectionSuccess delays startup until the server pushed
	// connection-success, or ConnectionGrace elapsed when it is positive.
	AwaitConnectionSuccess bool
	ConnectionGrace        time.Duration

	Logger *slog.Logger
}

// Session is one participant in one room. It owns every piece of
// negotiation state; nothing is shared between sessions.
type Session struct {
	opts    Options
	channel Channel
	media   MediaSource
	log     *slog.Logger

	negotiator *Negotiator
	send       *SendPath
	recv       *RecvPath

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected     chan struct{}
	connectedOnce sync.Once
	loaded        chan struct{}
	loadedOnce    sync.Once

	mu               sync.Mutex
	state            State
	socketID         string
	stream           LocalStream
	observers        []func(State)
	discoveryStarted bool
	closed           bool
}

// NewSession creates a session for one participant. It does not contact
// the server until Start or Run.
func NewSession(channel Channel, device engine.Device, media MediaSource, surface Surface, opts Options) (*Session, error) {
	if opts.Room == "" {
		return nil, errors.New("room name is required")
	}
	if opts.Name == "" {
		return nil, errors.New("participant name is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("module", "conference", "room", opts.Room)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:       opts,
		channel:    channel,
		media:      media,
		log:        log,
		negotiator: NewNegotiator(device, log),
		ctx:        ctx,
		cancel:     cancel,
		connected:  make(chan struct{}),
		loaded:     make(chan struct{}),
	}
	s.send = NewSendPath(channel, device, SendOptions{
		Encodings:        opts.Encodings,
		CodecOptions:     opts.CodecOptions,
		OnProducersExist: s.triggerDiscovery,
	}, log.With("path", "send"))
	s.recv = NewRecvPath(channel, device, surface, opts.DiscoveryConcurrency, log.With("path", "recv"))
	return s, nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn for every later state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	observers := append([]func(State){}, s.observers...)
	s.mu.Unlock()

	metrics.SessionState.Set(float64(state))
	s.log.Debug("session state changed", "state", state.String())
	for _, fn := range observers {
		fn(state)
	}
}

func (s *Session) fail(err error) error {
	s.setState(StateFailed)
	s.log.Error("session failed", "error", err)
	return err
}

// SocketID returns the id announced by connection-success, if any.
func (s *Session) SocketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketID
}

// RemoteProducers lists the producers currently consumed.
func (s *Session) RemoteProducers() []Entry {
	return s.recv.Registry().Snapshot()
}

func (s *Session) SendPath() *SendPath { return s.send }
func (s *Session) RecvPath() *RecvPath { return s.recv }

// Start joins the room and starts publishing. Remote producers are consumed
// in the background until Close.
func (s *Session) Start(ctx context.Context) error {
	if s.channel == nil {
		s.log.Error("start without signaling channel")
		return s.fail(NewError("start", ErrNoChannel))
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return WrapError("start", ErrProtocolInconsistency, "session already started")
	}
	s.mu.Unlock()

	s.setState(StateConnecting)
	s.registerHandlers()

	if s.opts.AwaitConnectionSuccess {
		if err := s.awaitConnection(ctx); err != nil {
			return s.fail(err)
		}
	}

	stream, err := s.media.Acquire(ctx)
	if err != nil {
		return s.fail(NewError("acquire media", fmt.Errorf("%w: %w", ErrMediaUnavailable, err)))
	}
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	var joined protocol.JoinRoomResponse
	err = s.channel.Request(ctx, protocol.EventJoinRoom, protocol.JoinRoomRequest{
		RoomName: s.opts.Room,
		Name:     s.opts.Name,
	}, &joined)
	if err != nil {
		return s.fail(NewError("join room", requestError(err)))
	}
	s.log.Info("joined room", "name", s.opts.Name)

	if _, err := s.negotiator.LoadCapabilities(ctx, joined.RtpCapabilities); err != nil {
		return s.fail(err)
	}
	s.setState(StateCapabilitiesLoaded)
	s.loadedOnce.Do(func() { close(s.loaded) })

	if err := s.send.CreateSendTransport(ctx); err != nil {
		return s.fail(err)
	}
	s.setState(StateSendReady)

	if err := s.send.Produce(ctx, stream); err != nil {
		return s.fail(err)
	}
	s.setState(StateActive)
	return nil
}

func (s *Session) awaitConnection(ctx context.Context) error {
	var grace <-chan time.Time
	if s.opts.ConnectionGrace > 0 {
		timer := time.NewTimer(s.opts.ConnectionGrace)
		defer timer.Stop()
		grace = timer.C
	}

	select {
	case <-s.connected:
		return nil
	case <-grace:
		s.log.Warn("no connection-success from server, continuing")
		return nil
	case <-ctx.Done():
		return NewError("await connection", ctx.Err())
	}
}

// registerHandlers installs the push handlers once per channel.
func (s *Session) registerHandlers() {
	s.channel.OnceKey(protocol.EventConnectionSuccess, handlerKey, func(p signaling.Payload) {
		var msg protocol.ConnectionSuccess
		if err := p.Decode(&msg); err != nil {
			s.log.Warn("bad connection-success payload", "error", err)
		}
		s.mu.Lock()
		s.socketID = msg.SocketID
		s.mu.Unlock()
		s.log.Info("connected to signaling server", "socket", msg.SocketID)
		s.connectedOnce.Do(func() { close(s.connected) })
	})

	s.channel.OnceKey(protocol.EventNewProducer, handlerKey, func(p signaling.Payload) {
		var info protocol.ProducerInfo
		if err := p.Decode(&info); err != nil {
			s.log.Warn("bad new-producer payload", "error", err)
			return
		}
		s.log.Info("new producer announced", "producer", info.ProducerID, "name", info.Name)
		// Claimed on the dispatcher so a following producer-closed sees it.
		if !s.recv.Reserve(info.ProducerID) {
			return
		}
		s.spawn(func() {
			if !s.waitLoaded() {
				s.recv.Registry().Release(info.ProducerID)
				return
			}
			if err := s.recv.ConsumeReserved(s.ctx, info); err != nil {
				s.log.Warn("consume new producer", "producer", info.ProducerID, "error", err)
			}
		})
	})

	s.channel.OnceKey(protocol.EventProducerClosed, handlerKey, func(p signaling.Payload) {
		var msg protocol.ProducerClosed
		if err := p.Decode(&msg); err != nil {
			s.log.Warn("bad producer-closed payload", "error", err)
			return
		}
		if err := s.recv.OnProducerClosed(msg.RemoteProducerID); err != nil {
			s.log.Warn("producer-closed ignored", "error", err)
		}
	})
}

// waitLoaded blocks until the device is loaded. It reports false when the
// session ends first.
func (s *Session) waitLoaded() bool {
	select {
	case <-s.loaded:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// triggerDiscovery lists existing producers once per session; producers
// appearing later arrive as new-producer pushes.
func (s *Session) triggerDiscovery() {
	s.mu.Lock()
	if s.discoveryStarted {
		s.mu.Unlock()
		return
	}
	s.discoveryStarted = true
	s.mu.Unlock()

	s.spawn(func() {
		if err := s.recv.DiscoverProducers(s.ctx); err != nil {
			s.log.Warn("producer discovery", "error", err)
		}
	})
}

// spawn runs fn on a goroutine tracked until Close.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Run starts the session and keeps it alive until ctx is cancelled or the
// signaling connection drops.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}

	var lost <-chan struct{}
	if d, ok := s.channel.(interface{ Done() <-chan struct{} }); ok {
		lost = d.Done()
	}

	var err error
	select {
	case <-ctx.Done():
	case <-lost:
		err = NewError("session", fmt.Errorf("%w: connection lost", ErrSignaling))
		s.log.Error("signaling connection lost")
	}

	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close releases every transport and the local media. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.stream
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.recv.Close()
	var errs []error
	if err := s.send.Close(); err != nil {
		errs = append(errs, err)
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.setState(StateClosed)
	s.log.Info("session closed")
	return errors.Join(errs...)
}
