package conference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/metrics"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// SendState is the progress of the send path.
type SendState int

const (
	SendUninitialized SendState = iota
	SendDeviceLoaded
	SendTransportCreated
	SendConnected
	SendProducing
)

func (s SendState) String() string {
	switch s {
	case SendUninitialized:
		return "uninitialized"
	case SendDeviceLoaded:
		return "device-loaded"
	case SendTransportCreated:
		return "transport-created"
	case SendConnected:
		return "connected"
	case SendProducing:
		return "producing"
	default:
		return fmt.Sprintf("SendState(%d)", int(s))
	}
}

// SendOptions configure the local producers.
type SendOptions struct {
	// Encodings are applied to video producers.
	Encodings    []protocol.RtpEncodingParameters
	CodecOptions engine.CodecOptions
	// OnProducersExist runs for every produce answer reporting that other
	// participants already publish.
	OnProducersExist func()
}

// SendPath owns the single send transport and the local producers. It is
// the transport's negotiation listener: connect and produce requests raised
// by the engine are forwarded to the server here.
type SendPath struct {
	channel Channel
	device  engine.Device
	opts    SendOptions
	log     *slog.Logger

	mu              sync.Mutex
	state           SendState
	transport       engine.SendTransport
	connectAnswered bool
	produceStarted  bool
	producers       map[protocol.MediaKind]engine.Producer
}

var _ engine.SendListener = (*SendPath)(nil)

// NewSendPath creates a send path that negotiates over channel.
func NewSendPath(channel Channel, device engine.Device, opts SendOptions, log *slog.Logger) *SendPath {
	return &SendPath{
		channel:   channel,
		device:    device,
		opts:      opts,
		log:       log,
		producers: make(map[protocol.MediaKind]engine.Producer),
	}
}

// State returns the current send state.
func (s *SendPath) State() SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SendUninitialized && s.device.Loaded() {
		return SendDeviceLoaded
	}
	return s.state
}

// CreateSendTransport asks the server for the send transport and builds the
// engine side of it.
func (s *SendPath) CreateSendTransport(ctx context.Context) error {
	if s.channel == nil {
		s.log.Error("create send transport without signaling channel")
		return NewError("create send transport", ErrNoChannel)
	}
	if !s.device.Loaded() {
		return WrapError("create send transport", ErrNotReady, "device not loaded")
	}

	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		return WrapError("create send transport", ErrProtocolInconsistency, "send transport already exists")
	}
	s.mu.Unlock()

	var resp protocol.CreateTransportResponse
	if err := s.channel.Request(ctx, protocol.EventCreateTransport, protocol.CreateTransportRequest{Consumer: false}, &resp); err != nil {
		return NewError("create send transport", requestError(err))
	}
	if resp.Params.Error != "" {
		s.log.Error("server refused send transport", "error", resp.Params.Error)
		return NewError("create send transport", serverError(ErrSignaling, resp.Params.Error))
	}

	t, err := s.device.CreateSendTransport(resp.Params, s)
	if err != nil {
		return NewError("create send transport", err)
	}

	s.mu.Lock()
	s.transport = t
	s.state = SendTransportCreated
	s.mu.Unlock()

	s.log.Info("send transport created", "transport", t.ID())
	return nil
}

// OnConnect forwards the local DTLS parameters. It is answered once; a
// repeated event is reported without contacting the server.
func (s *SendPath) OnConnect(ctx context.Context, dtls protocol.DtlsParameters) error {
	s.mu.Lock()
	if s.connectAnswered {
		s.mu.Unlock()
		s.log.Warn("repeated connect on send transport")
		return WrapError("connect send transport", ErrProtocolInconsistency, "connect already answered")
	}
	s.connectAnswered = true
	s.mu.Unlock()

	if err := s.channel.Request(ctx, protocol.EventTransportConnect, protocol.ConnectRequest{DtlsParameters: dtls}, nil); err != nil {
		return NewError("connect send transport", requestError(err))
	}

	s.mu.Lock()
	if s.state < SendConnected {
		s.state = SendConnected
	}
	s.mu.Unlock()
	return nil
}

// OnProduce asks the server to create a producer and returns its id.
func (s *SendPath) OnProduce(ctx context.Context, req engine.ProduceRequest) (string, error) {
	var resp protocol.ProduceResponse
	err := s.channel.Request(ctx, protocol.EventTransportProduce, protocol.ProduceRequest{
		Kind:          req.Kind,
		RtpParameters: req.RtpParameters,
		AppData:       req.AppData,
	}, &resp)
	if err != nil {
		return "", NewError("produce "+string(req.Kind), requestError(err))
	}
	if resp.Error != "" {
		return "", NewError("produce "+string(req.Kind), serverError(ErrSignaling, resp.Error))
	}
	if resp.ID == "" {
		return "", WrapError("produce "+string(req.Kind), ErrProtocolInconsistency, "server returned no producer id")
	}

	s.log.Debug("server producer created", "producer", resp.ID, "kind", req.Kind, "producersExist", resp.ProducersExist)
	if resp.ProducersExist && s.opts.OnProducersExist != nil {
		s.opts.OnProducersExist()
	}
	return resp.ID, nil
}

// Produce sends the stream's audio, then its video. It may run once.
func (s *SendPath) Produce(ctx context.Context, stream LocalStream) error {
	s.mu.Lock()
	if s.transport == nil {
		s.mu.Unlock()
		return WrapError("produce", ErrNotReady, "no send transport")
	}
	if s.produceStarted {
		s.mu.Unlock()
		return NewError("produce", ErrAlreadyProducing)
	}
	s.produceStarted = true
	t := s.transport
	s.mu.Unlock()

	tracks := []engine.LocalTrack{stream.AudioTrack(), stream.VideoTrack()}
	for _, track := range tracks {
		if track == nil {
			continue
		}
		kind := track.MediaKind()
		if !s.device.CanProduce(kind) {
			s.log.Warn("device cannot produce kind, skipping", "kind", kind)
			continue
		}

		opts := engine.ProduceOptions{
			Track:   track,
			AppData: map[string]any{"trackId": track.ID()},
		}
		if kind == protocol.KindVideo {
			opts.Encodings = s.opts.Encodings
			opts.CodecOptions = s.opts.CodecOptions
		}

		p, err := t.Produce(ctx, opts)
		if err != nil {
			return NewError("produce "+string(kind), err)
		}
		s.track(p)
	}

	s.mu.Lock()
	s.state = SendProducing
	s.mu.Unlock()
	return nil
}

func (s *SendPath) track(p engine.Producer) {
	kind := p.Kind()
	s.mu.Lock()
	s.producers[kind] = p
	s.mu.Unlock()
	metrics.ActiveProducers.WithLabelValues(string(kind)).Inc()

	// Both hooks only release local state; the server learns about it from
	// the transport going away.
	p.OnTrackEnded(func() {
		s.log.Info("local track ended", "kind", kind, "producer", p.ID())
		s.release(p)
	})
	p.OnTransportClose(func() {
		s.log.Info("send transport closed under producer", "kind", kind, "producer", p.ID())
		s.release(p)
	})
	s.log.Info("producing", "kind", kind, "producer", p.ID())
}

func (s *SendPath) release(p engine.Producer) {
	s.mu.Lock()
	cur, ok := s.producers[p.Kind()]
	if ok && cur == p {
		delete(s.producers, p.Kind())
	}
	s.mu.Unlock()

	if ok && cur == p {
		metrics.ActiveProducers.WithLabelValues(string(p.Kind())).Dec()
		_ = p.Close()
	}
}

// Producer returns the live producer of kind, if any.
func (s *SendPath) Producer(kind protocol.MediaKind) (engine.Producer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.producers[kind]
	return p, ok
}

// Close stops every producer and the send transport.
func (s *SendPath) Close() error {
	s.mu.Lock()
	producers := make([]engine.Producer, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	t := s.transport
	s.mu.Unlock()

	for _, p := range producers {
		s.release(p)
	}
	if t == nil {
		return nil
	}
	return t.Close()
}
