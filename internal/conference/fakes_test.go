package conference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	event   string
	payload any
	emit    bool
}

type responder func(payload any) (any, error)

// fakeChannel answers requests from scripted responders and delivers pushes
// synchronously to the registered handlers.
type fakeChannel struct {
	mu         sync.Mutex
	responders map[string]responder
	log        []sent
	handlers   map[string][]signaling.HandlerFunc
	keys       map[string]bool
	emitErr    error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		responders: make(map[string]responder),
		handlers:   make(map[string][]signaling.HandlerFunc),
		keys:       make(map[string]bool),
	}
}

func (c *fakeChannel) handle(event string, r responder) {
	c.mu.Lock()
	c.responders[event] = r
	c.mu.Unlock()
}

func (c *fakeChannel) Request(ctx context.Context, event string, payload, response any) error {
	c.mu.Lock()
	c.log = append(c.log, sent{event: event, payload: payload})
	r := c.responders[event]
	c.mu.Unlock()

	if r == nil {
		return fmt.Errorf("no responder for %s", event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := r(payload)
	if err != nil {
		return err
	}
	if response == nil || out == nil {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, response)
}

func (c *fakeChannel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, sent{event: event, payload: payload, emit: true})
	return c.emitErr
}

func (c *fakeChannel) OnceKey(event, key string, h signaling.HandlerFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := event + "\x00" + key
	if c.keys[k] {
		return false
	}
	c.keys[k] = true
	c.handlers[event] = append(c.handlers[event], h)
	return true
}

func (c *fakeChannel) push(event string, body any) {
	data, _ := json.Marshal(body)
	c.mu.Lock()
	hs := append([]signaling.HandlerFunc(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(jsonPayload(data))
	}
}

func (c *fakeChannel) handlerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

func (c *fakeChannel) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.log {
		if s.event == event {
			n++
		}
	}
	return n
}

func (c *fakeChannel) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.log))
	for _, s := range c.log {
		out = append(out, s.event)
	}
	return out
}

func (c *fakeChannel) payloads(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, s := range c.log {
		if s.event == event {
			out = append(out, s.payload)
		}
	}
	return out
}

type jsonPayload []byte

func (p jsonPayload) Decode(v any) error {
	return json.Unmarshal(p, v)
}

// room scripts a server with one remote participant "bob" publishing p2.
type room struct {
	mu             sync.Mutex
	producersExist bool
	recvSeq        int
	producers      []protocol.ProducerInfo
}

func routerCapabilities() protocol.RtpCapabilities {
	return protocol.RtpCapabilities{Codecs: []protocol.RtpCodecCapability{
		{Kind: protocol.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
		{Kind: protocol.KindVideo, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000},
	}}
}

func newRoomChannel(producersExist bool) (*fakeChannel, *room) {
	c := newFakeChannel()
	r := &room{
		producersExist: producersExist,
		producers:      []protocol.ProducerInfo{{ProducerID: "p2", Name: "bob"}},
	}

	c.handle(protocol.EventJoinRoom, func(any) (any, error) {
		return protocol.JoinRoomResponse{RtpCapabilities: routerCapabilities()}, nil
	})
	c.handle(protocol.EventCreateTransport, func(p any) (any, error) {
		req := p.(protocol.CreateTransportRequest)
		if !req.Consumer {
			return protocol.CreateTransportResponse{Params: protocol.TransportParams{ID: "send-1"}}, nil
		}
		r.mu.Lock()
		r.recvSeq++
		id := fmt.Sprintf("recv-%d", r.recvSeq)
		r.mu.Unlock()
		return protocol.CreateTransportResponse{Params: protocol.TransportParams{ID: id}}, nil
	})
	c.handle(protocol.EventTransportConnect, func(any) (any, error) { return nil, nil })
	c.handle(protocol.EventTransportRecvConnect, func(any) (any, error) { return nil, nil })
	c.handle(protocol.EventTransportProduce, func(p any) (any, error) {
		req := p.(protocol.ProduceRequest)
		return protocol.ProduceResponse{ID: "local-" + string(req.Kind), ProducersExist: r.producersExist}, nil
	})
	c.handle(protocol.EventConsume, consumeOK)
	c.handle(protocol.EventGetProducers, func(any) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.producers, nil
	})
	return c, r
}

func consumeOK(p any) (any, error) {
	req := p.(protocol.ConsumeRequest)
	return protocol.ConsumeResponse{Params: protocol.ConsumerParams{
		ID:               "c-" + req.RemoteProducerID,
		ProducerID:       req.RemoteProducerID,
		Kind:             protocol.KindVideo,
		ServerConsumerID: "sc-" + req.RemoteProducerID,
	}}, nil
}

type fakeDevice struct {
	mu      sync.Mutex
	loadErr error
	loaded  bool
	caps    protocol.RtpCapabilities
	send    []*fakeSendTransport
	recv    []*fakeRecvTransport
}

func (d *fakeDevice) Load(_ context.Context, router protocol.RtpCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loadErr != nil {
		return d.loadErr
	}
	d.loaded = true
	d.caps = router
	return nil
}

func (d *fakeDevice) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *fakeDevice) RtpCapabilities() protocol.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *fakeDevice) CanProduce(protocol.MediaKind) bool {
	return d.Loaded()
}

func (d *fakeDevice) CreateSendTransport(params protocol.TransportParams, l engine.SendListener) (engine.SendTransport, error) {
	t := &fakeSendTransport{id: params.ID, listener: l}
	d.mu.Lock()
	d.send = append(d.send, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDevice) CreateRecvTransport(params protocol.TransportParams, l engine.ConnectListener) (engine.RecvTransport, error) {
	t := &fakeRecvTransport{id: params.ID, listener: l}
	d.mu.Lock()
	d.recv = append(d.recv, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDevice) sendCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.send)
}

func (d *fakeDevice) recvTransports() []*fakeRecvTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeRecvTransport(nil), d.recv...)
}

// fakeSendTransport connects on the first produce, like the pion engine.
type fakeSendTransport struct {
	id       string
	listener engine.SendListener

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*fakeProducer
}

func (t *fakeSendTransport) ID() string { return t.id }

func (t *fakeSendTransport) Produce(ctx context.Context, opts engine.ProduceOptions) (engine.Producer, error) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		if err := t.listener.OnConnect(ctx, protocol.DtlsParameters{Role: "client"}); err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.connected = true
		t.mu.Unlock()
	}

	id, err := t.listener.OnProduce(ctx, engine.ProduceRequest{Kind: opts.Track.MediaKind(), AppData: opts.AppData})
	if err != nil {
		return nil, err
	}
	p := &fakeProducer{id: id, kind: opts.Track.MediaKind(), encodings: opts.Encodings}
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *fakeSendTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	producers := append([]*fakeProducer(nil), t.producers...)
	t.mu.Unlock()
	for _, p := range producers {
		p.fireTransportClose()
	}
	return nil
}

type fakeProducer struct {
	id        string
	kind      protocol.MediaKind
	encodings []protocol.RtpEncodingParameters

	mu             sync.Mutex
	closed         bool
	trackEnded     []func()
	transportClose []func()
}

func (p *fakeProducer) ID() string               { return p.id }
func (p *fakeProducer) Kind() protocol.MediaKind { return p.kind }

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakeProducer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	p.trackEnded = append(p.trackEnded, fn)
	p.mu.Unlock()
}

func (p *fakeProducer) OnTransportClose(fn func()) {
	p.mu.Lock()
	p.transportClose = append(p.transportClose, fn)
	p.mu.Unlock()
}

func (p *fakeProducer) fireTrackEnded() {
	p.mu.Lock()
	hooks := append([]func(){}, p.trackEnded...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (p *fakeProducer) fireTransportClose() {
	p.mu.Lock()
	hooks := append([]func(){}, p.transportClose...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

type fakeRecvTransport struct {
	id       string
	listener engine.ConnectListener

	mu        sync.Mutex
	connected bool
	closed    bool
	consumers []*fakeConsumer
}

func (t *fakeRecvTransport) ID() string { return t.id }

func (t *fakeRecvTransport) Consume(ctx context.Context, opts engine.ConsumeOptions) (engine.Consumer, error) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		if err := t.listener.OnConnect(ctx, protocol.DtlsParameters{Role: "client"}); err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.connected = true
		t.mu.Unlock()
	}
	c := &fakeConsumer{id: opts.ID, producerID: opts.ProducerID, kind: opts.Kind}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeRecvTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeRecvTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeRecvTransport) consumerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.consumers)
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       protocol.MediaKind

	mu     sync.Mutex
	closed bool
}

func (c *fakeConsumer) ID() string               { return c.id }
func (c *fakeConsumer) ProducerID() string       { return c.producerID }
func (c *fakeConsumer) Kind() protocol.MediaKind { return c.kind }
func (c *fakeConsumer) Track() engine.RemoteTrack {
	return fakeRemoteTrack{kind: c.kind}
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type fakeRemoteTrack struct {
	kind protocol.MediaKind
}

func (t fakeRemoteTrack) Kind() protocol.MediaKind      { return t.kind }
func (t fakeRemoteTrack) MimeType() string              { return "video/vp8" }
func (t fakeRemoteTrack) SSRC() uint32                  { return 1 }
func (t fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) { return nil, io.EOF }
func (t fakeRemoteTrack) WriteRTCP([]rtcp.Packet) error { return nil }

type element struct {
	kind  protocol.MediaKind
	label string
}

type fakeSurface struct {
	mu        sync.Mutex
	elements  map[string]element
	attached  int
	detached  int
	attachErr error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{elements: make(map[string]element)}
}

func (s *fakeSurface) Attach(id string, kind protocol.MediaKind, label string, _ engine.RemoteTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return s.attachErr
	}
	s.elements[id] = element{kind: kind, label: label}
	s.attached++
	return nil
}

func (s *fakeSurface) Detach(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elements[id]; ok {
		delete(s.elements, id)
		s.detached++
	}
}

func (s *fakeSurface) element(id string) (element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elements[id]
	return e, ok
}

func (s *fakeSurface) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

func (s *fakeSurface) counts() (attached, detached int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached, s.detached
}

type fakeTrack struct {
	id   string
	kind protocol.MediaKind
}

func (t fakeTrack) ID() string                    { return t.id }
func (t fakeTrack) MediaKind() protocol.MediaKind { return t.kind }
func (t fakeTrack) Ended() <-chan struct{}        { return nil }

type fakeStream struct {
	audio, video engine.LocalTrack

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) AudioTrack() engine.LocalTrack { return s.audio }
func (s *fakeStream) VideoTrack() engine.LocalTrack { return s.video }
func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeMedia struct {
	stream *fakeStream
	err    error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{stream: &fakeStream{
		audio: fakeTrack{id: "mic", kind: protocol.KindAudio},
		video: fakeTrack{id: "cam", kind: protocol.KindVideo},
	}}
}

func (m *fakeMedia) Acquire(context.Context) (LocalStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}
