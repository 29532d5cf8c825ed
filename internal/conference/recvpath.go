package conference

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/metrics"
	"github.com/ubaish01/commune--client/internal/protocol"
)

const defaultDiscoveryConcurrency = 4

// RecvPath consumes remote producers, one receive transport each.
type RecvPath struct {
	channel     Channel
	device      engine.Device
	surface     Surface
	registry    *Registry
	concurrency int
	log         *slog.Logger
}

// NewRecvPath creates a receive path with its own registry.
func NewRecvPath(channel Channel, device engine.Device, surface Surface, concurrency int, log *slog.Logger) *RecvPath {
	if concurrency <= 0 {
		concurrency = defaultDiscoveryConcurrency
	}
	return &RecvPath{
		channel:     channel,
		device:      device,
		surface:     surface,
		registry:    NewRegistry(),
		concurrency: concurrency,
		log:         log,
	}
}

// Registry returns the consumed and pending remote producers.
func (r *RecvPath) Registry() *Registry {
	return r.registry
}

// DiscoverProducers lists the producers already in the room and consumes
// each of them. Failures of single producers are collected, not fatal.
func (r *RecvPath) DiscoverProducers(ctx context.Context) error {
	if r.channel == nil {
		r.log.Error("discover producers without signaling channel")
		return NewError("get producers", ErrNoChannel)
	}

	var producers []protocol.ProducerInfo
	if err := r.channel.Request(ctx, protocol.EventGetProducers, nil, &producers); err != nil {
		return NewError("get producers", requestError(err))
	}
	r.log.Info("discovered producers", "count", len(producers))

	// Claim before fanning out so a producer-closed racing the pool finds
	// the id pending.
	p := pool.New().WithMaxGoroutines(r.concurrency).WithErrors()
	for _, info := range producers {
		if !r.Reserve(info.ProducerID) {
			continue
		}
		info := info
		p.Go(func() error {
			return r.ConsumeReserved(ctx, info)
		})
	}
	return p.Wait()
}

// OnNewProducer handles a new-producer push.
func (r *RecvPath) OnNewProducer(ctx context.Context, info protocol.ProducerInfo) error {
	r.log.Info("new producer announced", "producer", info.ProducerID, "name", info.Name)
	return r.BeginConsuming(ctx, info)
}

// BeginConsuming creates a receive transport for info and negotiates a
// consumer on it. It does nothing when the producer is already pending or
// consumed.
func (r *RecvPath) BeginConsuming(ctx context.Context, info protocol.ProducerInfo) error {
	if r.channel == nil {
		r.log.Error("consume without signaling channel", "producer", info.ProducerID)
		return NewProducerError("consume", info.ProducerID, ErrNoChannel)
	}
	if info.ProducerID == "" {
		return WrapError("consume", ErrProtocolInconsistency, "producer without id")
	}
	if !r.Reserve(info.ProducerID) {
		return nil
	}
	return r.ConsumeReserved(ctx, info)
}

// Reserve claims id for negotiation. It reports false when id is empty,
// pending or already consumed.
func (r *RecvPath) Reserve(id string) bool {
	if id == "" {
		r.log.Warn("producer announced without id, ignoring")
		return false
	}
	if !r.registry.Claim(id) {
		r.log.Debug("producer already pending or consumed", "producer", id)
		return false
	}
	return true
}

// ConsumeReserved runs the negotiation for an id claimed with Reserve.
func (r *RecvPath) ConsumeReserved(ctx context.Context, info protocol.ProducerInfo) error {
	var resp protocol.CreateTransportResponse
	if err := r.channel.Request(ctx, protocol.EventCreateTransport, protocol.CreateTransportRequest{Consumer: true}, &resp); err != nil {
		r.registry.Release(info.ProducerID)
		return NewProducerError("create recv transport", info.ProducerID, requestError(err))
	}
	if resp.Params.Error != "" {
		r.registry.Release(info.ProducerID)
		r.log.Error("server refused receive transport", "producer", info.ProducerID, "error", resp.Params.Error)
		return NewProducerError("create recv transport", info.ProducerID, serverError(ErrSignaling, resp.Params.Error))
	}

	t, err := r.device.CreateRecvTransport(resp.Params, &recvConnector{
		channel:     r.channel,
		transportID: resp.Params.ID,
		log:         r.log,
	})
	if err != nil {
		r.registry.Release(info.ProducerID)
		return NewProducerError("create recv transport", info.ProducerID, err)
	}

	return r.NegotiateConsumer(ctx, t, info.ProducerID, resp.Params.ID, info.Name)
}

// NegotiateConsumer asks the server for a paused consumer of
// remoteProducerID on t, renders its track and resumes it. On refusal the
// claim is released and t is closed.
func (r *RecvPath) NegotiateConsumer(ctx context.Context, t engine.RecvTransport, remoteProducerID, transportID, displayName string) error {
	abort := func(reason string, err error) error {
		metrics.NegotiationFailuresTotal.WithLabelValues(reason).Inc()
		r.registry.Release(remoteProducerID)
		_ = t.Close()
		return NewProducerError("consume", remoteProducerID, err)
	}

	var resp protocol.ConsumeResponse
	err := r.channel.Request(ctx, protocol.EventConsume, protocol.ConsumeRequest{
		RtpCapabilities:           r.device.RtpCapabilities(),
		RemoteProducerID:          remoteProducerID,
		ServerConsumerTransportID: transportID,
	}, &resp)
	if err != nil {
		return abort("signaling", requestError(err))
	}
	params := resp.Params
	if params.Error != "" {
		r.log.Warn("cannot consume", "producer", remoteProducerID, "error", params.Error)
		return abort("refused", serverError(ErrNegotiationRefused, params.Error))
	}

	consumer, err := t.Consume(ctx, engine.ConsumeOptions{
		ID:            params.ID,
		ProducerID:    params.ProducerID,
		Kind:          params.Kind,
		RtpParameters: params.RtpParameters,
	})
	if err != nil {
		return abort("engine", err)
	}

	if err := r.surface.Attach(remoteProducerID, params.Kind, displayName, consumer.Track()); err != nil {
		_ = consumer.Close()
		return abort("render", err)
	}

	entry := &Entry{
		ProducerID:       remoteProducerID,
		Name:             displayName,
		Kind:             params.Kind,
		Transport:        t,
		Consumer:         consumer,
		ServerConsumerID: params.ServerConsumerID,
	}
	if closeRequested := r.registry.Commit(entry); closeRequested {
		r.log.Info("producer closed during negotiation", "producer", remoteProducerID)
		r.teardown(entry, false)
		return nil
	}
	metrics.ActiveConsumers.WithLabelValues(string(params.Kind)).Inc()

	if err := r.channel.Emit(protocol.EventConsumerResume, protocol.ConsumerResume{ServerConsumerID: params.ServerConsumerID}); err != nil {
		r.log.Warn("consumer resume failed", "producer", remoteProducerID, "error", err)
		return NewProducerError("resume consumer", remoteProducerID, requestError(err))
	}

	r.log.Info("consuming", "producer", remoteProducerID, "name", displayName, "kind", params.Kind)
	return nil
}

// OnProducerClosed tears down the consumer of id. An id still negotiating is
// torn down once negotiation completes. Unknown ids report
// ErrProtocolInconsistency and change nothing.
func (r *RecvPath) OnProducerClosed(id string) error {
	outcome, entry := r.registry.closeOrDefer(id)
	switch outcome {
	case closeRemoved:
		r.teardown(entry, true)
		r.log.Info("remote producer closed", "producer", id, "name", entry.Name)
		return nil
	case closeDeferred:
		r.log.Info("remote producer closed while negotiating", "producer", id)
		return nil
	default:
		return NewProducerError("producer closed", id, ErrProtocolInconsistency)
	}
}

func (r *RecvPath) teardown(e *Entry, counted bool) {
	r.surface.Detach(e.ProducerID)
	if e.Consumer != nil {
		_ = e.Consumer.Close()
	}
	if e.Transport != nil {
		_ = e.Transport.Close()
	}
	if counted {
		metrics.ActiveConsumers.WithLabelValues(string(e.Kind)).Dec()
	}
}

// Close tears down every consumed producer. Negotiations still in flight are
// torn down when they complete.
func (r *RecvPath) Close() {
	for _, e := range r.registry.Drain() {
		r.teardown(e, true)
	}
}

// recvConnector forwards the connect event of one receive transport.
type recvConnector struct {
	channel     Channel
	transportID string
	log         *slog.Logger

	mu       sync.Mutex
	answered bool
}

func (c *recvConnector) OnConnect(ctx context.Context, dtls protocol.DtlsParameters) error {
	c.mu.Lock()
	if c.answered {
		c.mu.Unlock()
		c.log.Warn("repeated connect on receive transport", "transport", c.transportID)
		return WrapError("connect recv transport", ErrProtocolInconsistency, "connect already answered")
	}
	c.answered = true
	c.mu.Unlock()

	err := c.channel.Request(ctx, protocol.EventTransportRecvConnect, protocol.RecvConnectRequest{
		DtlsParameters:            dtls,
		ServerConsumerTransportID: c.transportID,
	}, nil)
	if err != nil {
		return NewError("connect recv transport", requestError(err))
	}
	return nil
}
