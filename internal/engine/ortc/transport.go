package ortc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// transport is one ICE+DTLS association with the router.
type transport struct {
	id       string
	api      *webrtc.API
	remote   protocol.TransportParams
	listener engine.ConnectListener
	log      *slog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	// connectMu serialises the first connect; later callers reuse its result.
	connectMu  sync.Mutex
	connected  bool
	connectErr error

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

func newTransport(api *webrtc.API, s Settings, params protocol.TransportParams, l engine.ConnectListener, log *slog.Logger) (*transport, error) {
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{
		ICEServers:      s.ICEServers,
		ICEGatherPolicy: s.ICETransportPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ICE gatherer: %w", err)
	}

	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("create DTLS transport: %w", err)
	}

	t := &transport{
		id:       params.ID,
		api:      api,
		remote:   params,
		listener: l,
		log:      log.With("transport", params.ID),
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}

	ice.OnConnectionStateChange(func(state webrtc.ICETransportState) {
		t.log.Debug("ice state changed", "state", state.String())
	})
	dtls.OnStateChange(func(state webrtc.DTLSTransportState) {
		t.log.Debug("dtls state changed", "state", state.String())
	})

	return t, nil
}

func (t *transport) ID() string {
	return t.id
}

// connect gathers local candidates, hands the local DTLS parameters to the
// listener and, once it answered, starts ICE and DTLS. It runs at most once;
// a failure is sticky.
func (t *transport) connect(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	if t.connected || t.connectErr != nil {
		return t.connectErr
	}
	if t.isClosed() {
		return engine.ErrClosed
	}

	t.connectErr = t.start(ctx)
	t.connected = t.connectErr == nil
	return t.connectErr
}

func (t *transport) start(ctx context.Context) error {
	gathered := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	localParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local DTLS parameters: %w", err)
	}
	remote, role := remoteDTLS(t.remote.DtlsParameters)

	if err := t.listener.OnConnect(ctx, localDTLS(localParams, role)); err != nil {
		return err
	}

	candidates, err := toPionCandidates(t.remote.IceCandidates)
	if err != nil {
		return err
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}

	// The router is ICE-lite, so the client always controls.
	iceRole := webrtc.ICERoleControlling
	return t.runBlocking(ctx, func() error {
		if err := t.ice.Start(nil, toPionICEParameters(t.remote.IceParameters), &iceRole); err != nil {
			return fmt.Errorf("start ICE: %w", err)
		}
		if err := t.dtls.Start(remote); err != nil {
			return fmt.Errorf("start DTLS: %w", err)
		}
		return nil
	})
}

// runBlocking runs fn and tears the transport down if ctx ends first, which
// unblocks fn.
func (t *transport) runBlocking(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = t.close()
		<-done
		return ctx.Err()
	}
}

func (t *transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// addCloseHook registers fn to run when the transport closes. It reports
// false when the transport is already closed.
func (t *transport) addCloseHook(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.onClose = append(t.onClose, fn)
	return true
}

func (t *transport) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	hooks := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	var errs []error
	if err := t.dtls.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop DTLS: %w", err))
	}
	if err := t.ice.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop ICE: %w", err))
	}
	if err := t.gatherer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gatherer: %w", err))
	}

	t.log.Debug("transport closed")
	return errors.Join(errs...)
}
