// Package ortc implements the engine contracts on pion/webrtc's ORTC objects
// (ICEGatherer, ICETransport, DTLSTransport, RTPSender, RTPReceiver), which
// map one-to-one onto a mediasoup-style router's transport model.
package ortc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// Settings configures ICE and pion logging for every transport of a device.
type Settings struct {
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy
	LoggerFactory      logging.LoggerFactory
	Logger             *slog.Logger
}

// Device loads router capabilities into a pion API.
type Device struct {
	settings Settings
	log      *slog.Logger

	mu     sync.RWMutex
	api    *webrtc.API
	caps   protocol.RtpCapabilities
	kinds  map[protocol.MediaKind]bool
	loaded bool
}

var _ engine.Device = (*Device)(nil)

func NewDevice(s Settings) *Device {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Device{settings: s, log: log.With("module", "engine")}
}

// Load negotiates the local capability set against the router's and builds
// the pion API. It fails with engine.ErrUnsupported when a kind offered by
// the router has no locally supported codec.
func (d *Device) Load(_ context.Context, router protocol.RtpCapabilities) error {
	n, err := intersect(router)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrUnsupported, err)
	}

	m := &webrtc.MediaEngine{}
	kinds := make(map[protocol.MediaKind]bool)
	for _, c := range n.codecs {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return fmt.Errorf("register codec %s: %w", c.params.MimeType, err)
		}
		if !protocol.IsRtx(c.params.MimeType) {
			kinds[mediaKind(c.kind)] = true
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.ConfigureNack(m, ir); err != nil {
		return fmt.Errorf("configure nack: %w", err)
	}
	if err := webrtc.ConfigureRTCPReports(ir); err != nil {
		return fmt.Errorf("configure rtcp reports: %w", err)
	}

	se := webrtc.SettingEngine{}
	if d.settings.LoggerFactory != nil {
		se.LoggerFactory = d.settings.LoggerFactory
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(ir),
	)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return fmt.Errorf("device already loaded")
	}
	d.api = api
	d.caps = n.caps
	d.kinds = kinds
	d.loaded = true

	d.log.Debug("device loaded", "codecs", len(n.caps.Codecs))
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// RtpCapabilities returns the negotiated capability set.
func (d *Device) RtpCapabilities() protocol.RtpCapabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps
}

func (d *Device) CanProduce(kind protocol.MediaKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.kinds[kind]
}

func (d *Device) CreateSendTransport(params protocol.TransportParams, l engine.SendListener) (engine.SendTransport, error) {
	t, err := d.newTransport(params, l)
	if err != nil {
		return nil, err
	}
	return &SendTransport{transport: t, listener: l}, nil
}

func (d *Device) CreateRecvTransport(params protocol.TransportParams, l engine.ConnectListener) (engine.RecvTransport, error) {
	t, err := d.newTransport(params, l)
	if err != nil {
		return nil, err
	}
	return &RecvTransport{transport: t}, nil
}

func (d *Device) newTransport(params protocol.TransportParams, l engine.ConnectListener) (*transport, error) {
	d.mu.RLock()
	api, loaded := d.api, d.loaded
	d.mu.RUnlock()
	if !loaded {
		return nil, engine.ErrNotLoaded
	}
	if params.ID == "" {
		return nil, fmt.Errorf("transport parameters without id")
	}
	return newTransport(api, d.settings, params, l, d.log)
}
