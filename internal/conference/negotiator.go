package conference

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// Negotiator loads the engine's device against the router capabilities
// exactly once per session.
type Negotiator struct {
	device engine.Device
	log    *slog.Logger

	mu     sync.Mutex
	called bool
}

// NewNegotiator creates a negotiator for device.
func NewNegotiator(device engine.Device, log *slog.Logger) *Negotiator {
	return &Negotiator{device: device, log: log}
}

// LoadCapabilities returns the device capability set. A second call fails
// with ErrProtocolInconsistency; an engine that cannot serve the router
// fails with ErrUnsupportedEngine.
func (n *Negotiator) LoadCapabilities(ctx context.Context, router protocol.RtpCapabilities) (protocol.RtpCapabilities, error) {
	n.mu.Lock()
	if n.called {
		n.mu.Unlock()
		return protocol.RtpCapabilities{}, WrapError("load capabilities", ErrProtocolInconsistency, "device already loaded")
	}
	n.called = true
	n.mu.Unlock()

	if err := n.device.Load(ctx, router); err != nil {
		if errors.Is(err, engine.ErrUnsupported) {
			n.log.Error("engine cannot handle router capabilities", "error", err)
			return protocol.RtpCapabilities{}, WrapError("load capabilities", ErrUnsupportedEngine, err.Error())
		}
		return protocol.RtpCapabilities{}, NewError("load capabilities", err)
	}

	caps := n.device.RtpCapabilities()
	n.log.Info("capabilities loaded", "codecs", len(caps.Codecs))
	return caps, nil
}

func (n *Negotiator) Device() engine.Device {
	return n.device
}
