package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/ubaish01/commune--client/internal/config"
	"github.com/ubaish01/commune--client/internal/conference"
	"github.com/ubaish01/commune--client/internal/engine/ortc"
	"github.com/ubaish01/commune--client/internal/logging"
	"github.com/ubaish01/commune--client/internal/media"
	"github.com/ubaish01/commune--client/internal/metrics"
	"github.com/ubaish01/commune--client/internal/signaling"
	"github.com/ubaish01/commune--client/internal/signaling/socketio"
)

// connectionGrace is how long startup waits for connection-success before
// joining anyway. Plain websocket servers may never send it.
const connectionGrace = 2 * time.Second

// SignalingChannel is a connected signaling client of either transport.
type SignalingChannel interface {
	conference.Channel
	Done() <-chan struct{}
	Close() error
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, conference.NewError("load config", err)
	}
	applyRelayHint(cfg)
	return cfg, nil
}

// DialSignaling connects to the configured server with the configured
// transport.
func DialSignaling(ctx context.Context, cfg *config.Config) (SignalingChannel, error) {
	switch cfg.Transport {
	case config.TransportSocketIO:
		client, err := socketio.Dial(ctx, cfg.ServerURL, cfg.RequestTimeout, slog.Default())
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.TransportWebSocket:
		codec, err := signaling.CodecByName(cfg.Codec)
		if err != nil {
			return nil, err
		}
		client := signaling.NewClient(cfg.ServerURL, signaling.ClientOptions{
			Codec:          codec,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err := client.Connect(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// NewDevice builds the pion-backed engine device with the configured ICE
// servers.
func NewDevice(cfg *config.Config) *ortc.Device {
	return ortc.NewDevice(ortc.Settings{
		ICEServers:         cfg.ICEServers(),
		ICETransportPolicy: cfg.ICETransportPolicy(),
		LoggerFactory:      logging.PionFactory{},
	})
}

func acquireFrom(source *media.Source) conference.MediaSource {
	return conference.MediaSourceFunc(func(ctx context.Context) (conference.LocalStream, error) {
		st, err := source.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}

func startMetrics(ctx context.Context, addr string) {
	log := logging.Module("metrics")
	go func() {
		if err := metrics.Serve(ctx, addr); err != nil {
			log.Error("metrics endpoint failed", "addr", addr, "error", err)
		}
	}()
}

func contextWithCancel(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithCancel(ctx)
}
