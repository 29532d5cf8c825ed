// Package engine defines the media-transport engine contracts the conference
// core negotiates against. An engine owns ICE, DTLS and RTP; the core only
// relays parameters between it and the room server.
package engine

import (
	"context"
	"errors"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/ubaish01/commune--client/internal/protocol"
)

var (
	// ErrUnsupported is returned by Device.Load when no router codec of a
	// required kind can be handled locally.
	ErrUnsupported = errors.New("engine does not support router capabilities")
	ErrNotLoaded   = errors.New("device not loaded")
	ErrClosed      = errors.New("transport closed")
)

// Device holds the negotiated capability set and creates transports.
type Device interface {
	Load(ctx context.Context, router protocol.RtpCapabilities) error
	Loaded() bool
	RtpCapabilities() protocol.RtpCapabilities
	CanProduce(kind protocol.MediaKind) bool
	CreateSendTransport(params protocol.TransportParams, l SendListener) (SendTransport, error)
	CreateRecvTransport(params protocol.TransportParams, l ConnectListener) (RecvTransport, error)
}

// ConnectListener is asked once per transport to forward local DTLS
// parameters. The transport does not start ICE/DTLS until it returns nil.
type ConnectListener interface {
	OnConnect(ctx context.Context, dtls protocol.DtlsParameters) error
}

// SendListener additionally answers produce requests with the server-side
// producer id. OnProduce is only called after OnConnect succeeded.
type SendListener interface {
	ConnectListener
	OnProduce(ctx context.Context, req ProduceRequest) (string, error)
}

type ProduceRequest struct {
	Kind          protocol.MediaKind
	RtpParameters protocol.RtpParameters
	AppData       map[string]any
}

// CodecOptions tune the sending codec.
type CodecOptions struct {
	VideoGoogleStartBitrate int
}

type ProduceOptions struct {
	Track        LocalTrack
	Encodings    []protocol.RtpEncodingParameters
	CodecOptions CodecOptions
	AppData      map[string]any
}

type ConsumeOptions struct {
	ID            string
	ProducerID    string
	Kind          protocol.MediaKind
	RtpParameters protocol.RtpParameters
}

type SendTransport interface {
	ID() string
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Close() error
}

type RecvTransport interface {
	ID() string
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	Close() error
}

// Producer is a local track being sent on a send transport.
type Producer interface {
	ID() string
	Kind() protocol.MediaKind
	Close() error
	// OnTrackEnded fires when the local source stops producing.
	OnTrackEnded(fn func())
	// OnTransportClose fires when the owning transport is closed.
	OnTransportClose(fn func())
}

// Consumer receives one remote producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() protocol.MediaKind
	Track() RemoteTrack
	Close() error
}

// LocalTrack is a capture source handed to Produce.
type LocalTrack interface {
	ID() string
	MediaKind() protocol.MediaKind
	// Ended is closed when the source runs dry.
	Ended() <-chan struct{}
}

// RemoteTrack is the media side of a consumer.
type RemoteTrack interface {
	Kind() protocol.MediaKind
	MimeType() string
	SSRC() uint32
	ReadRTP() (*rtp.Packet, error)
	WriteRTCP(pkts []rtcp.Packet) error
}
