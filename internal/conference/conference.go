// Package conference drives one participant's room session: capability
// negotiation, the send path and one receive path per remote producer.
package conference

import (
	"context"

	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/signaling"
)

// Channel is the signaling connection to the room server. Both the
// websocket and the socket.io clients satisfy it.
type Channel interface {
	// Request sends event and decodes the single answer into response.
	Request(ctx context.Context, event string, payload, response any) error
	Emit(event string, payload any) error
	// OnceKey registers h for a pushed event unless key was already used for
	// that event. It reports whether h was registered.
	OnceKey(event, key string, h signaling.HandlerFunc) bool
}

// Surface renders remote tracks. Elements are keyed by remote producer id.
type Surface interface {
	Attach(producerID string, kind protocol.MediaKind, label string, track engine.RemoteTrack) error
	Detach(producerID string)
}

// LocalStream is the participant's captured media. Either track may be nil.
type LocalStream interface {
	AudioTrack() engine.LocalTrack
	VideoTrack() engine.LocalTrack
	Close() error
}

// MediaSource acquires the local stream to publish.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalStream, error)
}

// MediaSourceFunc adapts a function to MediaSource.
type MediaSourceFunc func(ctx context.Context) (LocalStream, error)

func (f MediaSourceFunc) Acquire(ctx context.Context) (LocalStream, error) {
	return f(ctx)
}
