package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// Track is a local capture track fed with encoded samples.
type Track struct {
	local *webrtc.TrackLocalStaticSample
	kind  protocol.MediaKind

	ended   chan struct{}
	endOnce sync.Once
}

func newTrack(codec webrtc.RTPCodecCapability, kind protocol.MediaKind, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Track{local: local, kind: kind, ended: make(chan struct{})}, nil
}

func (t *Track) ID() string                    { return t.local.ID() }
func (t *Track) MediaKind() protocol.MediaKind { return t.kind }

// Ended is closed when the source ran dry or was stopped.
func (t *Track) Ended() <-chan struct{} { return t.ended }

func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *Track) Codec() webrtc.RTPCodecCapability { return t.local.Codec() }

func (t *Track) WriteSample(s pionmedia.Sample) error {
	return t.local.WriteSample(s)
}

func (t *Track) end() {
	t.endOnce.Do(func() { close(t.ended) })
}
