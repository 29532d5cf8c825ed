package ortc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// RecvTransport receives remote producers from the router.
type RecvTransport struct {
	*transport
}

var _ engine.RecvTransport = (*RecvTransport)(nil)

func (t *RecvTransport) Close() error {
	return t.close()
}

// Consume connects the transport if needed and starts receiving the single
// encoding described by opts.RtpParameters.
func (t *RecvTransport) Consume(ctx context.Context, opts engine.ConsumeOptions) (engine.Consumer, error) {
	if len(opts.RtpParameters.Codecs) == 0 || len(opts.RtpParameters.Encodings) == 0 {
		return nil, errors.New("consumer parameters need a codec and an encoding")
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	receiver, err := t.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create receiver: %w", err)
	}

	codec := opts.RtpParameters.Codecs[0]
	enc := opts.RtpParameters.Encodings[0]
	coding := webrtc.RTPCodingParameters{
		SSRC:        webrtc.SSRC(enc.SSRC),
		PayloadType: webrtc.PayloadType(codec.PayloadType),
	}
	if enc.Rtx != nil {
		coding.RTX = webrtc.RTPRtxParameters{SSRC: webrtc.SSRC(enc.Rtx.SSRC)}
	}

	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{RTPCodingParameters: coding}},
	}); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("start receiving: %w", err)
	}

	c := &consumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		receiver:   receiver,
		track: &remoteTrack{
			kind: opts.Kind,
			mime: strings.ToLower(codec.MimeType),
			ssrc: enc.SSRC,
			src:  receiver.Track(),
			dtls: t.dtls,
		},
	}
	if !t.addCloseHook(func() { _ = c.Close() }) {
		_ = c.Close()
		return nil, engine.ErrClosed
	}

	t.log.Debug("consuming", "consumer", opts.ID, "producer", opts.ProducerID, "kind", opts.Kind)
	return c, nil
}

type consumer struct {
	id         string
	producerID string
	kind       protocol.MediaKind
	receiver   *webrtc.RTPReceiver
	track      *remoteTrack

	once sync.Once
	err  error
}

var _ engine.Consumer = (*consumer)(nil)

func (c *consumer) ID() string                { return c.id }
func (c *consumer) ProducerID() string        { return c.producerID }
func (c *consumer) Kind() protocol.MediaKind  { return c.kind }
func (c *consumer) Track() engine.RemoteTrack { return c.track }

func (c *consumer) Close() error {
	c.once.Do(func() {
		c.err = c.receiver.Stop()
	})
	return c.err
}

type remoteTrack struct {
	kind protocol.MediaKind
	mime string
	ssrc uint32
	src  *webrtc.TrackRemote
	dtls *webrtc.DTLSTransport
}

func (r *remoteTrack) Kind() protocol.MediaKind { return r.kind }
func (r *remoteTrack) MimeType() string         { return r.mime }
func (r *remoteTrack) SSRC() uint32             { return r.ssrc }

func (r *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	if r.src == nil {
		return nil, engine.ErrClosed
	}
	pkt, _, err := r.src.ReadRTP()
	return pkt, err
}

func (r *remoteTrack) WriteRTCP(pkts []rtcp.Packet) error {
	_, err := r.dtls.WriteRTCP(pkts)
	return err
}
