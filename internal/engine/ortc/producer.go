package ortc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// pionTrack is implemented by local tracks backed by a pion TrackLocal.
type pionTrack interface {
	engine.LocalTrack
	TrackLocal() webrtc.TrackLocal
	Codec() webrtc.RTPCodecCapability
}

// SendTransport sends local tracks to the router.
type SendTransport struct {
	*transport
	listener engine.SendListener
}

var _ engine.SendTransport = (*SendTransport)(nil)

func (t *SendTransport) Close() error {
	return t.close()
}

// Produce connects the transport if needed, asks the listener for a producer
// id and starts sending. The listener is never asked to produce before its
// connect request was answered.
func (t *SendTransport) Produce(ctx context.Context, opts engine.ProduceOptions) (engine.Producer, error) {
	track, ok := opts.Track.(pionTrack)
	if !ok {
		return nil, fmt.Errorf("track %T is not backed by a pion track", opts.Track)
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	sender, err := t.api.NewRTPSender(track.TrackLocal(), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create sender: %w", err)
	}

	send := sender.GetParameters()
	params, err := buildSendParameters(track, send, opts)
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}

	id, err := t.listener.OnProduce(ctx, engine.ProduceRequest{
		Kind:          track.MediaKind(),
		RtpParameters: params,
		AppData:       opts.AppData,
	})
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}

	if err := sender.Send(send); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("start sending: %w", err)
	}

	p := &producer{id: id, kind: track.MediaKind(), sender: sender}
	go p.drainRTCP()
	go p.watch(track.Ended())

	if !t.addCloseHook(p.transportClosed) {
		_ = p.Close()
		return nil, engine.ErrClosed
	}

	t.log.Debug("producing", "producer", id, "kind", track.MediaKind(), "mime", track.Codec().MimeType)
	return p, nil
}

// buildSendParameters describes what the sender will emit in router terms.
// pion's standalone sender carries a single encoding, so the highest
// requested layer is applied to it.
func buildSendParameters(track pionTrack, send webrtc.RTPSendParameters, opts engine.ProduceOptions) (protocol.RtpParameters, error) {
	mime := track.Codec().MimeType

	var codec *webrtc.RTPCodecParameters
	for i := range send.Codecs {
		if strings.EqualFold(send.Codecs[i].MimeType, mime) {
			codec = &send.Codecs[i]
			break
		}
	}
	if codec == nil {
		return protocol.RtpParameters{}, fmt.Errorf("%w: codec %s not negotiated", engine.ErrUnsupported, mime)
	}
	if len(send.Encodings) == 0 {
		return protocol.RtpParameters{}, errors.New("sender has no encodings")
	}

	var extra map[string]any
	if track.MediaKind() == protocol.KindVideo && opts.CodecOptions.VideoGoogleStartBitrate > 0 {
		extra = map[string]any{startBitrateParam: opts.CodecOptions.VideoGoogleStartBitrate}
	}

	out := protocol.RtpParameters{
		Codecs: []protocol.RtpCodecParameters{toProtocolCodec(*codec, extra)},
		Rtcp: protocol.RtcpParameters{
			CNAME:       track.TrackLocal().StreamID(),
			ReducedSize: true,
		},
	}

	enc := protocol.RtpEncodingParameters{SSRC: uint32(send.Encodings[0].SSRC)}
	if n := len(opts.Encodings); n > 0 {
		top := opts.Encodings[n-1]
		enc.MaxBitrate = top.MaxBitrate
		enc.ScalabilityMode = top.ScalabilityMode
	}

	if rtxSSRC := uint32(send.Encodings[0].RTX.SSRC); rtxSSRC != 0 {
		for _, c := range send.Codecs {
			if !protocol.IsRtx(c.MimeType) {
				continue
			}
			apt, ok := intParam(protocol.ParseFmtp(c.SDPFmtpLine), "apt")
			if ok && apt == int(codec.PayloadType) {
				out.Codecs = append(out.Codecs, toProtocolCodec(c, nil))
				enc.Rtx = &protocol.RtxParameters{SSRC: rtxSSRC}
				break
			}
		}
	}

	out.Encodings = []protocol.RtpEncodingParameters{enc}
	return out, nil
}

type producer struct {
	id     string
	kind   protocol.MediaKind
	sender *webrtc.RTPSender

	mu             sync.Mutex
	closed         bool
	trackEnded     []func()
	transportClose []func()
}

var _ engine.Producer = (*producer)(nil)

func (p *producer) ID() string               { return p.id }
func (p *producer) Kind() protocol.MediaKind { return p.kind }

func (p *producer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackEnded = append(p.trackEnded, fn)
}

func (p *producer) OnTransportClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transportClose = append(p.transportClose, fn)
}

func (p *producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.sender.Stop()
}

// drainRTCP reads incoming RTCP so interceptors (NACK responder, reports)
// keep running.
func (p *producer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := p.sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *producer) watch(ended <-chan struct{}) {
	if ended == nil {
		return
	}
	<-ended

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	hooks := append([]func(){}, p.trackEnded...)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (p *producer) transportClosed() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	hooks := append([]func(){}, p.transportClose...)
	p.mu.Unlock()

	_ = p.Close()
	for _, fn := range hooks {
		fn()
	}
}
