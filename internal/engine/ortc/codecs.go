package ortc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// localCodecs are the mime types this engine can send and receive.
var localCodecs = map[string]webrtc.RTPCodecType{
	strings.ToLower(webrtc.MimeTypeOpus): webrtc.RTPCodecTypeAudio,
	strings.ToLower(webrtc.MimeTypeVP8):  webrtc.RTPCodecTypeVideo,
	strings.ToLower(webrtc.MimeTypeVP9):  webrtc.RTPCodecTypeVideo,
	strings.ToLower(webrtc.MimeTypeH264): webrtc.RTPCodecTypeVideo,
}

const startBitrateParam = "x-google-start-bitrate"

// negotiation is the result of intersecting router and local codecs.
type negotiation struct {
	caps   protocol.RtpCapabilities
	codecs []registeredCodec
}

type registeredCodec struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}

// intersect keeps router codecs the engine supports, with the router's
// payload types, plus retransmission codecs pointing at a kept codec.
// Every kind the router offers must keep at least one codec.
func intersect(router protocol.RtpCapabilities) (*negotiation, error) {
	n := &negotiation{}
	kept := make(map[int]bool)
	offered := make(map[protocol.MediaKind]bool)
	matched := make(map[protocol.MediaKind]bool)

	for _, c := range router.Codecs {
		if protocol.IsRtx(c.MimeType) {
			continue
		}
		offered[c.Kind] = true

		typ, ok := localCodecs[strings.ToLower(c.MimeType)]
		if !ok || typ != codecType(c.Kind) {
			continue
		}
		matched[c.Kind] = true
		kept[int(c.PreferredPayloadType)] = true
		n.caps.Codecs = append(n.caps.Codecs, c)
		n.codecs = append(n.codecs, registeredCodec{params: toPionCodec(c), kind: typ})
	}

	for _, c := range router.Codecs {
		if !protocol.IsRtx(c.MimeType) {
			continue
		}
		apt, ok := intParam(c.Parameters, "apt")
		if !ok || !kept[apt] {
			continue
		}
		n.caps.Codecs = append(n.caps.Codecs, c)
		n.codecs = append(n.codecs, registeredCodec{params: toPionCodec(c), kind: codecType(c.Kind)})
	}

	if len(offered) == 0 {
		return nil, fmt.Errorf("router offers no media codecs")
	}
	for kind := range offered {
		if !matched[kind] {
			return nil, fmt.Errorf("no supported %s codec in router capabilities", kind)
		}
	}
	return n, nil
}

func codecType(kind protocol.MediaKind) webrtc.RTPCodecType {
	switch kind {
	case protocol.KindAudio:
		return webrtc.RTPCodecTypeAudio
	case protocol.KindVideo:
		return webrtc.RTPCodecTypeVideo
	default:
		return webrtc.RTPCodecType(0)
	}
}

func mediaKind(typ webrtc.RTPCodecType) protocol.MediaKind {
	if typ == webrtc.RTPCodecTypeAudio {
		return protocol.KindAudio
	}
	return protocol.KindVideo
}

func toPionCodec(c protocol.RtpCodecCapability) webrtc.RTPCodecParameters {
	feedback := make([]webrtc.RTCPFeedback, 0, len(c.RtcpFeedback))
	for _, fb := range c.RtcpFeedback {
		feedback = append(feedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  protocol.FormatFmtp(c.Parameters),
			RTCPFeedback: feedback,
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// toProtocolCodec describes a pion codec in wire terms, merging extra
// parameters over its fmtp line.
func toProtocolCodec(c webrtc.RTPCodecParameters, extra map[string]any) protocol.RtpCodecParameters {
	params := protocol.ParseFmtp(c.SDPFmtpLine)
	for k, v := range extra {
		if params == nil {
			params = make(map[string]any)
		}
		params[k] = v
	}

	var feedback []protocol.RtcpFeedback
	for _, fb := range c.RTCPFeedback {
		feedback = append(feedback, protocol.RtcpFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}

	return protocol.RtpCodecParameters{
		MimeType:     c.MimeType,
		PayloadType:  uint8(c.PayloadType),
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		Parameters:   params,
		RtcpFeedback: feedback,
	}
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
