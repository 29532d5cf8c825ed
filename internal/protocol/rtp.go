package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MediaKind is "audio" or "video".
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCodecCapability is one codec entry of a capability set.
type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind"`
	URI              string    `json:"uri"`
	PreferredID      int       `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

// RtpCapabilities is the set of codecs and header extensions a router or a
// loaded device supports.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// CodecsOfKind returns the media codecs of kind, skipping retransmission
// entries.
func (c RtpCapabilities) CodecsOfKind(kind MediaKind) []RtpCodecCapability {
	var out []RtpCodecCapability
	for _, codec := range c.Codecs {
		if codec.Kind == kind && !IsRtx(codec.MimeType) {
			out = append(out, codec)
		}
	}
	return out
}

// IsRtx reports whether mimeType names a retransmission codec.
func IsRtx(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	URI     string `json:"uri"`
	ID      int    `json:"id"`
	Encrypt bool   `json:"encrypt,omitempty"`
}

type RtxParameters struct {
	SSRC uint32 `json:"ssrc"`
}

// RtpEncodingParameters mirrors one simulcast layer.
type RtpEncodingParameters struct {
	SSRC            uint32         `json:"ssrc,omitempty"`
	RID             string         `json:"rid,omitempty"`
	MaxBitrate      uint64         `json:"maxBitrate,omitempty"`
	ScalabilityMode string         `json:"scalabilityMode,omitempty"`
	Rtx             *RtxParameters `json:"rtx,omitempty"`
}

type RtcpParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

type RtpParameters struct {
	MID              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp"`
}

// FormatFmtp renders codec parameters as an SDP fmtp line with keys sorted.
func FormatFmtp(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(params[k]))
	}
	return strings.Join(parts, ";")
}

// ParseFmtp is the inverse of FormatFmtp. Integer values come back as int.
func ParseFmtp(line string) map[string]any {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	out := make(map[string]any)
	for _, part := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}

func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		// JSON numbers decode as float64
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return formatValue(float64(n))
	default:
		return fmt.Sprint(v)
	}
}
