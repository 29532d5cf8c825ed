package ortc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/ubaish01/commune--client/internal/protocol"
)

func toPionCandidates(in []protocol.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))
	for _, c := range in {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	return out, nil
}

func toPionICEParameters(p protocol.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.IceLite,
	}
}

// remoteDTLS converts the server's DTLS parameters. A server in "auto" role
// acts as DTLS server, so the local side becomes client.
func remoteDTLS(p protocol.DtlsParameters) (remote webrtc.DTLSParameters, localRole string) {
	remote.Role = webrtc.DTLSRoleServer
	localRole = "client"
	if p.Role == "client" {
		remote.Role = webrtc.DTLSRoleClient
		localRole = "server"
	}
	for _, fp := range p.Fingerprints {
		remote.Fingerprints = append(remote.Fingerprints, webrtc.DTLSFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return remote, localRole
}

func localDTLS(p webrtc.DTLSParameters, role string) protocol.DtlsParameters {
	out := protocol.DtlsParameters{Role: role}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, protocol.DtlsFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return out
}
