package signaling

import "errors"

// Message is the envelope exchanged with the signaling server.
//
// A request carries an ID; the answer echoes it with Ack set. Pushes and
// fire-and-forget emits have no ID.
type Message struct {
	Event   string `json:"event"`
	ID      string `json:"id,omitempty"`
	Ack     bool   `json:"ack,omitempty"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`

	raw   []byte
	codec Codec
}

// Payload is an undecoded message body.
type Payload interface {
	Decode(v any) error
}

// Decode unmarshals the raw payload of an inbound message into v. An empty
// payload leaves v untouched.
func (m *Message) Decode(v any) error {
	if v == nil || len(m.raw) == 0 {
		return nil
	}
	if m.codec == nil {
		return errors.New("message has no codec")
	}
	return m.codec.Unmarshal(m.raw, v)
}

// Raw returns the encoded payload bytes of an inbound message.
func (m *Message) Raw() []byte {
	return m.raw
}
