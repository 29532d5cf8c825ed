package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes envelopes for one websocket frame type.
type Codec interface {
	Name() string
	FrameType() int
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
	Unmarshal(data []byte, v any) error
}

// CodecByName returns the codec registered under name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown signaling codec %q", name)
	}
}

// JSONCodec sends text frames.
type JSONCodec struct{}

type jsonEnvelope struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	Ack     bool            `json:"ack,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c JSONCodec) Decode(data []byte) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &Message{
		Event: env.Event,
		ID:    env.ID,
		Ack:   env.Ack,
		Error: env.Error,
		raw:   env.Payload,
		codec: c,
	}, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MsgpackCodec sends binary frames. Struct fields are keyed by their json
// tags so both codecs share one set of payload types.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Event   string             `json:"event"`
	ID      string             `json:"id,omitempty"`
	Ack     bool               `json:"ack,omitempty"`
	Error   string             `json:"error,omitempty"`
	Payload msgpack.RawMessage `json:"payload,omitempty"`
}

func (MsgpackCodec) Name() string   { return "msgpack" }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c MsgpackCodec) Decode(data []byte) (*Message, error) {
	var env msgpackEnvelope
	if err := c.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &Message{
		Event: env.Event,
		ID:    env.ID,
		Ack:   env.Ack,
		Error: env.Error,
		raw:   env.Payload,
		codec: c,
	}, nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
