package protocol

import (
	"encoding"
	"errors"
	"fmt"
	"math"

	"github.com/blukai/dogfight/internal/byteorder"
	"github.com/blukai/dogfight/internal/debug"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	FrameHeaderSize = 4 // uint16 (2) + uint16 (2) = 4
	MaxPayloadSize  = math.MaxUint16
	FrameMaxSize    = FrameHeaderSize + MaxPayloadSize
)

var (
	ErrShortFrame       = errors.New("frame shorter than header")
	ErrTruncatedPayload = errors.New("frame payload truncated")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrEmptyPayload     = errors.New("empty payload")
)

type FrameHeader struct {
	Type MessageType
	Size uint16
}

var (
	_ encoding.BinaryMarshaler   = (*FrameHeader)(nil)
	_ encoding.BinaryUnmarshaler = (*FrameHeader)(nil)
)

func (h *FrameHeader) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, FrameHeaderSize)
	data = byteorder.AppendHtons(data, uint16(h.Type))
	data = byteorder.AppendHtons(data, h.Size)

	debug.Assert(len(data) == FrameHeaderSize)

	return data, nil
}

func (h *FrameHeader) UnmarshalBinary(data []byte) error {
	if len(data) < FrameHeaderSize {
		return ErrShortFrame
	}

	h.Type = MessageType(byteorder.Ntohs(data[0:2]))
	h.Size = byteorder.Ntohs(data[2:4])

	return nil
}

// Envelope is the decoded `{type, data}` pair. Data holds the msgpack
// encoded payload and is decoded lazily by handlers with DecodePayload.
type Envelope struct {
	Type MessageType
	Data []byte
}

var (
	_ encoding.BinaryMarshaler   = (*Envelope)(nil)
	_ encoding.BinaryUnmarshaler = (*Envelope)(nil)
)

func (env *Envelope) MarshalBinary() ([]byte, error) {
	if len(env.Data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrPayloadTooLarge, env.Type, len(env.Data))
	}

	header := FrameHeader{Type: env.Type, Size: uint16(len(env.Data))}
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal header: %w", err)
	}

	data := make([]byte, 0, FrameHeaderSize+len(env.Data))
	data = append(data, headerBytes...)
	data = append(data, env.Data...)

	return data, nil
}

// UnmarshalBinary accepts any type number. Unknown types are left to the
// router to ignore.
func (env *Envelope) UnmarshalBinary(data []byte) error {
	header := FrameHeader{}
	if err := header.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("could not unmarshal header: %w", err)
	}

	end := FrameHeaderSize + int(header.Size)
	if len(data) < end {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrTruncatedPayload, end, len(data))
	}

	env.Type = header.Type
	env.Data = nil
	if header.Size > 0 {
		env.Data = make([]byte, header.Size)
		copy(env.Data, data[FrameHeaderSize:end])
	}

	return nil
}

// NewEnvelope encodes payload into an envelope of type t. A nil payload
// produces an empty body.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}

	data, err := msgpack.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("could not marshal %s payload: %w", t, err)
	}
	if len(data) > MaxPayloadSize {
		return Envelope{}, fmt.Errorf("%w: %s is %d bytes", ErrPayloadTooLarge, t, len(data))
	}
	env.Data = data

	return env, nil
}

// Encode builds a ready-to-send frame.
func Encode(t MessageType, payload any) ([]byte, error) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		return nil, err
	}
	return env.MarshalBinary()
}

// Decode parses a frame.
func Decode(frame []byte) (Envelope, error) {
	env := Envelope{}
	if err := env.UnmarshalBinary(frame); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodePayload decodes the envelope body into a T.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 {
		return out, fmt.Errorf("%w for type %s", ErrEmptyPayload, env.Type)
	}
	if err := msgpack.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("could not unmarshal %s payload: %w", env.Type, err)
	}
	return out, nil
}
