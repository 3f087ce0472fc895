package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode marks malformed or truncated wire input.
var ErrDecode = errors.New("decode message")

// Each message is a single length-delimited field; the field number is the variant tag.
const (
	tagPing       protowire.Number = 1
	tagScreenSize protowire.Number = 2
	tagScreen     protowire.Number = 3

	tagPong          protowire.Number = 1
	tagRequestScreen protowire.Number = 2
	tagClick         protowire.Number = 3
)

// EncodeDevice serializes one device message.
func EncodeDevice(msg DeviceMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Ping:
		return appendEnvelope(nil, tagPing, nil), nil
	case ScreenSize:
		return appendEnvelope(nil, tagScreenSize, appendPair(uint64(m.Width), uint64(m.Height))), nil
	case Screen:
		return appendEnvelope(nil, tagScreen, m.Data), nil
	default:
		return nil, fmt.Errorf("encode device message: unsupported type %T", msg)
	}
}

// DecodeDevice parses exactly one device message from data.
func DecodeDevice(data []byte) (DeviceMessage, error) {
	tag, payload, err := consumeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagPing:
		if err := requireEmpty(payload, "ping"); err != nil {
			return nil, err
		}
		return Ping{}, nil
	case tagScreenSize:
		width, height, err := consumePair(payload, math.MaxUint32)
		if err != nil {
			return nil, fmt.Errorf("screen_size: %w", err)
		}
		return ScreenSize{Width: uint32(width), Height: uint32(height)}, nil
	case tagScreen:
		var screen Screen
		if len(payload) > 0 {
			screen.Data = bytes.Clone(payload)
		}
		return screen, nil
	default:
		return nil, fmt.Errorf("%w: unknown device message tag %d", ErrDecode, tag)
	}
}

// EncodeHost serializes one host message.
func EncodeHost(msg HostMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Pong:
		return appendEnvelope(nil, tagPong, nil), nil
	case RequestScreen:
		return appendEnvelope(nil, tagRequestScreen, nil), nil
	case Click:
		return appendEnvelope(nil, tagClick, appendPair(uint64(m.X), uint64(m.Y))), nil
	default:
		return nil, fmt.Errorf("encode host message: unsupported type %T", msg)
	}
}

// DecodeHost parses exactly one host message from data.
func DecodeHost(data []byte) (HostMessage, error) {
	tag, payload, err := consumeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagPong:
		if err := requireEmpty(payload, "pong"); err != nil {
			return nil, err
		}
		return Pong{}, nil
	case tagRequestScreen:
		if err := requireEmpty(payload, "request_screen"); err != nil {
			return nil, err
		}
		return RequestScreen{}, nil
	case tagClick:
		x, y, err := consumePair(payload, math.MaxUint16)
		if err != nil {
			return nil, fmt.Errorf("click: %w", err)
		}
		return Click{X: uint16(x), Y: uint16(y)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown host message tag %d", ErrDecode, tag)
	}
}

func appendEnvelope(b []byte, tag protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, tag, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// appendPair writes two varint fields (1 and 2); zero values are kept so output is fixed-shape.
func appendPair(first, second uint64) []byte {
	b := make([]byte, 0, 2+2*protowire.SizeVarint(math.MaxUint32))
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, first)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	return protowire.AppendVarint(b, second)
}

func consumeEnvelope(data []byte) (protowire.Number, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	tag, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return 0, nil, fmt.Errorf("%w: tag: %v", ErrDecode, protowire.ParseError(n))
	}
	if typ != protowire.BytesType {
		return 0, nil, fmt.Errorf("%w: tag %d has wire type %d, want bytes", ErrDecode, tag, typ)
	}

	payload, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return 0, nil, fmt.Errorf("%w: payload: %v", ErrDecode, protowire.ParseError(m))
	}
	if trailing := len(data) - n - m; trailing != 0 {
		return 0, nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode, trailing)
	}
	return tag, payload, nil
}

func consumePair(payload []byte, limit uint64) (uint64, uint64, error) {
	var (
		values [2]uint64
		seen   [2]bool
	)

	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return 0, 0, fmt.Errorf("%w: field tag: %v", ErrDecode, protowire.ParseError(n))
		}
		if num != 1 && num != 2 {
			return 0, 0, fmt.Errorf("%w: unknown field %d", ErrDecode, num)
		}
		if typ != protowire.VarintType {
			return 0, 0, fmt.Errorf("%w: field %d has wire type %d, want varint", ErrDecode, num, typ)
		}
		idx := int(num) - 1
		if seen[idx] {
			return 0, 0, fmt.Errorf("%w: duplicate field %d", ErrDecode, num)
		}

		v, m := protowire.ConsumeVarint(payload[n:])
		if m < 0 {
			return 0, 0, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(m))
		}
		if v > limit {
			return 0, 0, fmt.Errorf("%w: field %d value %d exceeds %d", ErrDecode, num, v, limit)
		}

		values[idx] = v
		seen[idx] = true
		payload = payload[n+m:]
	}

	if !seen[0] || !seen[1] {
		return 0, 0, fmt.Errorf("%w: missing coordinate field", ErrDecode)
	}
	return values[0], values[1], nil
}

func requireEmpty(payload []byte, name string) error {
	if len(payload) != 0 {
		return fmt.Errorf("%w: %s carries %d unexpected payload bytes", ErrDecode, name, len(payload))
	}
	return nil
}
