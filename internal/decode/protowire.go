package decode

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// pbField is a single raw field read from the wire. Which member is
// populated depends on the wire type.
type pbField struct {
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

// pbMessage maps field numbers to raw values in encounter order. Messages
// are read without a generated schema; callers pull out the handful of
// fields they know and everything else stays untouched.
type pbMessage map[protowire.Number][]pbField

// parseMessage splits a protobuf wire message into raw fields. Group-typed
// fields are skipped whole.
func parseMessage(data []byte) (pbMessage, error) {
	msg := make(pbMessage)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("read tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		f := pbField{typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("field %d: read varint: %w", num, protowire.ParseError(n))
			}
			f.varint = v
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, fmt.Errorf("field %d: read fixed32: %w", num, protowire.ParseError(n))
			}
			f.fixed32 = v
			data = data[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, fmt.Errorf("field %d: read fixed64: %w", num, protowire.ParseError(n))
			}
			f.fixed64 = v
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("field %d: read bytes: %w", num, protowire.ParseError(n))
			}
			f.bytes = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("field %d: unsupported wire type %d", num, typ)
			}
			data = data[n:]
			continue
		}
		msg[num] = append(msg[num], f)
	}
	return msg, nil
}

func (m pbMessage) first(num protowire.Number) (pbField, bool) {
	fs := m[num]
	if len(fs) == 0 {
		return pbField{}, false
	}
	return fs[0], true
}

// uintVal returns a varint field, or 0 when absent.
func (m pbMessage) uintVal(num protowire.Number) uint64 {
	f, ok := m.first(num)
	if !ok || f.typ != protowire.VarintType {
		return 0
	}
	return f.varint
}

// int32Val returns a signed varint field truncated to 32 bits. Negative
// int32 values arrive as 10-byte sign-extended varints; truncation
// recovers the original value.
func (m pbMessage) int32Val(num protowire.Number) int32 {
	return int32(uint32(m.uintVal(num)))
}

func (m pbMessage) bytesVal(num protowire.Number) []byte {
	f, ok := m.first(num)
	if !ok || f.typ != protowire.BytesType {
		return nil
	}
	return f.bytes
}

func (m pbMessage) stringVal(num protowire.Number) string {
	return string(m.bytesVal(num))
}

// float32Val reads a float field (fixed32 on the wire).
func (m pbMessage) float32Val(num protowire.Number) float32 {
	f, ok := m.first(num)
	if !ok || f.typ != protowire.Fixed32Type {
		return 0
	}
	return math.Float32frombits(f.fixed32)
}

// float64Val reads a double field (fixed64 on the wire).
func (m pbMessage) float64Val(num protowire.Number) float64 {
	f, ok := m.first(num)
	if !ok || f.typ != protowire.Fixed64Type {
		return 0
	}
	return math.Float64frombits(f.fixed64)
}

// subMessage parses a length-delimited field as a nested message. Absent
// fields yield nil without error.
func (m pbMessage) subMessage(num protowire.Number) (pbMessage, error) {
	f, ok := m.first(num)
	if !ok {
		return nil, nil
	}
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: expected message, got wire type %d", num, f.typ)
	}
	return parseMessage(f.bytes)
}

// subMessages parses every occurrence of a repeated message field.
func (m pbMessage) subMessages(num protowire.Number) ([]pbMessage, error) {
	var out []pbMessage
	for _, f := range m[num] {
		if f.typ != protowire.BytesType {
			return nil, fmt.Errorf("field %d: expected message, got wire type %d", num, f.typ)
		}
		sub, err := parseMessage(f.bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// stringMap reads a map<string,string> field. Malformed entries are
// dropped rather than failing the whole message.
func (m pbMessage) stringMap(num protowire.Number) map[string]string {
	entries := m[num]
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, f := range entries {
		if f.typ != protowire.BytesType {
			continue
		}
		entry, err := parseMessage(f.bytes)
		if err != nil {
			continue
		}
		out[entry.stringVal(mapKeyField)] = entry.stringVal(mapValueField)
	}
	return out
}
