// Package tuple provides the order-preserving element encoding every
// subspace and index-maintainer key is built from. Spec §1 treats binary
// tuple encoding as an external collaborator ("the core treats packed keys
// as opaque byte strings"); this package is the core's own small, internal
// implementation of that contract — not the thing being specified, just the
// minimum needed so the rest of the module has something concrete to pack
// keys with. The scheme follows FoundationDB's tuple layer (type-tagged,
// order-preserving per element) closely enough that keys sort exactly the
// way spec §4.1 requires, without pulling in an external tuple library.
package tuple

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pborman/uuid"
)

// Type tags. Values are chosen so that the tag byte itself sorts in the
// same relative order as the element kinds would in a schema-free
// comparison (bytes < strings < ints < uuid < float < bool), which only
// matters when tuples of mixed, schema-free shape are compared — ordinary
// index keys never mix types at a given position because the catalog fixes
// each field's type (spec §3 FieldSchema).
const (
	tagNull  byte = 0x00
	tagBytes byte = 0x01
	tagString byte = 0x02
	tagInt   byte = 0x0c
	tagUUID  byte = 0x1e
	tagFloat byte = 0x20
	tagFalse byte = 0x26
	tagTrue  byte = 0x27
)

// Element is one packed value in a Tuple. Exactly one field is meaningful,
// selected by its kind tag.
type Element struct {
	kind byte
	i    int64
	f    float64
	s    string
	b    []byte
	u    uuid.UUID
	t    time.Time
	null bool
}

func Null() Element                 { return Element{null: true} }
func Int(v int64) Element           { return Element{kind: tagInt, i: v} }
func Float(v float64) Element       { return Element{kind: tagFloat, f: v} }
func String(v string) Element       { return Element{kind: tagString, s: v} }
func Bytes(v []byte) Element        { return Element{kind: tagBytes, b: append([]byte(nil), v...)} }
func Bool(v bool) Element           { return Element{kind: boolTag(v)} }
func UUID(v uuid.UUID) Element      { return Element{kind: tagUUID, u: v} }
func Date(v time.Time) Element      { return Element{kind: tagInt, i: v.UnixNano(), t: v} }

func boolTag(v bool) byte {
	if v {
		return tagTrue
	}
	return tagFalse
}

func (e Element) IsNull() bool { return e.null }

func (e Element) AsInt() (int64, bool)     { return e.i, e.kind == tagInt && !e.null }
func (e Element) AsFloat() (float64, bool) { return e.f, e.kind == tagFloat && !e.null }
func (e Element) AsString() (string, bool) { return e.s, e.kind == tagString && !e.null }
func (e Element) AsBytes() ([]byte, bool)  { return e.b, e.kind == tagBytes && !e.null }
func (e Element) AsBool() (bool, bool) {
	return e.kind == tagTrue, (e.kind == tagTrue || e.kind == tagFalse) && !e.null
}
func (e Element) AsUUID() (uuid.UUID, bool) { return e.u, e.kind == tagUUID && !e.null }

// Tuple is an ordered sequence of elements. Packing preserves order: for two
// tuples with the same element-type prefix, Pack(a) < Pack(b) (as byte
// strings) iff a < b lexicographically by element.
type Tuple []Element

func From(elems ...Element) Tuple { return Tuple(elems) }

// Pack encodes the tuple to an opaque, order-preserving byte string.
func (t Tuple) Pack() []byte {
	var buf bytes.Buffer
	for _, e := range t {
		packElement(&buf, e)
	}
	return buf.Bytes()
}

func packElement(buf *bytes.Buffer, e Element) {
	if e.null {
		buf.WriteByte(tagNull)
		return
	}
	switch e.kind {
	case tagInt:
		buf.WriteByte(tagInt)
		// flip the sign bit so two's-complement ordering becomes
		// unsigned big-endian ordering across negative and positive.
		u := uint64(e.i) ^ (1 << 63)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], u)
		buf.Write(b[:])
	case tagFloat:
		buf.WriteByte(tagFloat)
		bits := math.Float64bits(e.f)
		if e.f >= 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf.Write(b[:])
	case tagString:
		buf.WriteByte(tagString)
		writeEscaped(buf, []byte(e.s))
	case tagBytes:
		buf.WriteByte(tagBytes)
		writeEscaped(buf, e.b)
	case tagUUID:
		buf.WriteByte(tagUUID)
		buf.Write(e.u)
	case tagTrue, tagFalse:
		buf.WriteByte(e.kind)
	default:
		panic(fmt.Sprintf("tuple: unknown element kind %x", e.kind))
	}
}

// writeEscaped encodes raw bytes terminated by 0x00, escaping any embedded
// 0x00 byte as the two-byte sequence 0x00 0xFF so the terminator remains
// unambiguous while preserving lexicographic order (the FDB tuple-layer
// escaping trick).
func writeEscaped(buf *bytes.Buffer, raw []byte) {
	for _, b := range raw {
		if b == 0x00 {
			buf.WriteByte(0x00)
			buf.WriteByte(0xFF)
		} else {
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(0x00)
}

func readEscaped(b []byte) (raw []byte, rest []byte, err error) {
	var out []byte
	i := 0
	for {
		if i >= len(b) {
			return nil, nil, errors.New("tuple: unterminated byte string")
		}
		if b[i] == 0x00 {
			if i+1 < len(b) && b[i+1] == 0xFF {
				out = append(out, 0x00)
				i += 2
				continue
			}
			return out, b[i+1:], nil
		}
		out = append(out, b[i])
		i++
	}
}

// Unpack decodes a byte string produced by Pack back into its elements.
func Unpack(data []byte) (Tuple, error) {
	var out Tuple
	rest := data
	for len(rest) > 0 {
		tag := rest[0]
		rest = rest[1:]
		switch tag {
		case tagNull:
			out = append(out, Null())
		case tagInt:
			if len(rest) < 8 {
				return nil, errors.New("tuple: truncated int")
			}
			u := binary.BigEndian.Uint64(rest[:8])
			rest = rest[8:]
			out = append(out, Int(int64(u^(1<<63))))
		case tagFloat:
			if len(rest) < 8 {
				return nil, errors.New("tuple: truncated float")
			}
			bits := binary.BigEndian.Uint64(rest[:8])
			rest = rest[8:]
			if bits&(1<<63) != 0 {
				bits ^= 1 << 63
			} else {
				bits = ^bits
			}
			out = append(out, Float(math.Float64frombits(bits)))
		case tagString:
			raw, r, err := readEscaped(rest)
			if err != nil {
				return nil, err
			}
			rest = r
			out = append(out, String(string(raw)))
		case tagBytes:
			raw, r, err := readEscaped(rest)
			if err != nil {
				return nil, err
			}
			rest = r
			out = append(out, Bytes(raw))
		case tagUUID:
			if len(rest) < 16 {
				return nil, errors.New("tuple: truncated uuid")
			}
			out = append(out, UUID(uuid.UUID(append([]byte(nil), rest[:16]...))))
			rest = rest[16:]
		case tagTrue:
			out = append(out, Bool(true))
		case tagFalse:
			out = append(out, Bool(false))
		default:
			return nil, fmt.Errorf("tuple: unknown tag %x", tag)
		}
	}
	return out, nil
}

// Compare orders two tuples the way their packed byte strings would sort.
func Compare(a, b Tuple) int {
	return bytes.Compare(a.Pack(), b.Pack())
}
