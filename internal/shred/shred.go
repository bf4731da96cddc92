package shred

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Type distinguishes an original (Data) shred from an erasure-coded parity
// (Code) shred within a FEC set.
type Type uint8

const (
	TypeData Type = iota
	TypeCode
)

const (
	offsetType        = 64
	offsetSlot        = 65
	offsetIndex       = 73
	offsetVersion     = 77
	offsetFecSetIndex = 79
	offsetFlags       = 85
	offsetTotalSize   = 86
	offsetPayload     = 88
	offsetExpectedLo  = 83
	offsetExpectedHi  = 85

	// MinHeaderSize is the smallest legal fragment: the common header with
	// no trailing payload bytes.
	MinHeaderSize = offsetFlags

	// PayloadOffset is where the fixed-size, Reed-Solomon-coded region of a
	// fragment begins, for both Data and Code shreds alike. Everything
	// before it (signature, slot, index, fec_set_index, and the
	// type-specific flags/total-size or expected-data-count fields) is
	// carried per-packet and is never itself erasure-coded.
	PayloadOffset = offsetPayload

	// BatchEndFlag marks the data fragment that closes a transaction batch.
	BatchEndFlag = 0x40

	typeNibbleData = 0x5
	typeNibbleCode = 0x6
)

// Key identifies the FEC set a fragment belongs to: the slot it was produced
// in and the index of the first data fragment of that set.
type Key struct {
	Slot        uint64
	FecSetIndex uint32
}

// Fragment is a parsed shred: one erasure-coded piece of a slot's serialized
// entry stream, annotated with the wall-clock time it arrived on the wire.
// ReceivedAtMicros is nil for fragments produced by Reed-Solomon recovery
// rather than received directly.
type Fragment struct {
	Slot        uint64
	Index       uint32
	FecSetIndex uint32
	Type        Type
	Payload     []byte

	ReceivedAtMicros *uint64
}

// Key returns the FEC set this fragment belongs to.
func (f *Fragment) Key() Key {
	return Key{Slot: f.Slot, FecSetIndex: f.FecSetIndex}
}

// Parse decodes raw on-wire bytes into a Fragment. receivedAtMicros is the
// ingress collaborator's arrival timestamp and is attached verbatim.
func Parse(raw []byte, receivedAtMicros uint64) (*Fragment, error) {
	if len(raw) < MinHeaderSize {
		return nil, errors.Errorf("fragment too short: %d bytes, want at least %d", len(raw), MinHeaderSize)
	}

	var typ Type
	switch raw[offsetType] & 0x0f {
	case typeNibbleData:
		typ = TypeData
	case typeNibbleCode:
		typ = TypeCode
	default:
		return nil, errors.Errorf("unknown fragment type discriminant: 0x%02x", raw[offsetType])
	}

	ts := receivedAtMicros
	return &Fragment{
		Slot:             binary.LittleEndian.Uint64(raw[offsetSlot:]),
		Index:            binary.LittleEndian.Uint32(raw[offsetIndex:]),
		FecSetIndex:      binary.LittleEndian.Uint32(raw[offsetFecSetIndex:]),
		Type:             typ,
		Payload:          raw,
		ReceivedAtMicros: &ts,
	}, nil
}

// PeekKey reads only the bytes needed to route a fragment, without
// validating the type discriminant. The ingress fan-out uses this so a
// malformed fragment still reaches (and is dropped by) the FEC worker that
// owns its key, rather than being silently misrouted.
func PeekKey(raw []byte) (Key, bool) {
	if len(raw) < offsetFecSetIndex+4 {
		return Key{}, false
	}
	return Key{
		Slot:        binary.LittleEndian.Uint64(raw[offsetSlot:]),
		FecSetIndex: binary.LittleEndian.Uint32(raw[offsetFecSetIndex:]),
	}, true
}

// ExpectedDataCount reads a Code fragment's count of original data fragments
// in its FEC set, from bytes 83..85.
func ExpectedDataCount(payload []byte) (uint16, bool) {
	if len(payload) < offsetExpectedHi {
		return 0, false
	}
	return binary.LittleEndian.Uint16(payload[offsetExpectedLo:offsetExpectedHi]), true
}

// ClosesBatch reports whether a data fragment's flags byte marks it as the
// last fragment of a transaction batch.
func (f *Fragment) ClosesBatch() bool {
	if len(f.Payload) <= offsetFlags {
		return false
	}
	return f.Payload[offsetFlags]&BatchEndFlag != 0
}

// TotalSize reads a data fragment's little-endian total size (header plus
// payload) from bytes 86..88.
func (f *Fragment) TotalSize() (uint16, bool) {
	if len(f.Payload) < offsetPayload {
		return 0, false
	}
	return binary.LittleEndian.Uint16(f.Payload[offsetTotalSize:offsetPayload]), true
}

// Data returns the entry-stream bytes this fragment contributes: the span
// payload[88 .. 88+data_size), where data_size = max(0, total_size-88).
func (f *Fragment) Data() []byte {
	total, ok := f.TotalSize()
	if !ok {
		return nil
	}

	dataSize := 0
	if int(total) > offsetPayload {
		dataSize = int(total) - offsetPayload
	}

	end := offsetPayload + dataSize
	if end > len(f.Payload) {
		end = len(f.Payload)
	}
	if offsetPayload > end {
		return nil
	}
	return f.Payload[offsetPayload:end]
}

// BuildDataHeader writes a fresh data-fragment header around body, ready to
// hand to Parse. Used when synthesizing a fragment whose bytes were never
// received on the wire but instead produced by Reed-Solomon recovery.
func BuildDataHeader(slot uint64, index, fecSetIndex uint32, body []byte) []byte {
	buf := make([]byte, offsetPayload+len(body))
	buf[offsetType] = typeNibbleData
	binary.LittleEndian.PutUint64(buf[offsetSlot:], slot)
	binary.LittleEndian.PutUint32(buf[offsetIndex:], index)
	binary.LittleEndian.PutUint32(buf[offsetFecSetIndex:], fecSetIndex)
	binary.LittleEndian.PutUint16(buf[offsetTotalSize:], uint16(len(buf)))
	copy(buf[offsetPayload:], body)
	return buf
}
