package shred

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildDataFragment(slot uint64, index, fecSetIndex uint32, flags byte, payload []byte) []byte {
	buf := make([]byte, offsetPayload+len(payload))
	buf[offsetType] = typeNibbleData
	binary.LittleEndian.PutUint64(buf[offsetSlot:], slot)
	binary.LittleEndian.PutUint32(buf[offsetIndex:], index)
	binary.LittleEndian.PutUint32(buf[offsetVersion:], 0)
	binary.LittleEndian.PutUint32(buf[offsetFecSetIndex:], fecSetIndex)
	buf[offsetFlags] = flags
	binary.LittleEndian.PutUint16(buf[offsetTotalSize:], uint16(offsetPayload+len(payload)))
	copy(buf[offsetPayload:], payload)
	return buf
}

func buildCodeFragment(slot uint64, index, fecSetIndex uint32, expectedDataCount uint16) []byte {
	buf := make([]byte, offsetFlags)
	buf[offsetType] = typeNibbleCode
	binary.LittleEndian.PutUint64(buf[offsetSlot:], slot)
	binary.LittleEndian.PutUint32(buf[offsetIndex:], index)
	binary.LittleEndian.PutUint32(buf[offsetVersion:], 0)
	binary.LittleEndian.PutUint32(buf[offsetFecSetIndex:], fecSetIndex)
	binary.LittleEndian.PutUint16(buf[offsetExpectedLo:offsetExpectedHi], expectedDataCount)
	return buf
}

func TestParseDataFragment(t *testing.T) {
	raw := buildDataFragment(42, 7, 5, BatchEndFlag, []byte("hello"))

	f, err := Parse(raw, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(42), f.Slot)
	require.Equal(t, uint32(7), f.Index)
	require.Equal(t, uint32(5), f.FecSetIndex)
	require.Equal(t, TypeData, f.Type)
	require.NotNil(t, f.ReceivedAtMicros)
	require.Equal(t, uint64(1000), *f.ReceivedAtMicros)
	require.True(t, f.ClosesBatch())
	require.Equal(t, []byte("hello"), f.Data())
}

func TestParseCodeFragment(t *testing.T) {
	raw := buildCodeFragment(42, 2, 5, 32)

	f, err := Parse(raw, 2000)
	require.NoError(t, err)
	require.Equal(t, TypeCode, f.Type)

	count, ok := ExpectedDataCount(f.Payload)
	require.True(t, ok)
	require.Equal(t, uint16(32), count)
}

func TestParseRejectsShortFragment(t *testing.T) {
	_, err := Parse(make([]byte, 10), 0)
	require.Error(t, err)
}

func TestParseRejectsUnknownType(t *testing.T) {
	raw := buildDataFragment(1, 1, 0, 0, nil)
	raw[offsetType] = 0x0f
	_, err := Parse(raw, 0)
	require.Error(t, err)
}

func TestPeekKeyMatchesParse(t *testing.T) {
	raw := buildDataFragment(99, 3, 1, 0, []byte("x"))
	key, ok := PeekKey(raw)
	require.True(t, ok)
	require.Equal(t, Key{Slot: 99, FecSetIndex: 1}, key)

	f, err := Parse(raw, 0)
	require.NoError(t, err)
	require.Equal(t, key, f.Key())
}

func TestPeekKeyRejectsUndersized(t *testing.T) {
	_, ok := PeekKey(make([]byte, 3))
	require.False(t, ok)
}

func TestDataHandlesTruncatedPayload(t *testing.T) {
	raw := buildDataFragment(1, 1, 0, 0, []byte("hello world"))
	// Claim a total size larger than the buffer actually holds.
	binary.LittleEndian.PutUint16(raw[offsetTotalSize:], 65000)

	f, err := Parse(raw, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), f.Data())
}

func TestClosesBatchFalseWithoutFlagByte(t *testing.T) {
	f := &Fragment{Payload: make([]byte, offsetFlags)}
	require.False(t, f.ClosesBatch())
}
