package batchworker

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/shredstream/internal/dispatch"
	"github.com/xtaci/shredstream/internal/metrics"
	"github.com/xtaci/shredstream/internal/shred"
	"github.com/xtaci/shredstream/pkg/txevent"
)

type fakeHandler struct {
	events []*txevent.Event
}

func (h *fakeHandler) HandleTransaction(ctx context.Context, event *txevent.Event) error {
	h.events = append(h.events, event)
	return nil
}

func fragmentAt(index uint32, ts uint64, body []byte) *shred.Fragment {
	raw := shred.BuildDataHeader(1, index, 0, body)
	f, err := shred.Parse(raw, ts)
	if err != nil {
		panic(err)
	}
	return f
}

func shortVecByte(n int) []byte { return []byte{byte(n)} }

func buildEmptyTransactionBytes() []byte {
	var buf bytes.Buffer
	buf.Write(shortVecByte(0)) // no signatures
	buf.WriteByte(0)           // header.num_required_signatures
	buf.WriteByte(0)           // header.num_readonly_signed_accounts
	buf.WriteByte(0)           // header.num_readonly_unsigned_accounts
	buf.Write(shortVecByte(0)) // no account keys
	buf.Write(bytes.Repeat([]byte{0}, 32))
	buf.Write(shortVecByte(0)) // no instructions
	return buf.Bytes()
}

func buildSingleEntryBatch() []byte {
	var buf bytes.Buffer

	entryCountPrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(entryCountPrefix, 1)
	buf.Write(entryCountPrefix)

	numHashes := make([]byte, 8)
	binary.LittleEndian.PutUint64(numHashes, 7)
	buf.Write(numHashes)
	buf.Write(bytes.Repeat([]byte{0xAA}, 32))

	txCount := make([]byte, 8)
	binary.LittleEndian.PutUint64(txCount, 1)
	buf.Write(txCount)
	buf.Write(buildEmptyTransactionBytes())

	return buf.Bytes()
}

func TestConcatenateJoinsFragmentData(t *testing.T) {
	f0 := fragmentAt(0, 100, []byte("abc"))
	f1 := fragmentAt(1, 200, []byte("def"))

	work := dispatch.Work{
		StartIndex: 0,
		EndIndex:   1,
		Fragments:  map[uint32]*shred.Fragment{0: f0, 1: f1},
	}

	combined, offsets, timestamps, err := concatenate(work)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), combined)
	require.Equal(t, []int{0, 3}, offsets)
	require.Equal(t, uint64(100), *timestamps[0])
	require.Equal(t, uint64(200), *timestamps[1])
}

func TestConcatenateErrorsOnMissingFragment(t *testing.T) {
	work := dispatch.Work{
		StartIndex: 0,
		EndIndex:   1,
		Fragments:  map[uint32]*shred.Fragment{0: fragmentAt(0, 1, []byte("a"))},
	}

	_, _, _, err := concatenate(work)
	require.Error(t, err)
}

func TestParseEntriesEmptyBatchReturnsNothing(t *testing.T) {
	metas, err := parseEntries(make([]byte, 4), nil, nil)
	require.NoError(t, err)
	require.Empty(t, metas)
}

func TestParseEntriesDecodesOneEntry(t *testing.T) {
	combined := buildSingleEntryBatch()
	offsets := []int{0}
	ts := uint64(55)
	timestamps := []*uint64{&ts}

	metas, err := parseEntries(combined, offsets, timestamps)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, uint64(7), metas[0].entry.NumHashes)
	require.Len(t, metas[0].entry.Transactions, 1)
}

func TestAttributeTimestampExactAndMidFragment(t *testing.T) {
	offsets := []int{0, 10, 20}
	a, b := uint64(1), uint64(2)
	c := uint64(3)
	timestamps := []*uint64{&a, &b, &c}

	require.Equal(t, &b, attributeTimestamp(10, offsets, timestamps))
	require.Equal(t, &a, attributeTimestamp(5, offsets, timestamps))
	require.Nil(t, attributeTimestamp(-1, offsets, timestamps))
}

func TestProcessEmitsOneEventPerTransaction(t *testing.T) {
	combined := buildSingleEntryBatch()
	f := fragmentAt(0, 0, combined)

	work := dispatch.Work{
		Slot:       9,
		StartIndex: 0,
		EndIndex:   0,
		Fragments:  map[uint32]*shred.Fragment{0: f},
	}

	h := &fakeHandler{}
	w := &worker{id: 0, handler: h, metrics: metrics.New(false)}

	require.NoError(t, w.process(context.Background(), work))
	require.Len(t, h.events, 1)
	require.Equal(t, uint64(9), h.events[0].Slot)
	require.False(t, h.events[0].Confirmed)
}
