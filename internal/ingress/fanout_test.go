package ingress

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/shredstream/internal/dedup"
	"github.com/xtaci/shredstream/internal/fec"
	"github.com/xtaci/shredstream/internal/shred"
)

func fragmentBytes(slot uint64, fecSetIndex uint32) []byte {
	buf := make([]byte, shred.MinHeaderSize)
	buf[64] = 0x5
	binary.LittleEndian.PutUint64(buf[65:], slot)
	binary.LittleEndian.PutUint32(buf[79:], fecSetIndex)
	return buf
}

func TestFanOutRoutesByShardIndex(t *testing.T) {
	inboxes := []chan fec.RawFragment{make(chan fec.RawFragment, 1), make(chan fec.RawFragment, 1)}
	f := NewFanOut(inboxes, dedup.New())

	raw := fragmentBytes(1, 0)
	key, ok := shred.PeekKey(raw)
	require.True(t, ok)
	want := dedup.ShardIndex(key, 2)

	f.route(RawMessage{Bytes: raw, ReceivedAtMicros: 5})

	select {
	case got := <-inboxes[want]:
		require.Equal(t, raw, got.Bytes)
		require.Equal(t, uint64(5), got.ReceivedAtMicros)
	case <-time.After(time.Second):
		t.Fatalf("expected fragment on inbox %d", want)
	}
}

func TestFanOutDropsCompletedSets(t *testing.T) {
	inboxes := []chan fec.RawFragment{make(chan fec.RawFragment, 1)}
	d := dedup.New()
	raw := fragmentBytes(1, 0)
	key, _ := shred.PeekKey(raw)
	d.Insert(key)

	f := NewFanOut(inboxes, d)
	f.route(RawMessage{Bytes: raw})

	select {
	case <-inboxes[0]:
		t.Fatal("expected no fragment to be routed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFanOutDropsUndersizedFragments(t *testing.T) {
	inboxes := []chan fec.RawFragment{make(chan fec.RawFragment, 1)}
	f := NewFanOut(inboxes, dedup.New())

	f.route(RawMessage{Bytes: []byte{1, 2, 3}})

	select {
	case <-inboxes[0]:
		t.Fatal("expected no fragment to be routed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFanOutDropsWhenInboxFull(t *testing.T) {
	inboxes := []chan fec.RawFragment{make(chan fec.RawFragment, 1)}
	f := NewFanOut(inboxes, dedup.New())

	raw := fragmentBytes(1, 0)
	f.route(RawMessage{Bytes: raw})
	f.route(RawMessage{Bytes: raw}) // second should be dropped, not block

	require.Len(t, inboxes[0], 1)
}

func TestFanOutRunClosesInboxesWhenInputCloses(t *testing.T) {
	inboxes := []chan fec.RawFragment{make(chan fec.RawFragment, 1)}
	f := NewFanOut(inboxes, dedup.New())

	in := make(chan RawMessage)
	done := make(chan struct{})
	go func() {
		f.Run(in)
		close(done)
	}()

	close(in)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}

	_, ok := <-inboxes[0]
	require.False(t, ok)
}
