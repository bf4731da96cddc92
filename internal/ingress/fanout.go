package ingress

import (
	"log"

	"github.com/xtaci/shredstream/internal/dedup"
	"github.com/xtaci/shredstream/internal/fec"
	"github.com/xtaci/shredstream/internal/shred"
)

// RawMessage is a fragment's bytes plus the ingress collaborator's arrival
// timestamp, as produced by the UDP socket reader.
type RawMessage struct {
	Bytes            []byte
	ReceivedAtMicros uint64
}

// FanOut routes inbound fragment-byte messages to FEC worker inboxes,
// dropping messages whose FEC set has already been reconstructed and
// messages whose destination worker inbox is full. This is the only stage
// of the pipeline permitted to drop rather than backpressure.
type FanOut struct {
	inboxes []chan fec.RawFragment
	dedup   *dedup.Set
}

// NewFanOut builds a FanOut routing into inboxes, consulting d to skip
// already-completed FEC sets.
func NewFanOut(inboxes []chan fec.RawFragment, d *dedup.Set) *FanOut {
	return &FanOut{inboxes: inboxes, dedup: d}
}

// Run consumes messages from in until it is closed, then closes every
// worker inbox in turn.
func (f *FanOut) Run(in <-chan RawMessage) {
	defer func() {
		for _, ch := range f.inboxes {
			close(ch)
		}
	}()

	for msg := range in {
		f.route(msg)
	}
}

func (f *FanOut) route(msg RawMessage) {
	key, ok := shred.PeekKey(msg.Bytes)
	if !ok {
		log.Printf("ingress: dropping undersized fragment (%d bytes)", len(msg.Bytes))
		return
	}
	if f.dedup.Contains(key) {
		return
	}

	idx := dedup.ShardIndex(key, len(f.inboxes))
	select {
	case f.inboxes[idx] <- fec.RawFragment{Bytes: msg.Bytes, ReceivedAtMicros: msg.ReceivedAtMicros}:
	default:
		log.Printf("ingress: worker %d inbox full, dropping fragment for slot=%d fec_set=%d", idx, key.Slot, key.FecSetIndex)
	}
}
