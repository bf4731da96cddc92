package batchworker

import (
	"context"
	"encoding/binary"
	"log"
	"sort"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/xtaci/shredstream/internal/dispatch"
	"github.com/xtaci/shredstream/internal/entry"
	"github.com/xtaci/shredstream/internal/metrics"
	"github.com/xtaci/shredstream/pkg/txevent"
)

// Pool runs M batch worker goroutines, each consuming Work items off its
// own inbox and invoking the downstream handler for every transaction
// found inside.
type Pool struct {
	inboxes []chan dispatch.Work
	handler txevent.Handler
	metrics *metrics.Registry
}

// NewPool creates a pool of n workers, each with an inbox of inboxCapacity.
func NewPool(n, inboxCapacity int, handler txevent.Handler, m *metrics.Registry) *Pool {
	p := &Pool{handler: handler, metrics: m}
	p.inboxes = make([]chan dispatch.Work, n)
	for i := range p.inboxes {
		p.inboxes[i] = make(chan dispatch.Work, inboxCapacity)
	}
	return p
}

// Inboxes exposes the per-worker inbound channels so the dispatcher can
// route directly into them.
func (p *Pool) Inboxes() []chan dispatch.Work { return p.inboxes }

// Run starts worker id consuming from its inbox until the inbox is closed.
// It blocks; callers run it in its own goroutine.
func (p *Pool) Run(ctx context.Context, id int) {
	w := &worker{id: id, handler: p.handler, metrics: p.metrics}
	w.run(ctx, p.inboxes[id])
}

type worker struct {
	id      int
	handler txevent.Handler
	metrics *metrics.Registry
}

func (w *worker) run(ctx context.Context, inbox <-chan dispatch.Work) {
	for work := range inbox {
		if err := w.process(ctx, work); err != nil {
			log.Printf("batch worker %d: %+v", w.id, err)
		}
	}
}

func (w *worker) process(ctx context.Context, work dispatch.Work) error {
	combined, offsets, timestamps, err := concatenate(work)
	if err != nil {
		return errors.Wrapf(err, "slot %d batch [%d,%d]: concatenate", work.Slot, work.StartIndex, work.EndIndex)
	}

	entries, err := parseEntries(combined, offsets, timestamps)
	if err != nil {
		return errors.Wrapf(err, "slot %d batch [%d,%d]: parse entries", work.Slot, work.StartIndex, work.EndIndex)
	}

	for _, e := range entries {
		w.emit(ctx, work.Slot, e)
	}
	return nil
}

// concatenate stitches the data-stream bytes of every fragment in
// [work.StartIndex, work.EndIndex] together, recording the byte offset and
// originating fragment timestamp of each fragment's contribution.
func concatenate(work dispatch.Work) ([]byte, []int, []*uint64, error) {
	var combined []byte
	var offsets []int
	var timestamps []*uint64

	for idx := work.StartIndex; ; idx++ {
		f, ok := work.Fragments[idx]
		if !ok {
			return nil, nil, nil, errors.Errorf("missing fragment at index %d inside a verified-complete range", idx)
		}

		offsets = append(offsets, len(combined))
		timestamps = append(timestamps, f.ReceivedAtMicros)
		combined = append(combined, f.Data()...)

		if idx == work.EndIndex {
			break
		}
	}

	return combined, offsets, timestamps, nil
}

type entryMeta struct {
	entry            *entry.Entry
	receivedAtMicros *uint64
}

// parseEntries reads the u64 entry count prefix and decodes that many
// entries back to back. A batch of 8 bytes or fewer (just the length
// prefix, or less) carries no entries.
func parseEntries(combined []byte, offsets []int, timestamps []*uint64) ([]entryMeta, error) {
	if len(combined) <= 8 {
		return nil, nil
	}

	entryCount := binary.LittleEndian.Uint64(combined[:8])
	rest := combined[8:]
	pos := 8

	metas := make([]entryMeta, 0, entryCount)
	for i := uint64(0); i < entryCount; i++ {
		e, consumed, err := entry.Decode(rest)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d at offset %d", i, pos)
		}

		metas = append(metas, entryMeta{entry: e, receivedAtMicros: attributeTimestamp(pos, offsets, timestamps)})

		rest = rest[consumed:]
		pos += consumed
	}

	return metas, nil
}

// attributeTimestamp implements the binary-search timestamp rule: an entry
// starting exactly at a fragment boundary uses that fragment's timestamp; an
// entry starting mid-fragment uses the timestamp of the fragment that
// contributed the bytes leading up to it.
func attributeTimestamp(entryStart int, offsets []int, timestamps []*uint64) *uint64 {
	i := sort.SearchInts(offsets, entryStart)
	if i < len(offsets) && offsets[i] == entryStart {
		return timestamps[i]
	}
	if i == 0 {
		return nil
	}
	return timestamps[i-1]
}

func (w *worker) emit(ctx context.Context, slot uint64, meta entryMeta) {
	for _, tx := range meta.entry.Transactions {
		sig := ""
		if len(tx.Signatures) > 0 {
			sig = base58.Encode(tx.Signatures[0][:])
		}

		event := &txevent.Event{
			Slot:              slot,
			Signature:         sig,
			Transaction:       tx,
			ReceivedAtMicros:  meta.receivedAtMicros,
			ProcessedAtMicros: uint64(time.Now().UnixMicro()),
			Confirmed:         false,
		}

		if err := w.handler.HandleTransaction(ctx, event); err != nil {
			log.Printf("batch worker %d: handler error for %s: %v", w.id, event.Signature, err)
			continue
		}

		w.metrics.TransactionProcessed()
		if event.ReceivedAtMicros != nil {
			latency := time.Duration(event.ProcessedAtMicros-*event.ReceivedAtMicros) * time.Microsecond
			w.metrics.ObserveLatency(latency)
		}
	}
}
