// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package fec

import (
	"fmt"
	"log"
	"time"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"

	"github.com/xtaci/shredstream/internal/dedup"
	"github.com/xtaci/shredstream/internal/metrics"
	"github.com/xtaci/shredstream/internal/shred"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSetTTL        = 30 * time.Second
)

// RawFragment is a fragment's on-wire bytes as handed off by the ingress
// fan-out, paired with its arrival timestamp.
type RawFragment struct {
	Bytes            []byte
	ReceivedAtMicros uint64
}

// CompletedSet is the data-only output of a completed FEC set, handed to
// the batch dispatcher.
type CompletedSet struct {
	Slot        uint64
	FecSetIndex uint32
	Data        map[uint32]*shred.Fragment
}

// Pool runs N FEC worker goroutines, each owning a disjoint slice of
// (slot, fec_set_index) keys so accumulator state never needs a lock. All
// workers publish onto a single shared output channel.
type Pool struct {
	inboxes       []chan RawFragment
	inboxCapacity int
	out           chan CompletedSet
	dedup         *dedup.Set
	metrics       *metrics.Registry

	sweepInterval time.Duration
	setTTL        time.Duration
}

// NewPool creates a pool of n workers, each with an inbox of inboxCapacity
// and a shared output channel of outCapacity. gcInterval/ttl of zero fall
// back to the spec's defaults (30s/30s).
func NewPool(n, inboxCapacity, outCapacity int, gcInterval, ttl time.Duration, d *dedup.Set, m *metrics.Registry) *Pool {
	if gcInterval <= 0 {
		gcInterval = defaultSweepInterval
	}
	if ttl <= 0 {
		ttl = defaultSetTTL
	}

	p := &Pool{
		inboxCapacity: inboxCapacity,
		out:           make(chan CompletedSet, outCapacity),
		dedup:         d,
		metrics:       m,
		sweepInterval: gcInterval,
		setTTL:        ttl,
	}
	p.inboxes = make([]chan RawFragment, n)
	for i := range p.inboxes {
		p.inboxes[i] = make(chan RawFragment, inboxCapacity)
	}
	return p
}

// Inboxes exposes the per-worker inbound channels so the ingress fan-out can
// route directly into them.
func (p *Pool) Inboxes() []chan RawFragment { return p.inboxes }

// Out is the channel every worker publishes completed FEC sets to.
func (p *Pool) Out() chan CompletedSet { return p.out }

// CloseOutput closes the shared output channel. Callers must wait for every
// Run goroutine to return first.
func (p *Pool) CloseOutput() { close(p.out) }

// Run starts worker id consuming from its inbox until the inbox is closed.
// It blocks; callers run it in its own goroutine.
func (p *Pool) Run(id int) {
	w := &worker{
		id:            id,
		sets:          make(map[shred.Key]*accumulator),
		codecs:        make(map[codecKey]reedsolomon.Encoder),
		out:           p.out,
		dedup:         p.dedup,
		metrics:       p.metrics,
		sweepInterval: p.sweepInterval,
		setTTL:        p.setTTL,
		inboxCapacity: p.inboxCapacity,
	}
	w.run(p.inboxes[id])
}

type codecKey struct {
	dataShards, totalShards int
}

type worker struct {
	id      int
	sets    map[shred.Key]*accumulator
	codecs  map[codecKey]reedsolomon.Encoder
	out     chan CompletedSet
	dedup   *dedup.Set
	metrics *metrics.Registry

	sweepInterval time.Duration
	setTTL        time.Duration
	inboxCapacity int
}

func (w *worker) run(inbox <-chan RawFragment) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-inbox:
			if !ok {
				return
			}
			w.process(raw)
		case <-ticker.C:
			w.sweep()
			w.metrics.ChannelUtilization(fmt.Sprintf("fec_inbox_%d", w.id), len(inbox), w.inboxCapacity)
		}
	}
}

func (w *worker) process(raw RawFragment) {
	f, err := shred.Parse(raw.Bytes, raw.ReceivedAtMicros)
	if err != nil {
		log.Printf("fec worker %d: dropping unparsable fragment: %v", w.id, err)
		return
	}

	key := f.Key()
	if w.dedup.Contains(key) {
		return
	}
	acc, ok := w.sets[key]
	if !ok {
		acc = newAccumulator(f.Slot, f.FecSetIndex)
		w.sets[key] = acc
	}
	acc.store(f)
	w.metrics.FragmentAccumulated(f.Type)

	switch acc.evaluate() {
	case readyNatural:
		w.complete(key, acc, "natural")
	case readyRecovery:
		if err := w.recover(acc); err != nil {
			log.Printf("fec worker %d: reed-solomon recovery failed for slot=%d fec_set=%d: %v", w.id, key.Slot, key.FecSetIndex, err)
			return
		}
		w.complete(key, acc, "recovery")
	}
}

// recover fills in missing data fragments of acc via Reed-Solomon
// reconstruction. Solana's turbine scheme assigns a FEC set's data shred
// indices contiguously starting at fec_set_index, and its code shred
// indices contiguously starting wherever the first code shred landed; both
// are normalized to dense row positions in the RS matrix.
func (w *worker) recover(acc *accumulator) error {
	if acc.expectedDataCount == nil {
		return errors.New("cannot recover without a known expected data count")
	}

	dataShards := int(*acc.expectedDataCount)
	codeShards := len(acc.code)
	total := dataShards + codeShards
	if dataShards <= 0 || codeShards == 0 {
		return errors.New("not enough shards for recovery")
	}

	codec, err := w.codec(dataShards, total)
	if err != nil {
		return errors.Wrap(err, "building reed-solomon codec")
	}

	// Only the fixed-size region past the common header is ever
	// Reed-Solomon coded; everything before PayloadOffset (slot, index,
	// fec_set_index, and the type-specific fields) is carried in the clear
	// on every packet. Below, a recovered fragment gets a fresh header with
	// slot, index and fec_set_index taken from the accumulator; its flags
	// byte is left clear and its total size covers the whole recovered
	// region, so a recovered fragment never marks the end of a batch.
	shards := make([][]byte, total)
	present := make([]bool, total)
	maxLen := 0

	for idx, f := range acc.data {
		pos := int(idx) - int(acc.fecSetIndex)
		if pos < 0 || pos >= dataShards {
			continue
		}
		shards[pos] = codingRegion(f.Payload)
		present[pos] = true
		if len(shards[pos]) > maxLen {
			maxLen = len(shards[pos])
		}
	}

	minCode := minIndex(acc.code)
	for idx, f := range acc.code {
		pos := dataShards + int(idx-minCode)
		if pos < dataShards || pos >= total {
			continue
		}
		shards[pos] = codingRegion(f.Payload)
		if len(shards[pos]) > maxLen {
			maxLen = len(shards[pos])
		}
	}

	// Pad present shards to equal length; leave missing ones nil so the
	// codec knows which rows to fill in.
	for i := range shards {
		if shards[i] != nil && len(shards[i]) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, shards[i])
			shards[i] = padded
		}
	}

	if err := codec.ReconstructData(shards); err != nil {
		return errors.Wrap(err, "reed-solomon ReconstructData")
	}

	for pos := 0; pos < dataShards; pos++ {
		if present[pos] {
			continue
		}
		idx := acc.fecSetIndex + uint32(pos)
		f, err := shred.Parse(shred.BuildDataHeader(acc.slot, idx, acc.fecSetIndex, shards[pos]), 0)
		if err != nil {
			return errors.Wrapf(err, "synthesizing recovered fragment at index %d", idx)
		}
		f.ReceivedAtMicros = nil
		acc.data[idx] = f
	}

	return nil
}

// codingRegion returns the fixed-size Reed-Solomon-coded tail of a
// fragment's bytes, past the common per-packet header.
func codingRegion(raw []byte) []byte {
	if len(raw) <= shred.PayloadOffset {
		return nil
	}
	return raw[shred.PayloadOffset:]
}

func minIndex(m map[uint32]*shred.Fragment) uint32 {
	var min uint32
	first := true
	for idx := range m {
		if first || idx < min {
			min = idx
			first = false
		}
	}
	return min
}

// codec returns a cached Reed-Solomon encoder for (dataShards, totalShards),
// building one on first use. This mirrors kcp-go/v5's fecDecoder matrix
// cache: RS matrix construction is the expensive part, and the shard
// geometry of a validator's FEC sets repeats constantly.
func (w *worker) codec(dataShards, total int) (reedsolomon.Encoder, error) {
	key := codecKey{dataShards, total}
	if c, ok := w.codecs[key]; ok {
		return c, nil
	}
	c, err := reedsolomon.New(dataShards, total-dataShards)
	if err != nil {
		return nil, err
	}
	w.codecs[key] = c
	return c, nil
}

func (w *worker) complete(key shred.Key, acc *accumulator, path string) {
	delete(w.sets, key)
	w.dedup.Insert(key)
	w.metrics.FecSetCompleted(path)
	w.out <- CompletedSet{Slot: acc.slot, FecSetIndex: acc.fecSetIndex, Data: acc.data}
}

func (w *worker) sweep() {
	now := time.Now()
	for key, acc := range w.sets {
		if now.Sub(acc.createdAt) > w.setTTL {
			delete(w.sets, key)
		}
	}
}
