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

package dispatch

import (
	"fmt"
	"sort"
	"time"

	"github.com/xtaci/shredstream/internal/fec"
	"github.com/xtaci/shredstream/internal/metrics"
	"github.com/xtaci/shredstream/internal/shred"
)

const (
	defaultMaintenanceInterval = time.Second
	defaultSlotTTL             = 30 * time.Second
)

// Work is a contiguous, byte-aligned range of data fragments ready for a
// batch worker to concatenate and parse.
type Work struct {
	Slot       uint64
	StartIndex uint32
	EndIndex   uint32
	Fragments  map[uint32]*shred.Fragment
}

type slotAccumulator struct {
	data                  map[uint32]*shred.Fragment
	lastProcessedBatchEnd *uint32
	createdAt             time.Time
}

// Dispatcher is the single-owner stage C of the pipeline: it merges
// completed FEC sets per slot, detects contiguous byte-aligned batches, and
// round-robins them across the batch worker pool.
type Dispatcher struct {
	in      chan fec.CompletedSet
	workers []chan Work
	metrics *metrics.Registry

	slots       map[uint64]*slotAccumulator
	closedSlots map[uint64]struct{}
	nextWorker  uint64

	maintenanceInterval time.Duration
	slotTTL             time.Duration
}

// New builds a Dispatcher reading from in and round-robining completed
// batches across workers. gcInterval/ttl of zero fall back to the spec's
// defaults (1s/30s).
func New(in chan fec.CompletedSet, workers []chan Work, gcInterval, ttl time.Duration, m *metrics.Registry) *Dispatcher {
	if gcInterval <= 0 {
		gcInterval = defaultMaintenanceInterval
	}
	if ttl <= 0 {
		ttl = defaultSlotTTL
	}

	return &Dispatcher{
		in:                  in,
		workers:             workers,
		metrics:             m,
		slots:               make(map[uint64]*slotAccumulator),
		closedSlots:         make(map[uint64]struct{}),
		maintenanceInterval: gcInterval,
		slotTTL:             ttl,
	}
}

// Run consumes completed FEC sets until in is closed, then closes every
// batch worker inbox.
func (d *Dispatcher) Run() {
	defer func() {
		for _, ch := range d.workers {
			close(ch)
		}
	}()

	ticker := time.NewTicker(d.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case set, ok := <-d.in:
			if !ok {
				return
			}
			d.accumulate(set)
		case <-ticker.C:
			d.maintain()
		}
	}
}

func (d *Dispatcher) accumulate(set fec.CompletedSet) {
	if _, closed := d.closedSlots[set.Slot]; closed {
		return
	}

	acc, ok := d.slots[set.Slot]
	if !ok {
		acc = &slotAccumulator{data: make(map[uint32]*shred.Fragment), createdAt: time.Now()}
		d.slots[set.Slot] = acc
	}

	for idx, f := range set.Data {
		acc.data[idx] = f
	}

	d.dispatchReady(set.Slot, acc)
}

// dispatchReady finds every data fragment marking the end of a batch,
// in ascending index order, and dispatches each one whose full
// [start, end] range is present. The moment a candidate's range has a gap
// it stops scanning entirely: it does not skip the gap and try the next
// larger candidate. Later candidates remain candidates on a future call,
// once the missing fragments arrive.
func (d *Dispatcher) dispatchReady(slot uint64, acc *slotAccumulator) {
	var lastEnd uint32
	var haveLast bool
	if acc.lastProcessedBatchEnd != nil {
		lastEnd = *acc.lastProcessedBatchEnd
		haveLast = true
	}

	var candidates []uint32
	for idx, f := range acc.data {
		if haveLast && idx <= lastEnd {
			continue
		}
		if f.ClosesBatch() {
			candidates = append(candidates, idx)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	for _, endIdx := range candidates {
		startIdx := uint32(0)
		if acc.lastProcessedBatchEnd != nil {
			startIdx = *acc.lastProcessedBatchEnd + 1
		}

		if !hasRange(acc.data, startIdx, endIdx) {
			return
		}

		fragments := make(map[uint32]*shred.Fragment, endIdx-startIdx+1)
		for i := startIdx; i <= endIdx; i++ {
			fragments[i] = acc.data[i]
		}

		d.send(Work{Slot: slot, StartIndex: startIdx, EndIndex: endIdx, Fragments: fragments})

		endIdxCopy := endIdx
		acc.lastProcessedBatchEnd = &endIdxCopy
	}
}

func hasRange(data map[uint32]*shred.Fragment, start, end uint32) bool {
	if start > end {
		return false
	}
	for i := start; ; i++ {
		if _, ok := data[i]; !ok {
			return false
		}
		if i == end {
			return true
		}
	}
}

func (d *Dispatcher) send(work Work) {
	idx := d.nextWorker % uint64(len(d.workers))
	d.nextWorker++
	d.workers[idx] <- work
}

func (d *Dispatcher) maintain() {
	now := time.Now()
	for slot, acc := range d.slots {
		if now.Sub(acc.createdAt) > d.slotTTL {
			delete(d.slots, slot)
		}
	}
	d.metrics.ActiveSlots(len(d.slots))

	d.metrics.ChannelUtilization("dispatcher_in", len(d.in), cap(d.in))
	for i, ch := range d.workers {
		d.metrics.ChannelUtilization(fmt.Sprintf("batch_worker_%d", i), len(ch), cap(ch))
	}
}
