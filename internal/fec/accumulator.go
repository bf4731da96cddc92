package fec

import (
	"time"

	"github.com/xtaci/shredstream/internal/shred"
)

// optimisticDataThreshold is the minimum number of data fragments accepted
// as a complete set before any Code fragment has revealed the true expected
// count for this FEC set. A set whose true data count is larger than this
// is emitted incomplete if no Code fragment has arrived by the time its
// 32nd data fragment does.
const optimisticDataThreshold = 32

type status int

const (
	notReady status = iota
	readyNatural
	readyRecovery
)

// accumulator is the per-(slot, fec_set_index) state owned by exactly one
// FEC worker. It is only ever touched by that worker's goroutine, so it
// carries no locks of its own.
type accumulator struct {
	slot        uint64
	fecSetIndex uint32

	data map[uint32]*shred.Fragment
	code map[uint32]*shred.Fragment

	expectedDataCount *uint16
	createdAt         time.Time
}

func newAccumulator(slot uint64, fecSetIndex uint32) *accumulator {
	return &accumulator{
		slot:        slot,
		fecSetIndex: fecSetIndex,
		data:        make(map[uint32]*shred.Fragment),
		code:        make(map[uint32]*shred.Fragment),
		createdAt:   time.Now(),
	}
}

// store inserts f into the correct map and, the first time a Code fragment
// is seen, latches expectedDataCount from its payload.
func (a *accumulator) store(f *shred.Fragment) {
	if f.Type == shred.TypeCode {
		if a.expectedDataCount == nil {
			if count, ok := shred.ExpectedDataCount(f.Payload); ok {
				a.expectedDataCount = &count
			}
		}
		a.code[f.Index] = f
		return
	}
	a.data[f.Index] = f
}

// evaluate implements the reconstruction-ready predicate: Natural once
// enough data fragments are present on their own, Recovery once data+code
// together cover the expected count, NotReady otherwise. Without a known
// expected count yet, a FEC set is only ever Natural-ready, never
// Recovery-ready, since there is nothing to recover against.
func (a *accumulator) evaluate() status {
	dataCount := len(a.data)

	if a.expectedDataCount != nil {
		expected := int(*a.expectedDataCount)
		switch {
		case dataCount >= expected:
			return readyNatural
		case dataCount+len(a.code) >= expected:
			return readyRecovery
		default:
			return notReady
		}
	}

	if dataCount >= optimisticDataThreshold {
		return readyNatural
	}
	return notReady
}
