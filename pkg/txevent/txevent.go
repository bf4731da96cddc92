// Package txevent defines the pipeline's downstream contract: the shape of
// a reconstructed transaction and the single operation an external
// collaborator implements to receive them.
package txevent

import (
	"context"

	"github.com/xtaci/shredstream/internal/entry"
)

// Event is a single reconstructed transaction, annotated with whatever
// provenance the pipeline was able to recover for it.
type Event struct {
	Slot              uint64
	Signature         string
	Transaction       *entry.VersionedTransaction
	ReceivedAtMicros  *uint64
	ProcessedAtMicros uint64
	Confirmed         bool
}

// Handler is the downstream collaborator's contract: handling one
// transaction may fail without affecting the rest of the pipeline.
type Handler interface {
	HandleTransaction(ctx context.Context, event *Event) error
}
