// Package txhandler provides the stock txevent.Handler implementations used
// when no external collaborator is wired in: a logging handler for
// demo/standalone runs, and a metrics-only handler for when all that's
// wanted is the pipeline's own observability.
package txhandler

import (
	"context"
	"log"

	"github.com/xtaci/shredstream/pkg/txevent"
)

// Logging is a txevent.Handler that logs every transaction it receives,
// unless quieted.
type Logging struct {
	Quiet bool
}

// HandleTransaction implements txevent.Handler.
func (h *Logging) HandleTransaction(ctx context.Context, event *txevent.Event) error {
	if h.Quiet {
		return nil
	}

	log.Printf("slot=%d sig=%s accounts=%d", event.Slot, event.Signature, len(event.Transaction.Message.AccountKeys))
	return nil
}

// MetricsOnly is a txevent.Handler that does nothing with each transaction
// beyond reporting success: the batch worker pool records its own
// TransactionProcessed/latency metrics around every successful handler
// call, so this is enough to keep a standalone binary's /metrics endpoint
// populated without an external consumer or per-transaction log spam.
type MetricsOnly struct{}

// HandleTransaction implements txevent.Handler.
func (h *MetricsOnly) HandleTransaction(ctx context.Context, event *txevent.Event) error {
	return nil
}
