package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtaci/shredstream/internal/shred"
)

// Registry holds every counter/gauge/histogram the pipeline exposes when
// metrics are enabled. Every method is safe to call on a disabled Registry:
// it no-ops, so call sites never need their own enabled-check.
type Registry struct {
	enabled bool

	fragmentsAccumulated  *prometheus.CounterVec
	fecSetsCompleted      *prometheus.CounterVec
	transactionsProcessed prometheus.Counter
	activeSlots           prometheus.Gauge
	channelUtilization    *prometheus.GaugeVec
	transactionLatency    prometheus.Histogram
}

// New builds a Registry. When enabled is false the returned Registry records
// nothing and Serve is a no-op.
func New(enabled bool) *Registry {
	r := &Registry{enabled: enabled}
	if !enabled {
		return r
	}

	r.fragmentsAccumulated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shredstream_fragments_accumulated_total",
		Help: "Fragments stored into a FEC set accumulator, by shred type.",
	}, []string{"type"})
	r.fecSetsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shredstream_fec_sets_completed_total",
		Help: "FEC sets completed, by completion path (natural or recovery).",
	}, []string{"path"})
	r.transactionsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shredstream_transactions_processed_total",
		Help: "Transactions successfully handed to the downstream handler.",
	})
	r.activeSlots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shredstream_active_slots",
		Help: "Slots with an open accumulator in the batch dispatcher.",
	})
	r.channelUtilization = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shredstream_channel_utilization_ratio",
		Help: "Fraction of a pipeline channel's capacity currently queued.",
	}, []string{"channel"})
	r.transactionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shredstream_transaction_latency_seconds",
		Help:    "End-to-end latency from fragment arrival to transaction emission.",
		Buckets: prometheus.DefBuckets,
	})

	prometheus.MustRegister(
		r.fragmentsAccumulated,
		r.fecSetsCompleted,
		r.transactionsProcessed,
		r.activeSlots,
		r.channelUtilization,
		r.transactionLatency,
	)

	return r
}

func (r *Registry) FragmentAccumulated(t shred.Type) {
	if !r.enabled {
		return
	}
	label := "data"
	if t == shred.TypeCode {
		label = "code"
	}
	r.fragmentsAccumulated.WithLabelValues(label).Inc()
}

func (r *Registry) FecSetCompleted(path string) {
	if !r.enabled {
		return
	}
	r.fecSetsCompleted.WithLabelValues(path).Inc()
}

func (r *Registry) TransactionProcessed() {
	if !r.enabled {
		return
	}
	r.transactionsProcessed.Inc()
}

func (r *Registry) ActiveSlots(n int) {
	if !r.enabled {
		return
	}
	r.activeSlots.Set(float64(n))
}

func (r *Registry) ChannelUtilization(channel string, used, capacity int) {
	if !r.enabled || capacity == 0 {
		return
	}
	r.channelUtilization.WithLabelValues(channel).Set(float64(used) / float64(capacity))
}

func (r *Registry) ObserveLatency(d time.Duration) {
	if !r.enabled {
		return
	}
	r.transactionLatency.Observe(d.Seconds())
}

// Serve starts the /metrics HTTP endpoint on addr and blocks until ctx is
// canceled or the listener fails.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	if !r.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server")
	}
}
