package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/shredstream/internal/config"
	"github.com/xtaci/shredstream/pkg/txevent"
)

type collectingHandler struct {
	mu     sync.Mutex
	events []*txevent.Event
}

func (h *collectingHandler) HandleTransaction(ctx context.Context, event *txevent.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func TestPipelineStartsAndShutsDownCleanly(t *testing.T) {
	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1:0"
	cfg.FecWorkers = 1
	cfg.BatchWorkers = 1

	handler := &collectingHandler{}
	p, err := New(cfg, handler)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Give the goroutines a moment to start, then request shutdown.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down in time")
	}
}

func TestNewBindsToEphemeralPort(t *testing.T) {
	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1:0"

	p, err := New(cfg, &collectingHandler{})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.socket.Close())
}
