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

// Package pipeline wires the four pipeline stages (ingress fan-out, FEC
// recovery, batch dispatch, batch parsing) into a single runnable unit and
// owns their startup and shutdown ordering.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/shredstream/internal/batchworker"
	"github.com/xtaci/shredstream/internal/config"
	"github.com/xtaci/shredstream/internal/dedup"
	"github.com/xtaci/shredstream/internal/dispatch"
	"github.com/xtaci/shredstream/internal/fec"
	"github.com/xtaci/shredstream/internal/ingress"
	"github.com/xtaci/shredstream/internal/metrics"
	"github.com/xtaci/shredstream/pkg/txevent"
)

const shutdownGrace = 5 * time.Second

// Pipeline owns every long-running goroutine of a running shredstream
// instance.
type Pipeline struct {
	cfg     config.Config
	metrics *metrics.Registry

	socket  *ingress.Socket
	fanout  *ingress.FanOut
	fecPool *fec.Pool
	batch   *batchworker.Pool
	disp    *dispatch.Dispatcher

	rawCh chan ingress.RawMessage
}

// New builds a Pipeline bound to cfg.BindAddress, delivering reconstructed
// transactions to handler. It does not start anything yet; call Run.
func New(cfg config.Config, handler txevent.Handler) (*Pipeline, error) {
	socket, err := ingress.Listen(cfg.BindAddress)
	if err != nil {
		return nil, errors.Wrap(err, "bind ingress socket")
	}

	m := metrics.New(cfg.Metrics)
	dedupSet := dedup.New()

	fecPool := fec.NewPool(cfg.ResolveFecWorkers(), cfg.IngressQueue, cfg.FecQueue, cfg.ResolveFecGCInterval(), cfg.ResolveFecTTL(), dedupSet, m)
	fanout := ingress.NewFanOut(fecPool.Inboxes(), dedupSet)

	batchPool := batchworker.NewPool(cfg.ResolveBatchWorkers(), cfg.BatchQueue, handler, m)
	disp := dispatch.New(fecPool.Out(), batchPool.Inboxes(), cfg.ResolveSlotGCInterval(), cfg.ResolveSlotTTL(), m)

	return &Pipeline{
		cfg:     cfg,
		metrics: m,
		socket:  socket,
		fanout:  fanout,
		fecPool: fecPool,
		batch:   batchPool,
		disp:    disp,
		rawCh:   make(chan ingress.RawMessage, cfg.IngressQueue),
	}, nil
}

// Run starts every stage and blocks until ctx is cancelled, then shuts the
// pipeline down in dependency order: ingress reader, fan-out, FEC workers,
// FEC output close, dispatcher, batch workers.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cfg.Metrics {
		go func() {
			if err := p.metrics.Serve(ctx, p.cfg.MetricsAddr); err != nil {
				log.Printf("pipeline: metrics server stopped: %v", err)
			}
		}()
	}

	var batchWG sync.WaitGroup
	for i := range p.batch.Inboxes() {
		batchWG.Add(1)
		go func(id int) {
			defer batchWG.Done()
			p.batch.Run(ctx, id)
		}(i)
	}

	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		p.disp.Run()
	}()

	var fecWG sync.WaitGroup
	for i := range p.fecPool.Inboxes() {
		fecWG.Add(1)
		go func(id int) {
			defer fecWG.Done()
			p.fecPool.Run(id)
		}(i)
	}

	fanoutDone := make(chan struct{})
	go func() {
		defer close(fanoutDone)
		p.fanout.Run(p.rawCh)
	}()

	socketDone := make(chan struct{})
	go func() {
		defer close(socketDone)
		p.socket.Run(p.rawCh)
	}()

	<-ctx.Done()
	log.Println("pipeline: shutting down")

	if err := p.socket.Close(); err != nil {
		log.Printf("pipeline: closing ingress socket: %v", err)
	}

	return p.shutdown(socketDone, fanoutDone, &fecWG, dispDone, &batchWG)
}

// shutdown waits for each stage to drain in order, bounded by
// shutdownGrace per stage so a stuck goroutine cannot hang the process
// forever.
func (p *Pipeline) shutdown(socketDone, fanoutDone <-chan struct{}, fecWG *sync.WaitGroup, dispDone <-chan struct{}, batchWG *sync.WaitGroup) error {
	if !waitWithGrace(socketDone) {
		log.Println("pipeline: timed out waiting for ingress socket to drain")
	}
	if !waitWithGrace(fanoutDone) {
		log.Println("pipeline: timed out waiting for fan-out to drain")
	}
	if !waitGroupWithGrace(fecWG) {
		log.Println("pipeline: timed out waiting for fec workers to drain")
	}

	p.fecPool.CloseOutput()

	if !waitWithGrace(dispDone) {
		log.Println("pipeline: timed out waiting for dispatcher to drain")
	}
	if !waitGroupWithGrace(batchWG) {
		log.Println("pipeline: timed out waiting for batch workers to drain")
	}

	return nil
}

func waitWithGrace(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(shutdownGrace):
		return false
	}
}

func waitGroupWithGrace(wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return waitWithGrace(done)
}
