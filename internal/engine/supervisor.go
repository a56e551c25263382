package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rashidq/alpaca-signals/internal/observ"
	"github.com/rashidq/alpaca-signals/internal/signal"
)

// Supervisor owns the execution workers. Instead of an unbounded
// goroutine-per-signal spawn, accepted signals queue onto a bounded pool
// whose live executions can be enumerated and drained on shutdown.
type Supervisor struct {
	engine  *Engine
	workers int
	queue   chan *signal.TradeSignal

	mu   sync.Mutex
	live map[string]string // signal id -> ticker

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewSupervisor(engine *Engine, workers, queueDepth int) *Supervisor {
	if workers <= 0 {
		workers = 8
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Supervisor{
		engine:  engine,
		workers: workers,
		queue:   make(chan *signal.TradeSignal, queueDepth),
		live:    map[string]string{},
	}
}

// Start launches the worker pool.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

func (s *Supervisor) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-s.queue:
			s.track(sig, true)
			s.engine.Process(ctx, sig)
			s.track(sig, false)
		}
	}
}

func (s *Supervisor) track(sig *signal.TradeSignal, start bool) {
	s.mu.Lock()
	if start {
		s.live[sig.ID] = sig.Ticker
	} else {
		delete(s.live, sig.ID)
	}
	n := len(s.live)
	s.mu.Unlock()
	observ.SetGauge("executions_live", float64(n), nil)
}

// Submit enqueues a signal for execution, rejecting when the queue is
// full rather than blocking the intake path.
func (s *Supervisor) Submit(sig *signal.TradeSignal) error {
	select {
	case s.queue <- sig:
		return nil
	default:
		observ.IncCounter("signals_queue_full_total", nil)
		return fmt.Errorf("supervisor: execution queue full (%d pending)", cap(s.queue))
	}
}

// Live snapshots the currently executing signal ids and tickers.
func (s *Supervisor) Live() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.live))
	for k, v := range s.live {
		out[k] = v
	}
	return out
}

// Shutdown stops the workers and waits for in-progress executions, or
// returns early when ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
