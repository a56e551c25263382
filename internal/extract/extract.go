// Package extract turns raw alert text into structured trade signals.
// Strategies are tried in priority order: the AI-assisted extractor first
// when enabled, then the deterministic regex/heuristic fallback. A message
// neither strategy can parse is dropped silently; extraction never
// surfaces an error to the caller.
package extract

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rashidq/alpaca-signals/internal/observ"
	"github.com/rashidq/alpaca-signals/internal/signal"
)

// Draft is a candidate extraction before it becomes a TradeSignal.
type Draft struct {
	Ticker        string
	Trigger       float64
	Stop          float64
	Side          signal.Side
	ExtendedHours bool
	Targets       []float64
}

// Strategy is one way of recovering a Draft from raw text. ok=false means
// "this strategy has nothing", never an error condition.
type Strategy interface {
	Name() string
	TryExtract(ctx context.Context, text string) (*Draft, bool)
}

// Extractor iterates strategies until one yields a complete draft.
type Extractor struct {
	strategies []Strategy
}

func New(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Extract runs the strategy chain and materializes the winning draft as a
// PENDING TradeSignal. ok=false means the message should be dropped.
func (e *Extractor) Extract(ctx context.Context, raw string) (*signal.TradeSignal, bool) {
	start := time.Now()
	for _, s := range e.strategies {
		d, ok := s.TryExtract(ctx, raw)
		if !ok {
			continue
		}
		observ.IncCounter("signals_extracted_total", map[string]string{"strategy": s.Name()})
		observ.ObserveDuration("extract_latency", time.Since(start), map[string]string{"strategy": s.Name()})
		return materialize(d), true
	}
	observ.IncCounter("signals_unparsed_total", nil)
	return nil, false
}

func materialize(d *Draft) *signal.TradeSignal {
	side := d.Side
	if side != signal.SideSell {
		side = signal.SideBuy
	}
	return &signal.TradeSignal{
		ID:            uuid.NewString(),
		Ticker:        d.Ticker,
		Trigger:       d.Trigger,
		StopLoss:      d.Stop,
		Side:          side,
		ExtendedHours: d.ExtendedHours,
		Targets:       d.Targets,
		CreatedAt:     time.Now().UTC(),
		Status:        signal.StatusPending,
	}
}
