package extract

import (
	"context"
	"strings"

	"github.com/rashidq/alpaca-signals/internal/nlu"
	"github.com/rashidq/alpaca-signals/internal/signal"
)

// Gate is the rate-limited, retrying front of the AI extractor.
type Gate interface {
	Extract(ctx context.Context, message string) (*nlu.Extraction, bool)
}

// NLUStrategy adapts the AI-assisted structured extraction into the
// strategy chain. Incomplete results (any core field missing) fall
// through to the next strategy rather than failing the message.
type NLUStrategy struct {
	gate Gate
}

func NewNLUStrategy(gate Gate) *NLUStrategy { return &NLUStrategy{gate: gate} }

func (*NLUStrategy) Name() string { return "nlu" }

func (s *NLUStrategy) TryExtract(ctx context.Context, text string) (*Draft, bool) {
	ex, ok := s.gate.Extract(ctx, text)
	if !ok || !ex.Complete() {
		return nil, false
	}

	side := signal.SideBuy
	if ex.Side != nil && strings.EqualFold(*ex.Side, string(signal.SideSell)) {
		side = signal.SideSell
	}
	extended := true
	if ex.ExtendedHours != nil {
		extended = *ex.ExtendedHours
	}

	targets := ex.Targets
	if len(targets) > 5 {
		targets = targets[:5]
	}

	return &Draft{
		Ticker:        strings.ToUpper(strings.TrimSpace(*ex.Ticker)),
		Trigger:       *ex.Trigger,
		Stop:          *ex.Stop,
		Side:          side,
		ExtendedHours: extended,
		Targets:       targets,
	}, true
}
