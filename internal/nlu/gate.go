package nlu

import (
	"context"
	"sync"
	"time"

	"github.com/rashidq/alpaca-signals/internal/observ"
)

// Extractor is the narrow surface the gate wraps; *Client satisfies it.
type Extractor interface {
	Extract(ctx context.Context, message string) (*Extraction, error)
}

type GateConfig struct {
	RequestsPerMin int // local sliding-window cap; <=0 disables the cap
	MaxRetries     int
	BackoffMs      int
}

// Gate fronts the AI call with a local sliding-window rate limiter and
// bounded linear-backoff retries. Exhaustion yields (nil, false) so the
// extraction pipeline falls through to the deterministic parser; signal
// capture never depends on this path succeeding.
type Gate struct {
	cfg    GateConfig
	client Extractor

	now   func() time.Time
	sleep func(time.Duration)

	mu    sync.Mutex
	calls []time.Time
}

func NewGate(cfg GateConfig, client Extractor) *Gate {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BackoffMs <= 0 {
		cfg.BackoffMs = 600
	}
	return &Gate{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// NewGateWithClock injects a clock and sleeper; used by tests.
func NewGateWithClock(cfg GateConfig, client Extractor, now func() time.Time, sleep func(time.Duration)) *Gate {
	g := NewGate(cfg, client)
	g.now = now
	g.sleep = sleep
	return g
}

// allow consumes one slot in the 60s window, or rejects without any
// network call when the window is full.
func (g *Gate) allow() bool {
	if g.cfg.RequestsPerMin <= 0 {
		return true
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	keep := g.calls[:0]
	for _, t := range g.calls {
		if now.Sub(t) <= time.Minute {
			keep = append(keep, t)
		}
	}
	g.calls = keep
	if len(g.calls) >= g.cfg.RequestsPerMin {
		return false
	}
	g.calls = append(g.calls, now)
	return true
}

// Extract runs the AI call under the window cap, retrying transient and
// provider-rate-limit errors with linear backoff (attempt x base delay).
func (g *Gate) Extract(ctx context.Context, message string) (*Extraction, bool) {
	if !g.allow() {
		observ.IncCounter("nlu_requests_total", map[string]string{"outcome": "local_rate_limited"})
		return nil, false
	}

	for attempt := 1; ; attempt++ {
		ex, err := g.client.Extract(ctx, message)
		if err == nil {
			observ.IncCounter("nlu_requests_total", map[string]string{"outcome": "ok"})
			return ex, true
		}

		outcome := "error"
		if _, ok := err.(*RateLimitError); ok {
			outcome = "provider_rate_limited"
		}
		observ.IncCounter("nlu_requests_total", map[string]string{"outcome": outcome})
		observ.LogErr("nlu_extract_failed", err, map[string]any{
			"attempt": attempt, "max_retries": g.cfg.MaxRetries,
		})

		if attempt > g.cfg.MaxRetries || ctx.Err() != nil {
			return nil, false
		}
		g.sleep(time.Duration(attempt*g.cfg.BackoffMs) * time.Millisecond)
	}
}
