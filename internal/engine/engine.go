// Package engine drives an accepted signal from ARMED to a terminal
// state: it polls quotes, enforces the spread and gap guardrails, branches
// on market session, sizes the position, submits the bracket (or staged
// entry + OCO outside regular hours), and records every status change
// through the signal store.
package engine

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rashidq/alpaca-signals/internal/broker"
	"github.com/rashidq/alpaca-signals/internal/observ"
	"github.com/rashidq/alpaca-signals/internal/signal"
)

// QuoteSource yields the current bid/ask. ok=false means "no quote right
// now, retry next tick" and must never be an error path.
type QuoteSource interface {
	LatestQuote(ctx context.Context, symbol string) (broker.Quote, bool)
}

// MarketClock reports whether the regular session is open. Implementations
// default to closed on error.
type MarketClock interface {
	IsMarketOpen(ctx context.Context) bool
}

// OrderGateway submits and inspects brokerage orders.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error)
	GetOrder(ctx context.Context, id string) (*broker.Order, error)
	CancelOrder(ctx context.Context, id string) error
}

// Config is the process-wide guardrail parameter set, immutable after load.
type Config struct {
	MaxSpreadBps   float64
	MaxGapBps      float64
	PollInterval   time.Duration
	Timeout        time.Duration
	FillWait       time.Duration
	ExtendedHours  bool
	PositionUSD    float64
	TakeProfitPct  float64
	SlippageFactor float64
}

type Engine struct {
	cfg    Config
	quotes QuoteSource
	clock  MarketClock
	orders OrderGateway
	store  *signal.Store
	guard  *signal.InFlightGuard

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

func New(cfg Config, quotes QuoteSource, clock MarketClock, orders OrderGateway, store *signal.Store, guard *signal.InFlightGuard) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.FillWait <= 0 {
		cfg.FillWait = 15 * time.Minute
	}
	if cfg.TakeProfitPct <= 0 {
		cfg.TakeProfitPct = 5
	}
	if cfg.SlippageFactor <= 0 {
		cfg.SlippageFactor = 1.002
	}
	return &Engine{
		cfg: cfg, quotes: quotes, clock: clock, orders: orders,
		store: store, guard: guard,
		now: time.Now, sleep: time.Sleep,
	}
}

// round4 applies half-up rounding to 4 decimals; every price crossing the
// wire goes through it.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Quantity sizing is always ceiling so the notional floor is met.
func (e *Engine) quantity(price float64) int {
	q := int(math.Ceil(e.cfg.PositionUSD / price))
	if q < 1 {
		q = 1
	}
	return q
}

func (e *Engine) takeProfit(base float64) float64 {
	return round4(base * (1 + e.cfg.TakeProfitPct/100))
}

// Process runs the full execution loop for one accepted signal. It is a
// no-op when an equivalent (ticker, trigger, stop) loop is already in
// flight. All exit paths release the guard.
func (e *Engine) Process(ctx context.Context, sig *signal.TradeSignal) {
	key := sig.Key()
	if !e.guard.Acquire(key) {
		observ.IncCounter("signals_duplicate_total", map[string]string{"kind": "inflight"})
		observ.Log("duplicate_signal_ignored", map[string]any{"key": key})
		return
	}
	defer e.guard.Release(key)
	defer observ.SetGauge("executions_inflight", float64(e.guard.Len()), nil)
	observ.SetGauge("executions_inflight", float64(e.guard.Len()), nil)

	if err := e.store.Transition(sig.ID, signal.StatusArmed); err != nil {
		observ.LogErr("transition_failed", err, map[string]any{"signal": sig.ID})
		return
	}
	observ.Log("signal_armed", map[string]any{
		"signal": sig.ID, "ticker": sig.Ticker,
		"trigger": sig.Trigger, "stop": sig.StopLoss,
	})

	deadline := e.now().Add(e.cfg.Timeout)
	for e.now().Before(deadline) {
		if ctx.Err() != nil {
			e.cancel(sig, "context_cancelled")
			return
		}

		q, ok := e.quotes.LatestQuote(ctx, sig.Ticker)
		if !ok {
			e.sleep(e.cfg.PollInterval)
			continue
		}

		mid := (q.Bid + q.Ask) / 2
		spreadBps := (q.Ask - q.Bid) / mid * 10000
		if spreadBps > e.cfg.MaxSpreadBps {
			observ.Log("spread_too_wide", map[string]any{
				"ticker": sig.Ticker, "spread_bps": math.Round(spreadBps), "max_bps": e.cfg.MaxSpreadBps,
			})
			e.sleep(e.cfg.PollInterval)
			continue
		}

		if q.Ask < sig.Trigger {
			e.sleep(e.cfg.PollInterval)
			continue
		}

		gapBps := (q.Ask - sig.Trigger) / sig.Trigger * 10000
		if gapBps > e.cfg.MaxGapBps {
			// Breakout already ran away; chasing it is worse than waiting.
			observ.Log("gap_too_wide", map[string]any{
				"ticker": sig.Ticker, "gap_bps": math.Round(gapBps), "max_bps": e.cfg.MaxGapBps,
			})
			e.sleep(e.cfg.PollInterval)
			continue
		}

		qty := e.quantity(q.Ask)

		if e.clock.IsMarketOpen(ctx) {
			e.submitBracket(ctx, sig, q, qty)
			return
		}

		if !sig.ExtendedHours || !e.cfg.ExtendedHours {
			observ.Log("extended_hours_disabled_waiting", map[string]any{"ticker": sig.Ticker})
			e.sleep(e.cfg.PollInterval)
			continue
		}

		e.submitStagedEntry(ctx, sig, q, qty)
		return
	}

	observ.Log("signal_timeout", map[string]any{
		"signal": sig.ID, "ticker": sig.Ticker, "timeout": e.cfg.Timeout.String(),
	})
	e.cancel(sig, "timeout")
}

// submitBracket places the regular-session entry with attached exit legs.
// Fill and exit tracking is the brokerage's bracket mechanics; the engine
// does not poll it.
func (e *Engine) submitBracket(ctx context.Context, sig *signal.TradeSignal, q broker.Quote, qty int) {
	entry := round4(q.Ask * e.cfg.SlippageFactor)
	req := broker.OrderRequest{
		Symbol:      sig.Ticker,
		Side:        string(sig.Side),
		Type:        "limit",
		TimeInForce: "gtc",
		Qty:         strconv.Itoa(qty),
		LimitPrice:  broker.FormatPrice(entry),
		OrderClass:  "bracket",
		TakeProfit:  &broker.OrderLeg{LimitPrice: broker.FormatPrice(e.takeProfit(entry))},
		StopLoss: &broker.OrderLeg{
			StopPrice:  broker.FormatPrice(round4(sig.StopLoss)),
			LimitPrice: broker.FormatPrice(round4(sig.StopLoss * 0.995)),
		},
	}
	ord, err := e.orders.SubmitOrder(ctx, req)
	if err != nil {
		observ.LogErr("bracket_submit_failed", err, map[string]any{"signal": sig.ID})
		e.fail(sig)
		return
	}
	if err := e.store.Transition(sig.ID, signal.StatusSubmitted); err != nil {
		observ.LogErr("transition_failed", err, map[string]any{"signal": sig.ID})
		return
	}
	observ.Log("bracket_submitted", map[string]any{
		"signal": sig.ID, "ticker": sig.Ticker, "order": ord.ID, "qty": qty, "entry": entry,
	})
}

// submitStagedEntry is the outside-regular-session path: a day-limit entry
// with the extended-hours flag, then a fill wait, then a separate OCO exit
// sized to the actual fill.
func (e *Engine) submitStagedEntry(ctx context.Context, sig *signal.TradeSignal, q broker.Quote, qty int) {
	entry := round4(q.Ask * e.cfg.SlippageFactor)
	req := broker.OrderRequest{
		Symbol:        sig.Ticker,
		Side:          string(sig.Side),
		Type:          "limit",
		TimeInForce:   "day",
		Qty:           strconv.Itoa(qty),
		LimitPrice:    broker.FormatPrice(entry),
		ExtendedHours: true,
		ClientOrderID: uuid.NewString(),
	}
	placed, err := e.orders.SubmitOrder(ctx, req)
	if err != nil {
		observ.LogErr("extended_entry_failed", err, map[string]any{"signal": sig.ID})
		e.fail(sig)
		return
	}
	if err := e.store.Transition(sig.ID, signal.StatusSubmitted); err != nil {
		observ.LogErr("transition_failed", err, map[string]any{"signal": sig.ID})
		return
	}
	observ.Log("extended_entry_placed", map[string]any{
		"signal": sig.ID, "ticker": sig.Ticker, "order": placed.ID, "qty": qty, "entry": entry,
	})

	fillPrice, filled := e.waitForFill(ctx, placed.ID)
	if !filled {
		// Never fill, never strand: pull the resting order and close the
		// signal out instead of abandoning both.
		observ.Log("extended_entry_unfilled", map[string]any{"signal": sig.ID, "order": placed.ID})
		if err := e.orders.CancelOrder(ctx, placed.ID); err != nil {
			observ.LogErr("order_cancel_failed", err, map[string]any{"order": placed.ID})
		}
		e.cancel(sig, "fill_wait_expired")
		return
	}
	if fillPrice <= 0 {
		fillPrice = entry
	}
	if err := e.store.Transition(sig.ID, signal.StatusFilled); err != nil {
		observ.LogErr("transition_failed", err, map[string]any{"signal": sig.ID})
		return
	}

	filledQty := qty
	if ord, err := e.orders.GetOrder(ctx, placed.ID); err == nil {
		filledQty = ord.FilledQuantity(qty)
	}

	exitSide := signal.SideSell
	if sig.Side == signal.SideSell {
		exitSide = signal.SideBuy
	}
	oco := broker.OrderRequest{
		Symbol:      sig.Ticker,
		Side:        string(exitSide),
		Type:        "limit",
		TimeInForce: "gtc",
		Qty:         strconv.Itoa(filledQty),
		OrderClass:  "oco",
		TakeProfit:  &broker.OrderLeg{LimitPrice: broker.FormatPrice(e.takeProfit(fillPrice))},
		StopLoss: &broker.OrderLeg{
			StopPrice:  broker.FormatPrice(round4(sig.StopLoss)),
			LimitPrice: broker.FormatPrice(round4(sig.StopLoss * 0.995)),
		},
	}
	ocoOrd, err := e.orders.SubmitOrder(ctx, oco)
	if err != nil {
		observ.LogErr("oco_submit_failed", err, map[string]any{"signal": sig.ID})
		e.fail(sig)
		return
	}
	observ.Log("oco_submitted", map[string]any{
		"signal": sig.ID, "ticker": sig.Ticker, "order": ocoOrd.ID,
		"qty": filledQty, "fill_price": fillPrice,
	})
}

// waitForFill polls the entry order until it reports filled with an
// average price, or the fill-wait ceiling elapses.
func (e *Engine) waitForFill(ctx context.Context, orderID string) (float64, bool) {
	deadline := e.now().Add(e.cfg.FillWait)
	for e.now().Before(deadline) {
		if ctx.Err() != nil {
			return 0, false
		}
		ord, err := e.orders.GetOrder(ctx, orderID)
		if err == nil && ord.Status == "filled" {
			if avg, ok := ord.AvgFillPrice(); ok {
				return avg, true
			}
			// Filled with no average price is still a live position;
			// the caller falls back to the entry limit for the exits.
			return 0, true
		}
		e.sleep(e.cfg.PollInterval)
	}
	return 0, false
}

func (e *Engine) cancel(sig *signal.TradeSignal, reason string) {
	if err := e.store.Transition(sig.ID, signal.StatusCancelled); err != nil {
		observ.LogErr("transition_failed", err, map[string]any{"signal": sig.ID})
		return
	}
	observ.IncCounter("signals_cancelled_total", map[string]string{"reason": reason})
}

func (e *Engine) fail(sig *signal.TradeSignal) {
	if err := e.store.Transition(sig.ID, signal.StatusError); err != nil {
		observ.LogErr("transition_failed", err, map[string]any{"signal": sig.ID})
	}
}
