// Package broker implements the Alpaca-style brokerage surface: latest
// quotes, the market clock, and order submission/lookup over REST, plus an
// optional websocket market-data stream (stream.go).
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rashidq/alpaca-signals/internal/observ"
)

// Quote is a transient bid/ask snapshot. Ask >= bid is expected but not
// enforced here; the execution loop tolerates inverted quotes.
type Quote struct {
	Bid float64
	Ask float64
}

// OrderLeg is a bracket/OCO child leg.
type OrderLeg struct {
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

// OrderRequest is the wire shape POSTed to /v2/orders. Prices and qty are
// string-encoded, matching the brokerage API.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	TimeInForce   string    `json:"time_in_force"`
	Qty           string    `json:"qty"`
	LimitPrice    string    `json:"limit_price,omitempty"`
	ExtendedHours bool      `json:"extended_hours,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	OrderClass    string    `json:"order_class,omitempty"`
	TakeProfit    *OrderLeg `json:"take_profit,omitempty"`
	StopLoss      *OrderLeg `json:"stop_loss,omitempty"`
}

// Order is the subset of the order record the engine cares about.
type Order struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

// FilledQuantity decodes the filled quantity, falling back to the
// requested quantity and then def when neither parses.
func (o *Order) FilledQuantity(def int) int {
	for _, s := range []string{o.FilledQty, o.Qty} {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// AvgFillPrice returns the average fill price, ok=false when absent.
func (o *Order) AvgFillPrice() (float64, bool) {
	v, err := strconv.ParseFloat(o.FilledAvgPrice, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Config carries endpoints and credentials. Auth is two static headers on
// every request.
type Config struct {
	TradingBaseURL string
	DataBaseURL    string
	KeyID          string
	SecretKey      string
	TimeoutSeconds int
	RatePerSecond  int
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("broker: missing API credentials")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
	}, nil
}

func (c *Client) do(ctx context.Context, method, url string, body any) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("broker: marshal body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.cfg.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

// LatestQuote fetches the current bid/ask. It tolerates both the flat
// {"quote":{...}} and the nested-by-symbol {"quotes":{SYM:{...}}} response
// shapes, with ap/ask_price and bp/bid_price key variants as numbers or
// strings. Transient failures return ok=false, never an error: the
// execution loop treats that as "retry next tick".
func (c *Client) LatestQuote(ctx context.Context, symbol string) (Quote, bool) {
	url := c.cfg.DataBaseURL + "/v2/stocks/" + symbol + "/quotes/latest"
	raw, status, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil || status != http.StatusOK {
		observ.LogErr("quote_fetch_failed", err, map[string]any{"symbol": symbol, "status": status})
		return Quote{}, false
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return Quote{}, false
	}

	if node, ok := root["quote"]; ok {
		if q, ok := decodeQuoteNode(node); ok {
			return q, true
		}
	}
	if node, ok := root["quotes"]; ok {
		var bySym map[string]json.RawMessage
		if err := json.Unmarshal(node, &bySym); err == nil {
			if sub, ok := bySym[symbol]; ok {
				if q, ok := decodeQuoteNode(sub); ok {
					return q, true
				}
			}
		}
	}
	return Quote{}, false
}

func decodeQuoteNode(node json.RawMessage) (Quote, bool) {
	var m map[string]any
	if err := json.Unmarshal(node, &m); err != nil {
		return Quote{}, false
	}
	ask, askOK := pickFloat(m, "ap", "ask_price")
	bid, bidOK := pickFloat(m, "bp", "bid_price")
	if !askOK || !bidOK {
		return Quote{}, false
	}
	return Quote{Bid: bid, Ask: ask}, true
}

func pickFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// IsMarketOpen queries /v2/clock. Any failure reads as closed, which
// pushes the engine onto the stricter extended-hours branch.
func (c *Client) IsMarketOpen(ctx context.Context) bool {
	raw, status, err := c.do(ctx, http.MethodGet, c.cfg.TradingBaseURL+"/v2/clock", nil)
	if err != nil || status != http.StatusOK {
		observ.LogErr("clock_fetch_failed", err, map[string]any{"status": status})
		return false
	}
	var body struct {
		IsOpen bool `json:"is_open"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return false
	}
	return body.IsOpen
}

// SubmitOrder POSTs the order and decodes the created record.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	observ.Log("order_submit", map[string]any{
		"symbol": req.Symbol, "side": req.Side, "class": req.OrderClass,
		"qty": req.Qty, "limit": req.LimitPrice, "tif": req.TimeInForce,
	})
	raw, status, err := c.do(ctx, http.MethodPost, c.cfg.TradingBaseURL+"/v2/orders", req)
	if err != nil {
		return nil, fmt.Errorf("broker: submit order: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("broker: submit order: status %d: %s", status, string(raw))
	}
	var ord Order
	if err := json.Unmarshal(raw, &ord); err != nil {
		return nil, fmt.Errorf("broker: decode order: %w", err)
	}
	observ.IncCounter("orders_submitted_total", map[string]string{"class": orderClassLabel(req.OrderClass)})
	return &ord, nil
}

func orderClassLabel(class string) string {
	if class == "" {
		return "simple"
	}
	return class
}

// GetOrder fetches the current order record by id.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	raw, status, err := c.do(ctx, http.MethodGet, c.cfg.TradingBaseURL+"/v2/orders/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: get order: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("broker: get order: status %d: %s", status, string(raw))
	}
	var ord Order
	if err := json.Unmarshal(raw, &ord); err != nil {
		return nil, fmt.Errorf("broker: decode order: %w", err)
	}
	return &ord, nil
}

// CancelOrder asks the brokerage to cancel a resting order. Used when an
// extended-hours entry never fills within the wait ceiling.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	raw, status, err := c.do(ctx, http.MethodDelete, c.cfg.TradingBaseURL+"/v2/orders/"+id, nil)
	if err != nil {
		return fmt.Errorf("broker: cancel order: %w", err)
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("broker: cancel order: status %d: %s", status, string(raw))
	}
	return nil
}

// FormatPrice renders a price the way the order API expects it.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
