package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		TradingBaseURL: srv.URL,
		DataBaseURL:    srv.URL,
		KeyID:          "key",
		SecretKey:      "secret",
		RatePerSecond:  1000,
	})
	require.NoError(t, err)
	return c, srv
}

func TestLatestQuote_FlatShape(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/stocks/FGNX/quotes/latest", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		require.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = w.Write([]byte(`{"quote":{"ap":9.20,"bp":9.18}}`))
	}))
	q, ok := c.LatestQuote(context.Background(), "FGNX")
	require.True(t, ok)
	require.Equal(t, Quote{Bid: 9.18, Ask: 9.20}, q)
}

func TestLatestQuote_NestedShape(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quotes":{"FGNX":{"ask_price":"9.20","bid_price":"9.18"}}}`))
	}))
	q, ok := c.LatestQuote(context.Background(), "FGNX")
	require.True(t, ok)
	require.Equal(t, Quote{Bid: 9.18, Ask: 9.20}, q)
}

func TestLatestQuote_FailuresAreSilent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, ok := c.LatestQuote(context.Background(), "FGNX")
	require.False(t, ok)

	c2, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quote":{"ap":9.20}}`)) // missing bid
	}))
	_, ok = c2.LatestQuote(context.Background(), "FGNX")
	require.False(t, ok)
}

func TestIsMarketOpen(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/clock", r.URL.Path)
		_, _ = w.Write([]byte(`{"is_open":true}`))
	}))
	require.True(t, c.IsMarketOpen(context.Background()))
}

func TestIsMarketOpen_DefaultsClosedOnError(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	require.False(t, c.IsMarketOpen(context.Background()))
	srv.Close() // network failure too
	require.False(t, c.IsMarketOpen(context.Background()))
}

func TestSubmitOrder_BracketPayload(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"ord-1","status":"new"}`))
	}))

	ord, err := c.SubmitOrder(context.Background(), OrderRequest{
		Symbol:      "FGNX",
		Side:        "buy",
		Type:        "limit",
		TimeInForce: "gtc",
		Qty:         "22",
		LimitPrice:  "9.2184",
		OrderClass:  "bracket",
		TakeProfit:  &OrderLeg{LimitPrice: "9.6793"},
		StopLoss:    &OrderLeg{StopPrice: "8.25", LimitPrice: "8.2088"},
	})
	require.NoError(t, err)
	require.Equal(t, "ord-1", ord.ID)

	require.Equal(t, "FGNX", got["symbol"])
	require.Equal(t, "22", got["qty"], "qty must be string-encoded")
	require.Equal(t, "bracket", got["order_class"])
	tp := got["take_profit"].(map[string]any)
	require.Equal(t, "9.6793", tp["limit_price"])
	sl := got["stop_loss"].(map[string]any)
	require.Equal(t, "8.25", sl["stop_price"])
	require.Equal(t, "8.2088", sl["limit_price"])
}

func TestSubmitOrder_RejectionIsError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"insufficient buying power"}`))
	}))
	_, err := c.SubmitOrder(context.Background(), OrderRequest{Symbol: "FGNX"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestGetOrder_FillFields(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/orders/ord-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"ord-1","status":"filled","qty":"22","filled_qty":"20","filled_avg_price":"9.21"}`))
	}))
	ord, err := c.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, "filled", ord.Status)
	require.Equal(t, 20, ord.FilledQuantity(1))
	avg, ok := ord.AvgFillPrice()
	require.True(t, ok)
	require.Equal(t, 9.21, avg)
}

func TestCancelOrder(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/v2/orders/ord-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.CancelOrder(context.Background(), "ord-1"))
}

func TestFilledQuantityFallbacks(t *testing.T) {
	o := &Order{}
	require.Equal(t, 7, o.FilledQuantity(7))
	o = &Order{Qty: "5"}
	require.Equal(t, 5, o.FilledQuantity(7))
	_, ok := o.AvgFillPrice()
	require.False(t, ok)
}
