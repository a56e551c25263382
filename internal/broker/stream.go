package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rashidq/alpaca-signals/internal/observ"
)

// Stream maintains a websocket session against the market-data feed and
// caches the latest quote per subscribed symbol. It offers the same
// LatestQuote contract as the REST client, so the engine can poll it at a
// much higher rate without burning REST budget. A quote older than
// staleAfter reads as unavailable and the engine falls back to waiting.
type Stream struct {
	url        string
	keyID      string
	secretKey  string
	staleAfter time.Duration

	// writeMu serializes WriteMessage calls; the connection allows only
	// one concurrent writer, and Subscribe runs from every engine worker
	// while the read pump resubscribes on redial.
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	latest map[string]streamQuote
	subs   map[string]bool
	closed bool
}

type streamQuote struct {
	q  Quote
	at time.Time
}

type streamMsg struct {
	T  string  `json:"T"`
	S  string  `json:"S"`
	Bp float64 `json:"bp"`
	Ap float64 `json:"ap"`
}

func NewStream(url, keyID, secretKey string) *Stream {
	return &Stream{
		url:        url,
		keyID:      keyID,
		secretKey:  secretKey,
		staleAfter: 10 * time.Second,
		latest:     map[string]streamQuote{},
		subs:       map[string]bool{},
	}
}

// Start dials, authenticates, and launches the read pump. Reconnects with
// a flat backoff until ctx is done.
func (s *Stream) Start(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		return err
	}
	go s.run(ctx)
	return nil
}

func (s *Stream) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	auth, _ := json.Marshal(map[string]string{
		"action": "auth", "key": s.keyID, "secret": s.secretKey,
	})
	if err := s.write(conn, auth); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	resub := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		resub = append(resub, sym)
	}
	s.mu.Unlock()

	if len(resub) > 0 {
		sub, _ := json.Marshal(map[string]any{"action": "subscribe", "quotes": resub})
		_ = s.write(conn, sub)
	}
	observ.Log("stream_connected", map[string]any{"url": s.url, "resubscribed": len(resub)})
	return nil
}

func (s *Stream) run(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		closed := s.closed
		s.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			observ.LogErr("stream_read_failed", err, nil)
			conn.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			if err := s.dial(ctx); err != nil {
				observ.LogErr("stream_redial_failed", err, nil)
			}
			continue
		}

		var msgs []streamMsg
		if err := json.Unmarshal(raw, &msgs); err != nil {
			continue
		}
		now := time.Now()
		s.mu.Lock()
		for _, m := range msgs {
			if m.T != "q" || m.S == "" {
				continue
			}
			s.latest[m.S] = streamQuote{q: Quote{Bid: m.Bp, Ask: m.Ap}, at: now}
		}
		s.mu.Unlock()
	}
}

// Subscribe adds a symbol to the quote subscription set.
func (s *Stream) Subscribe(symbol string) {
	s.mu.Lock()
	already := s.subs[symbol]
	s.subs[symbol] = true
	conn := s.conn
	s.mu.Unlock()
	if already || conn == nil {
		return
	}
	sub, _ := json.Marshal(map[string]any{"action": "subscribe", "quotes": []string{symbol}})
	_ = s.write(conn, sub)
}

func (s *Stream) write(conn *websocket.Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// LatestQuote returns the cached quote for symbol if fresh enough.
func (s *Stream) LatestQuote(_ context.Context, symbol string) (Quote, bool) {
	s.Subscribe(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	sq, ok := s.latest[symbol]
	if !ok || time.Since(sq.at) > s.staleAfter || sq.q.Ask <= 0 {
		return Quote{}, false
	}
	return sq.q, true
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
