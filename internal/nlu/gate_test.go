package nlu

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedClient struct {
	results []func() (*Extraction, error)
	calls   int
}

func (s *scriptedClient) Extract(context.Context, string) (*Extraction, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func okResult() (*Extraction, error) {
	ticker := "AAPL"
	trig, stop := 150.0, 145.0
	return &Extraction{Ticker: &ticker, Trigger: &trig, Stop: &stop}, nil
}

func newTestGate(cfg GateConfig, client Extractor, start time.Time) (*Gate, *time.Time) {
	now := start
	g := NewGateWithClock(cfg, client,
		func() time.Time { return now },
		func(d time.Duration) { now = now.Add(d) })
	return g, &now
}

func TestGate_SlidingWindowRejectsLocally(t *testing.T) {
	client := &scriptedClient{results: []func() (*Extraction, error){okResult}}
	g, now := newTestGate(GateConfig{RequestsPerMin: 2}, client, time.Unix(1000, 0))

	for i := 0; i < 2; i++ {
		if _, ok := g.Extract(context.Background(), "m"); !ok {
			t.Fatalf("call %d rejected under the cap", i)
		}
	}
	if _, ok := g.Extract(context.Background(), "m"); ok {
		t.Fatal("third call within the window admitted")
	}
	if client.calls != 2 {
		t.Fatalf("client calls = %d; local rejection must not hit the network", client.calls)
	}

	// Window slides: a minute later the calls age out.
	*now = now.Add(61 * time.Second)
	if _, ok := g.Extract(context.Background(), "m"); !ok {
		t.Fatal("call after window slid rejected")
	}
}

func TestGate_RetriesRateLimitThenSucceeds(t *testing.T) {
	client := &scriptedClient{results: []func() (*Extraction, error){
		func() (*Extraction, error) { return nil, &RateLimitError{Body: "slow down"} },
		okResult,
	}}
	g, _ := newTestGate(GateConfig{MaxRetries: 2, BackoffMs: 100}, client, time.Unix(1000, 0))

	ex, ok := g.Extract(context.Background(), "m")
	if !ok || !ex.Complete() {
		t.Fatalf("got (%+v, %v), want success after retry", ex, ok)
	}
	if client.calls != 2 {
		t.Fatalf("client calls = %d, want 2", client.calls)
	}
}

func TestGate_ExhaustionYieldsNoResult(t *testing.T) {
	client := &scriptedClient{results: []func() (*Extraction, error){
		func() (*Extraction, error) { return nil, errors.New("boom") },
	}}
	g, _ := newTestGate(GateConfig{MaxRetries: 2, BackoffMs: 100}, client, time.Unix(1000, 0))

	if _, ok := g.Extract(context.Background(), "m"); ok {
		t.Fatal("expected no result after retries exhausted")
	}
	// initial attempt + MaxRetries more
	if client.calls != 3 {
		t.Fatalf("client calls = %d, want 3", client.calls)
	}
}

func TestGate_LinearBackoff(t *testing.T) {
	client := &scriptedClient{results: []func() (*Extraction, error){
		func() (*Extraction, error) { return nil, errors.New("transient") },
	}}
	start := time.Unix(1000, 0)
	g, now := newTestGate(GateConfig{MaxRetries: 2, BackoffMs: 600}, client, start)

	g.Extract(context.Background(), "m")
	// attempt 1 sleeps 600ms, attempt 2 sleeps 1200ms
	if elapsed := now.Sub(start); elapsed != 1800*time.Millisecond {
		t.Fatalf("backoff elapsed = %v, want 1.8s", elapsed)
	}
}

func TestGate_ZeroCapDisablesLimiter(t *testing.T) {
	client := &scriptedClient{results: []func() (*Extraction, error){okResult}}
	g, _ := newTestGate(GateConfig{RequestsPerMin: 0}, client, time.Unix(1000, 0))
	for i := 0; i < 100; i++ {
		if _, ok := g.Extract(context.Background(), "m"); !ok {
			t.Fatalf("call %d rejected with limiter disabled", i)
		}
	}
}

func TestExtractionComplete(t *testing.T) {
	if (&Extraction{}).Complete() {
		t.Fatal("empty extraction reported complete")
	}
	ticker := ""
	trig, stop := 1.0, 2.0
	if (&Extraction{Ticker: &ticker, Trigger: &trig, Stop: &stop}).Complete() {
		t.Fatal("blank ticker reported complete")
	}
	ticker = "AAPL"
	if !(&Extraction{Ticker: &ticker, Trigger: &trig, Stop: &stop}).Complete() {
		t.Fatal("full extraction reported incomplete")
	}
}
