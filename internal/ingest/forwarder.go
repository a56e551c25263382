package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rashidq/alpaca-signals/internal/signal"
)

// Payload is the wire shape POSTed to the intake endpoint.
type Payload struct {
	Raw    string        `json:"raw"`
	Parsed *ParsedFields `json:"parsed,omitempty"`
}

type ParsedFields struct {
	Ticker        string    `json:"ticker"`
	Trigger       float64   `json:"trigger"`
	Stop          float64   `json:"stop"`
	Side          string    `json:"side"`
	ExtendedHours bool      `json:"extended_hours"`
	Targets       []float64 `json:"targets,omitempty"`
}

// FromSignal builds the parsed block from an already-extracted signal.
func FromSignal(s *signal.TradeSignal) *ParsedFields {
	return &ParsedFields{
		Ticker:        s.Ticker,
		Trigger:       s.Trigger,
		Stop:          s.StopLoss,
		Side:          string(s.Side),
		ExtendedHours: s.ExtendedHours,
		Targets:       s.Targets,
	}
}

// Forwarder posts payloads to the intake URL. Used when the ingestion
// collaborator runs in a separate process from the execution service.
type Forwarder struct {
	url  string
	http *http.Client
}

func NewForwarder(intakeURL string) *Forwarder {
	return &Forwarder{
		url:  intakeURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *Forwarder) Forward(ctx context.Context, p Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ingest: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("ingest: forward: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ingest: forward: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
