// Package nlu talks to an OpenAI-compatible chat-completions endpoint to
// pull structured trade fields out of free-form Arabic/English alert text.
// The gate in gate.go decides whether a call is allowed at all; callers
// treat every failure here as "fall back to the deterministic parser".
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const systemPrompt = `You are a trading signal parser. Extract structured fields from Arabic/English text:
- ticker: US stock symbol, uppercase (AAPL, TSLA, ...).
- trigger: entry/activation price (double).
- stop: stop-loss price (double).
- side: "buy" by default unless clearly says sell/short.
- extended_hours: true if pre/after-market implied.
- targets: up to 5 take-profit levels as doubles.
Constraints:
- Accept Arabic-Indic digits and '،' as decimal separator.
- Return ONLY the structured object; no prose; do not invent numbers.
- If any core field is truly missing, leave it null.`

// Extraction mirrors the structured-output schema. Pointer fields stay nil
// when the model could not determine them.
type Extraction struct {
	Ticker        *string   `json:"ticker"`
	Trigger       *float64  `json:"trigger"`
	Stop          *float64  `json:"stop"`
	Side          *string   `json:"side"`
	ExtendedHours *bool     `json:"extended_hours"`
	Targets       []float64 `json:"targets"`
	Reason        *string   `json:"reason"`
}

// Complete reports whether all core fields are present.
func (e *Extraction) Complete() bool {
	return e != nil && e.Ticker != nil && *e.Ticker != "" && e.Trigger != nil && e.Stop != nil
}

// RateLimitError marks HTTP 429 from the provider so the gate can back off
// instead of giving up.
type RateLimitError struct{ Body string }

func (e *RateLimitError) Error() string { return "nlu: provider rate limited: " + e.Body }

type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// extractionSchema is the JSON schema sent as response_format so the model
// returns exactly the Extraction shape.
var extractionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "signal_extraction",
		"strict": true,
		"schema": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"ticker":         map[string]any{"type": []string{"string", "null"}},
				"trigger":        map[string]any{"type": []string{"number", "null"}},
				"stop":           map[string]any{"type": []string{"number", "null"}},
				"side":           map[string]any{"type": []string{"string", "null"}, "enum": []any{"buy", "sell", nil}},
				"extended_hours": map[string]any{"type": []string{"boolean", "null"}},
				"targets":        map[string]any{"type": "array", "items": map[string]any{"type": "number"}, "maxItems": 5},
				"reason":         map[string]any{"type": []string{"string", "null"}},
			},
			"required": []string{"ticker", "trigger", "stop", "side", "extended_hours", "targets", "reason"},
		},
	},
}

// Extract performs one structured-output call. No retries here; pacing and
// retry policy live in the Gate.
func (c *Client) Extract(ctx context.Context, message string) (*Extraction, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: message},
		},
		ResponseFormat: extractionSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("nlu: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nlu: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nlu: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("nlu: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Body: string(raw)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nlu: status %d: %s", resp.StatusCode, string(raw))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("nlu: decode response: %w", err)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("nlu: empty completion")
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &ex); err != nil {
		return nil, fmt.Errorf("nlu: decode extraction: %w", err)
	}
	return &ex, nil
}
