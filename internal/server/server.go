// Package server exposes the intake API: POST /trades accepts a raw
// message with an optional pre-parsed payload from the ingestion
// collaborator, deduplicates it, and hands accepted signals to the
// execution supervisor.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rashidq/alpaca-signals/internal/extract"
	"github.com/rashidq/alpaca-signals/internal/observ"
	"github.com/rashidq/alpaca-signals/internal/signal"
)

// Submitter is the execution side of the intake boundary; the engine
// supervisor satisfies it.
type Submitter interface {
	Submit(sig *signal.TradeSignal) error
}

// ParsedPayload mirrors the pre-parsed object the ingestion collaborator
// may attach alongside the raw text.
type ParsedPayload struct {
	Ticker        string    `json:"ticker"`
	Trigger       float64   `json:"trigger"`
	Stop          float64   `json:"stop"`
	Side          string    `json:"side"`
	ExtendedHours *bool     `json:"extended_hours"`
	Targets       []float64 `json:"targets"`
}

type TradeRequest struct {
	Raw    string         `json:"raw"`
	Parsed *ParsedPayload `json:"parsed"`
}

type Server struct {
	extractor *extract.Extractor
	store     *signal.Store
	exec      Submitter
	router    *gin.Engine
}

func New(extractor *extract.Extractor, store *signal.Store, exec Submitter) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{extractor: extractor, store: store, exec: exec, router: gin.New()}
	s.router.Use(gin.Recovery())

	s.router.POST("/trades", s.receiveTrade)
	s.router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	s.router.GET("/metrics", gin.WrapH(observ.Handler()))
	return s
}

// Handler exposes the router for http.Server and for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) receiveTrade(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	var sig *signal.TradeSignal
	switch {
	case req.Parsed != nil:
		ticker := strings.ToUpper(strings.TrimSpace(req.Parsed.Ticker))
		if ticker == "" || req.Parsed.Trigger <= 0 || req.Parsed.Stop <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing ticker/trigger/stop"})
			return
		}
		sig = fromParsed(ticker, req.Parsed)
	case strings.TrimSpace(req.Raw) != "":
		var ok bool
		sig, ok = s.extractor.Extract(c.Request.Context(), req.Raw)
		if !ok {
			// The sender is a channel relay, not a user who can fix the
			// text, so unparseable messages are acknowledged and dropped.
			c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing raw or parsed payload"})
		return
	}

	fp := signal.Fingerprint(fingerprintSource(req))
	if !s.store.SaveIfNew(sig, fp) {
		observ.IncCounter("signals_duplicate_total", map[string]string{"kind": "fingerprint"})
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "ticker": sig.Ticker})
		return
	}

	if err := s.exec.Submit(sig); err != nil {
		observ.LogErr("submit_failed", err, map[string]any{"signal": sig.ID})
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	observ.Log("trade_accepted", map[string]any{
		"signal": sig.ID, "ticker": sig.Ticker, "trigger": sig.Trigger, "stop": sig.StopLoss,
	})
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "ticker": sig.Ticker, "id": sig.ID})
}

// fingerprintSource prefers the raw text; a parsed-only payload falls back
// to its canonical field string so repeats still deduplicate.
func fingerprintSource(req TradeRequest) string {
	if strings.TrimSpace(req.Raw) != "" {
		return req.Raw
	}
	p := req.Parsed
	return strings.Join([]string{
		p.Ticker,
		strconv.FormatFloat(p.Trigger, 'f', -1, 64),
		strconv.FormatFloat(p.Stop, 'f', -1, 64),
	}, "|")
}

func fromParsed(ticker string, p *ParsedPayload) *signal.TradeSignal {
	side := signal.SideBuy
	if strings.EqualFold(p.Side, string(signal.SideSell)) {
		side = signal.SideSell
	}
	extended := true
	if p.ExtendedHours != nil {
		extended = *p.ExtendedHours
	}
	targets := p.Targets
	if len(targets) > 5 {
		targets = targets[:5]
	}
	return &signal.TradeSignal{
		ID:            uuid.NewString(),
		Ticker:        ticker,
		Trigger:       p.Trigger,
		StopLoss:      p.Stop,
		Side:          side,
		ExtendedHours: extended,
		Targets:       targets,
		CreatedAt:     time.Now().UTC(),
		Status:        signal.StatusPending,
	}
}
