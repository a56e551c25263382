package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rashidq/alpaca-signals/internal/broker"
	"github.com/rashidq/alpaca-signals/internal/config"
	"github.com/rashidq/alpaca-signals/internal/engine"
	"github.com/rashidq/alpaca-signals/internal/extract"
	"github.com/rashidq/alpaca-signals/internal/nlu"
	"github.com/rashidq/alpaca-signals/internal/observ"
	"github.com/rashidq/alpaca-signals/internal/server"
	sig "github.com/rashidq/alpaca-signals/internal/signal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to YAML config")
	flag.Parse()

	// .env first so config.Load sees the credentials.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		observ.LogErr("dotenv_load_failed", err, nil)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.LogErr("config_load_failed", err, map[string]any{"path": *configPath})
		os.Exit(1)
	}
	observ.Log("config_loaded", map[string]any{
		"extended_hours": cfg.Trading.ExtendedHours,
		"max_spread_bps": cfg.Trading.MaxSpreadBps,
		"max_gap_bps":    cfg.Trading.MaxGapBps,
		"poll_ms":        cfg.Trading.PollMs,
		"timeout_sec":    cfg.Trading.TimeoutSec,
		"ai_enabled":     cfg.AI.Enabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := broker.NewClient(broker.Config{
		TradingBaseURL: cfg.Broker.TradingBaseURL,
		DataBaseURL:    cfg.Broker.DataBaseURL,
		KeyID:          cfg.Broker.KeyID,
		SecretKey:      cfg.Broker.SecretKey,
		TimeoutSeconds: cfg.Broker.TimeoutSeconds,
		RatePerSecond:  cfg.Broker.RatePerSecond,
	})
	if err != nil {
		observ.LogErr("broker_init_failed", err, nil)
		os.Exit(1)
	}

	var quotes engine.QuoteSource = client
	if cfg.Broker.UseStream {
		stream := broker.NewStream(cfg.Broker.StreamURL, cfg.Broker.KeyID, cfg.Broker.SecretKey)
		if err := stream.Start(ctx); err != nil {
			observ.LogErr("stream_start_failed", err, map[string]any{"fallback": "rest"})
		} else {
			quotes = fallbackQuotes{primary: stream, secondary: client}
			defer stream.Close()
		}
	}

	store := sig.NewStore()
	guard := sig.NewInFlightGuard()

	eng := engine.New(engine.Config{
		MaxSpreadBps:   cfg.Trading.MaxSpreadBps,
		MaxGapBps:      cfg.Trading.MaxGapBps,
		PollInterval:   time.Duration(cfg.Trading.PollMs) * time.Millisecond,
		Timeout:        time.Duration(cfg.Trading.TimeoutSec) * time.Second,
		FillWait:       time.Duration(cfg.Trading.FillWaitSec) * time.Second,
		ExtendedHours:  cfg.Trading.ExtendedHours,
		PositionUSD:    cfg.Trading.PositionUSD,
		TakeProfitPct:  cfg.Trading.TakeProfitPct,
		SlippageFactor: cfg.Trading.SlippageFactor,
	}, quotes, client, client, store, guard)

	sup := engine.NewSupervisor(eng, cfg.Trading.Workers, cfg.Trading.QueueDepth)
	sup.Start(ctx)

	strategies := []extract.Strategy{}
	if cfg.AI.Enabled {
		gate := nlu.NewGate(nlu.GateConfig{
			RequestsPerMin: cfg.AI.RequestsPerMin,
			MaxRetries:     cfg.AI.MaxRetries,
			BackoffMs:      cfg.AI.BackoffMs,
		}, nlu.NewClient(nlu.ClientConfig{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
		}))
		strategies = append(strategies, extract.NewNLUStrategy(gate))
	}
	strategies = append(strategies, extract.FallbackStrategy{})
	extractor := extract.New(strategies...)

	srv := server.New(extractor, store, sup)
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

	go func() {
		observ.Log("server_listening", map[string]any{"addr": cfg.Server.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogErr("server_failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	observ.Log("shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := sup.Shutdown(shutdownCtx); err != nil {
		observ.LogErr("drain_incomplete", err, map[string]any{"live": sup.Live()})
	}
	observ.Log("shutdown_complete", nil)
}

// fallbackQuotes consults the stream cache first and drops to REST when
// the cached quote is missing or stale.
type fallbackQuotes struct {
	primary   engine.QuoteSource
	secondary engine.QuoteSource
}

func (f fallbackQuotes) LatestQuote(ctx context.Context, symbol string) (broker.Quote, bool) {
	if q, ok := f.primary.LatestQuote(ctx, symbol); ok {
		return q, true
	}
	return f.secondary.LatestQuote(ctx, symbol)
}
