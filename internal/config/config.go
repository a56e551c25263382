package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type Broker struct {
	TradingBaseURL string `yaml:"trading_base_url"`
	DataBaseURL    string `yaml:"data_base_url"`
	StreamURL      string `yaml:"stream_url"`
	UseStream      bool   `yaml:"use_stream"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RatePerSecond  int    `yaml:"rate_per_second"`

	// Loaded from the environment, never from YAML.
	KeyID     string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

type Trading struct {
	ExtendedHours  bool    `yaml:"extended_hours"`
	MaxSpreadBps   float64 `yaml:"max_spread_bps"`
	MaxGapBps      float64 `yaml:"max_gap_bps"`
	PollMs         int     `yaml:"poll_ms"`
	TimeoutSec     int     `yaml:"timeout_sec"`
	FillWaitSec    int     `yaml:"fill_wait_sec"`
	PositionUSD    float64 `yaml:"position_usd"`
	TakeProfitPct  float64 `yaml:"take_profit_pct"`
	SlippageFactor float64 `yaml:"slippage_factor"`
	Workers        int     `yaml:"workers"`
	QueueDepth     int     `yaml:"queue_depth"`
}

type AI struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	MaxRetries     int    `yaml:"max_retries"`
	BackoffMs      int    `yaml:"backoff_ms"`
	RequestsPerMin int    `yaml:"requests_per_min"`

	APIKey string `yaml:"-"`
}

type Ingest struct {
	SessionDir string `yaml:"session_dir"`
	Target     string `yaml:"target"` // numeric chat id | "auto"
	IntakeURL  string `yaml:"intake_url"`
}

type Root struct {
	Server  Server  `yaml:"server"`
	Broker  Broker  `yaml:"broker"`
	Trading Trading `yaml:"trading"`
	AI      AI      `yaml:"ai"`
	Ingest  Ingest  `yaml:"ingest"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}

	if c.Broker.TradingBaseURL == "" {
		c.Broker.TradingBaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Broker.DataBaseURL == "" {
		c.Broker.DataBaseURL = "https://data.alpaca.markets"
	}
	if c.Broker.StreamURL == "" {
		c.Broker.StreamURL = "wss://stream.data.alpaca.markets/v2/iex"
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Broker.RatePerSecond == 0 {
		c.Broker.RatePerSecond = 5
	}

	if c.Trading.MaxSpreadBps == 0 {
		c.Trading.MaxSpreadBps = 50
	}
	if c.Trading.MaxGapBps == 0 {
		c.Trading.MaxGapBps = 100
	}
	if c.Trading.PollMs == 0 {
		c.Trading.PollMs = 1000
	}
	if c.Trading.TimeoutSec == 0 {
		c.Trading.TimeoutSec = 1800
	}
	if c.Trading.FillWaitSec == 0 {
		c.Trading.FillWaitSec = 900
	}
	if c.Trading.PositionUSD == 0 {
		c.Trading.PositionUSD = 200
	}
	if c.Trading.TakeProfitPct == 0 {
		c.Trading.TakeProfitPct = 5
	}
	if c.Trading.SlippageFactor == 0 {
		c.Trading.SlippageFactor = 1.002
	}
	if c.Trading.Workers == 0 {
		c.Trading.Workers = 8
	}
	if c.Trading.QueueDepth == 0 {
		c.Trading.QueueDepth = 64
	}

	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = "https://api.openai.com/v1"
	}
	if c.AI.MaxRetries == 0 {
		c.AI.MaxRetries = 2
	}
	if c.AI.BackoffMs == 0 {
		c.AI.BackoffMs = 600
	}
	if c.AI.RequestsPerMin == 0 {
		c.AI.RequestsPerMin = 30
	}

	if c.Ingest.SessionDir == "" {
		c.Ingest.SessionDir = "tdlight-session"
	}
	if c.Ingest.Target == "" {
		c.Ingest.Target = "auto"
	}
	if c.Ingest.IntakeURL == "" {
		c.Ingest.IntakeURL = "http://localhost:8080/trades"
	}

	c.loadSecrets()
	return c, c.validate()
}

// loadSecrets pulls credentials from the environment so they never land in
// a checked-in YAML file. godotenv is applied by the caller before Load.
func (c *Root) loadSecrets() {
	c.Broker.KeyID = os.Getenv("ALPACA_KEY_ID")
	c.Broker.SecretKey = os.Getenv("ALPACA_SECRET_KEY")
	c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
}

func (c *Root) validate() error {
	if c.Trading.PositionUSD < 0 {
		return fmt.Errorf("trading.position_usd must be positive, got %v", c.Trading.PositionUSD)
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.enabled is true but OPENAI_API_KEY is not set")
	}
	return nil
}
