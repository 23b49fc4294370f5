package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/strategy"
	"github.com/rustyeddy/intraday/strategy/rules"
)

// EnvStoreDSN overrides store.dsn so credentials can stay out of the file.
const EnvStoreDSN = "INTRADAY_STORE_DSN"

// Config is everything a trader process needs to run a day.
type Config struct {
	Log             LogConfig             `json:"log" yaml:"log"`
	Broker          BrokerConfig          `json:"broker" yaml:"broker"`
	Store           StoreConfig           `json:"store" yaml:"store"`
	Checkpoint      CheckpointConfig      `json:"checkpoint" yaml:"checkpoint"`
	Journal         JournalConfig         `json:"journal" yaml:"journal"`
	Control         ControlConfig         `json:"control" yaml:"control"`
	Instruments     []market.Instrument   `json:"instruments" yaml:"instruments"`
	Tradestrategies []TradestrategyConfig `json:"tradestrategies" yaml:"tradestrategies"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// BrokerConfig selects the gateway. Only the paper gateway ships.
type BrokerConfig struct {
	Kind      string  `json:"kind" yaml:"kind"`
	Timeout   string  `json:"timeout" yaml:"timeout"` // e.g. "5s"
	FillRatio float64 `json:"fill_ratio,omitempty" yaml:"fill_ratio,omitempty"`
}

// StoreConfig points at the candle history. An empty DSN means history is
// only what the current run replays.
type StoreConfig struct {
	Driver  string `json:"driver" yaml:"driver"` // "sqlite3" or "pgx"
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Timeout string `json:"timeout" yaml:"timeout"`
	Backoff string `json:"backoff" yaml:"backoff"`
}

type CheckpointConfig struct {
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	InMemory bool   `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`
}

type JournalConfig struct {
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type ControlConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// TradestrategyConfig describes one tradestrategy. Session times are wall
// clock in Location on Date.
type TradestrategyConfig struct {
	ID         string             `json:"id" yaml:"id"`
	Symbol     string             `json:"symbol" yaml:"symbol"`
	Kind       string             `json:"kind" yaml:"kind"`
	Date       string             `json:"date" yaml:"date"`   // 2006-01-02
	Open       string             `json:"open" yaml:"open"`   // 15:04
	Close      string             `json:"close" yaml:"close"` // 15:04
	Location   string             `json:"location,omitempty" yaml:"location,omitempty"`
	BarSize    string             `json:"bar_size" yaml:"bar_size"`
	Portfolio  string             `json:"portfolio,omitempty" yaml:"portfolio,omitempty"`
	RiskAmount float64            `json:"risk_amount" yaml:"risk_amount"`
	Quantity   int64              `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Params     map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// LoadFromFile reads a YAML or JSON config, applies the environment and
// validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func (c *Config) ApplyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvStoreDSN)); dsn != "" {
		c.Store.DSN = dsn
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Broker.Kind != "paper" {
		add("broker.kind must be 'paper'")
	}
	if _, err := parseDuration(c.Broker.Timeout); err != nil {
		add("broker.timeout: %v", err)
	}
	if c.Broker.FillRatio < 0 || c.Broker.FillRatio > 1 {
		add("broker.fill_ratio must be between 0 and 1")
	}

	if c.Store.Driver != "sqlite3" && c.Store.Driver != "pgx" {
		add("store.driver must be 'sqlite3' or 'pgx'")
	}
	if _, err := parseDuration(c.Store.Timeout); err != nil {
		add("store.timeout: %v", err)
	}
	if _, err := parseDuration(c.Store.Backoff); err != nil {
		add("store.backoff: %v", err)
	}

	if c.Checkpoint.Path != "" && c.Checkpoint.InMemory {
		add("checkpoint: path and in_memory are exclusive")
	}

	symbols := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if err := inst.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if symbols[inst.Symbol] {
			add("instrument %s listed twice", inst.Symbol)
		}
		symbols[inst.Symbol] = true
	}

	ids := make(map[string]bool, len(c.Tradestrategies))
	for _, tc := range c.Tradestrategies {
		if ids[tc.ID] {
			add("tradestrategy %q listed twice", tc.ID)
		}
		ids[tc.ID] = true
		if _, err := c.Tradestrategy(tc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Instrument looks a symbol up in the instruments list.
func (c *Config) Instrument(symbol string) (market.Instrument, bool) {
	for _, inst := range c.Instruments {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return market.Instrument{}, false
}

// Tradestrategy resolves tc against the instruments list.
func (c *Config) Tradestrategy(tc TradestrategyConfig) (strategy.Tradestrategy, error) {
	inst, ok := c.Instrument(tc.Symbol)
	if !ok {
		return strategy.Tradestrategy{}, fmt.Errorf("tradestrategy %q: unknown instrument %q", tc.ID, tc.Symbol)
	}
	if _, err := rules.New(tc.Kind); err != nil {
		return strategy.Tradestrategy{}, fmt.Errorf("tradestrategy %q: %w", tc.ID, err)
	}
	day, err := tc.tradingDay()
	if err != nil {
		return strategy.Tradestrategy{}, fmt.Errorf("tradestrategy %q: %w", tc.ID, err)
	}
	bar, err := time.ParseDuration(tc.BarSize)
	if err != nil {
		return strategy.Tradestrategy{}, fmt.Errorf("tradestrategy %q: bar_size: %w", tc.ID, err)
	}

	ts := strategy.Tradestrategy{
		ID:         tc.ID,
		Instrument: inst,
		TradingDay: day,
		Kind:       strings.ToLower(strings.TrimSpace(tc.Kind)),
		BarSize:    bar,
		Portfolio:  tc.Portfolio,
		RiskAmount: tc.RiskAmount,
		Quantity:   tc.Quantity,
		Params:     tc.Params,
	}
	return ts, ts.Validate()
}

func (tc TradestrategyConfig) tradingDay() (strategy.TradingDay, error) {
	loc := time.UTC
	if tc.Location != "" {
		l, err := time.LoadLocation(tc.Location)
		if err != nil {
			return strategy.TradingDay{}, fmt.Errorf("location: %w", err)
		}
		loc = l
	}
	open, err := time.ParseInLocation("2006-01-02 15:04", tc.Date+" "+tc.Open, loc)
	if err != nil {
		return strategy.TradingDay{}, fmt.Errorf("open: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", tc.Date+" "+tc.Close, loc)
	if err != nil {
		return strategy.TradingDay{}, fmt.Errorf("close: %w", err)
	}
	return strategy.TradingDay{Open: open.UTC(), Close: end.UTC()}, nil
}

func (b BrokerConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(b.Timeout)
	return d
}

func (s StoreConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(s.Timeout)
	return d
}

func (s StoreConfig) BackoffDuration() time.Duration {
	d, _ := parseDuration(s.Backoff)
	return d
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%s is negative", s)
	}
	return d, nil
}

// Default returns a configuration that replays into the paper gateway.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Broker: BrokerConfig{
			Kind:      "paper",
			Timeout:   "5s",
			FillRatio: 1,
		},
		Store: StoreConfig{
			Driver:  "sqlite3",
			Timeout: "2s",
			Backoff: "250ms",
		},
		Checkpoint: CheckpointConfig{
			Path: "./data/checkpoints",
		},
		Control: ControlConfig{
			Addr: ":8080",
		},
		Instruments: []market.Instrument{
			{ID: 1, Symbol: "SPY", TickSize: 0.01},
		},
		Tradestrategies: []TradestrategyConfig{
			{
				ID:         "spy-one-percent-up",
				Symbol:     "SPY",
				Kind:       "one-percent-up",
				Date:       "2024-03-05",
				Open:       "09:30",
				Close:      "16:00",
				Location:   "America/New_York",
				BarSize:    "5m",
				Portfolio:  "paper",
				RiskAmount: 100,
			},
		},
	}
}
