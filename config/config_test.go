package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, "paper", cfg.Broker.Kind)
	assert.Equal(t, 5*time.Second, cfg.Broker.TimeoutDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.Store.BackoffDuration())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"unknown broker", func(c *Config) { c.Broker.Kind = "ib" }, "broker.kind must be 'paper'"},
		{"bad broker timeout", func(c *Config) { c.Broker.Timeout = "soon" }, "broker.timeout"},
		{"fill ratio", func(c *Config) { c.Broker.FillRatio = 2 }, "broker.fill_ratio"},
		{"store driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"negative backoff", func(c *Config) { c.Store.Backoff = "-1s" }, "store.backoff"},
		{"checkpoint exclusive", func(c *Config) { c.Checkpoint.InMemory = true }, "exclusive"},
		{"duplicate instrument", func(c *Config) { c.Instruments = append(c.Instruments, c.Instruments[0]) }, "listed twice"},
		{"unknown symbol", func(c *Config) { c.Tradestrategies[0].Symbol = "QQQ" }, "unknown instrument"},
		{"unknown rule", func(c *Config) { c.Tradestrategies[0].Kind = "martingale" }, "unknown rule"},
		{"bad date", func(c *Config) { c.Tradestrategies[0].Date = "05/03/2024" }, "open"},
		{"close before open", func(c *Config) { c.Tradestrategies[0].Close = "09:00" }, "must open before it closes"},
		{"bad bar size", func(c *Config) { c.Tradestrategies[0].BarSize = "five" }, "bar_size"},
		{"duplicate tradestrategy", func(c *Config) {
			c.Tradestrategies = append(c.Tradestrategies, c.Tradestrategies[0])
		}, "listed twice"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTradestrategy(t *testing.T) {
	cfg := Default()
	tc := cfg.Tradestrategies[0]
	tc.Kind = " One-Percent-Up "
	tc.Params = map[string]float64{"percent": 2}

	ts, err := cfg.Tradestrategy(tc)
	require.NoError(t, err)
	assert.Equal(t, "one-percent-up", ts.Kind)
	assert.Equal(t, "SPY", ts.Instrument.Symbol)
	assert.Equal(t, 5*time.Minute, ts.BarSize)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), ts.TradingDay.Open)
	assert.Equal(t, time.Date(2024, 3, 5, 21, 0, 0, 0, time.UTC), ts.TradingDay.Close)
	assert.Equal(t, 2.0, ts.Param("percent", 1))
}

func TestSaveAndLoad(t *testing.T) {
	for _, ext := range []string{".yaml", ".json"} {
		ext := ext
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "trader"+ext)
			cfg := Default()
			cfg.Control.Addr = ":9999"
			require.NoError(t, cfg.SaveToFile(path))

			got, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, ":9999", got.Control.Addr)
			assert.Equal(t, cfg.Tradestrategies, got.Tradestrategies)
			assert.Equal(t, cfg.Instruments, got.Instruments)
		})
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "paper", cfg.Broker.Kind)
	assert.Len(t, cfg.Tradestrategies, 1)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log: [unclosed"), 0o644))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "parse config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("broker:\n  kind: ib\n"), 0o644))
	_, err = LoadFromFile(invalid)
	assert.ErrorContains(t, err, "invalid config")
}

func TestEnvOverridesDSN(t *testing.T) {
	t.Setenv(EnvStoreDSN, "postgres://trader@db/intraday")

	path := filepath.Join(t.TempDir(), "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: pgx\n  dsn: file.db\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://trader@db/intraday", cfg.Store.DSN)
}
