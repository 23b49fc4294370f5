package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `log:
  level: error
broker:
  kind: paper
  timeout: 1s
  fill_ratio: 1
store:
  driver: sqlite3
  timeout: 1s
  backoff: 10ms
checkpoint:
  path: ""
  in_memory: true
journal:
  db_path: %s
instruments:
  - id: 1
    symbol: SPY
    tick_size: 0.01
tradestrategies:
  - id: spy-up
    symbol: SPY
    kind: one-percent-up
    date: "2024-03-05"
    open: "09:30"
    close: "16:00"
    location: America/New_York
    bar_size: 5m
    risk_amount: 100
    quantity: 10
`

const testCandles = `time,instrument,open,high,low,close,volume
2024-03-04T14:30:00Z,SPY,100.00,100.20,99.90,100.00,1000
2024-03-04T14:35:00Z,SPY,100.00,100.10,99.80,100.05,1000
2024-03-05T14:30:00Z,SPY,100.00,100.30,99.95,100.20,1000
2024-03-05T14:35:00Z,SPY,100.20,101.60,100.10,101.50,1000
QQQ-ignored
`

// execute runs the root command. Commands share package flags so these
// tests do not run in parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) (dir, cfg string) {
	t.Helper()
	dir = t.TempDir()
	cfg = filepath.Join(dir, "trader.yaml")
	body := strings.Replace(testConfig, "%s", filepath.Join(dir, "journal.db"), 1)
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))
	return dir, cfg
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")

	out, err = execute(t, "config", "validate", "-c", path, "--env", filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "spy-one-percent-up")
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  kind: live\n"), 0o644))

	_, err := execute(t, "config", "validate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.kind")
}

func TestRunReplaysCandles(t *testing.T) {
	dir, cfg := writeConfig(t)
	candles := filepath.Join(dir, "bars.csv")
	// the last row is short and skipped by the reader
	require.NoError(t, os.WriteFile(candles, []byte(testCandles), 0o644))

	out, err := execute(t, "run", "-c", cfg, "--candles", candles, "--bar", "5m")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 4 bars")
	assert.Contains(t, out, "spy-up")

	out, err = execute(t, "journal", "transitions", "spy-up", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "session open")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
	assert.Contains(t, out, "one-percent-up")
}

func TestDayBounds(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start, end, err := dayBounds(loc, "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc), start)
	// daylight saving starts that day
	assert.Equal(t, 23*time.Hour, end.Sub(start))

	_, _, err = dayBounds(loc, "03/10/2024")
	assert.Error(t, err)
}
