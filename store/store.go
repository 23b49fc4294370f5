// Package store reads historical candles for the rules. The SQL store works
// against SQLite (mattn/go-sqlite3) or Postgres/Timescale (pgx stdlib);
// Resilient bounds and retries lookups.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/intraday/market"
)

// ErrPersistenceUnavailable is returned once a lookup has failed or timed
// out on every attempt.
var ErrPersistenceUnavailable = errors.New("store: persistence unavailable")

type CandleStore interface {
	// FindCandles returns the bars of barSize with start <= Start <= end in
	// time order. No rows is not an error.
	FindCandles(ctx context.Context, instrumentID int64, start, end time.Time, barSize time.Duration) ([]market.Candle, error)
}

// PriorTradingDay returns the session before day: Friday for a Monday,
// otherwise the previous calendar day.
func PriorTradingDay(day time.Time) time.Time {
	return day.AddDate(0, 0, -priorDays(day))
}

func priorDays(day time.Time) int {
	if day.Weekday() == time.Monday {
		return 3
	}
	return 1
}

// PriorSession loads the previous session's bars for a session that runs
// from open to close. The last bar fetched is the one that ends at close.
func PriorSession(ctx context.Context, s CandleStore, instrumentID int64, open, close time.Time, barSize time.Duration) ([]market.Candle, error) {
	n := priorDays(open)
	last := close.Add(-barSize)
	if barSize <= 0 {
		last = close.Add(-time.Second)
	}
	return s.FindCandles(ctx, instrumentID, open.AddDate(0, 0, -n), last.AddDate(0, 0, -n), barSize)
}

// Memory is a CandleStore held in process, used by replays and tests.
type Memory struct {
	mu      sync.RWMutex
	candles map[memKey][]market.Candle
}

type memKey struct {
	instrument int64
	bar        time.Duration
}

func NewMemory() *Memory {
	return &Memory{candles: make(map[memKey][]market.Candle)}
}

// Add stores cs for the instrument, replacing bars with the same start.
func (m *Memory) Add(instrumentID int64, barSize time.Duration, cs ...market.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey{instrumentID, barSize}
	byStart := make(map[int64]int, len(m.candles[k]))
	for i, c := range m.candles[k] {
		byStart[c.Start.Unix()] = i
	}
	for _, c := range cs {
		if i, ok := byStart[c.Start.Unix()]; ok {
			m.candles[k][i] = c
			continue
		}
		byStart[c.Start.Unix()] = len(m.candles[k])
		m.candles[k] = append(m.candles[k], c)
	}
	sort.Slice(m.candles[k], func(i, j int) bool {
		return m.candles[k][i].Start.Before(m.candles[k][j].Start)
	})
}

// SaveCandles is Add with the signature of the SQL store.
func (m *Memory) SaveCandles(ctx context.Context, instrumentID int64, barSize time.Duration, cs []market.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Add(instrumentID, barSize, cs...)
	return nil
}

func (m *Memory) FindCandles(ctx context.Context, instrumentID int64, start, end time.Time, barSize time.Duration) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []market.Candle
	for _, c := range m.candles[memKey{instrumentID, barSize}] {
		if !c.Start.Before(start) && !c.Start.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}
