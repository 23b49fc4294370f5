package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/intraday/market"
)

const fiveMin = 5 * time.Minute

func session(day time.Time, n int) []market.Candle {
	open := time.Date(day.Year(), day.Month(), day.Day(), 14, 30, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		s := open.Add(time.Duration(i) * fiveMin)
		p := 10 + float64(i)/100
		out[i] = market.Candle{
			Instrument: "ACME",
			Start:      s,
			End:        s.Add(fiveMin),
			Open:       p, High: p + 0.02, Low: p - 0.02, Close: p + 0.01,
			Volume: 1000,
			Final:  true,
		}
	}
	return out
}

func TestPriorTradingDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		day  time.Time
		want time.Time
	}{
		{"monday to friday", time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC), time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"tuesday to monday", time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)},
		{"friday to thursday", time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC), time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PriorTradingDay(tt.day))
		})
	}
}

func TestSQLiteSaveAndFind(t *testing.T) {
	t.Parallel()

	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "candles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := session(day, 6)
	require.NoError(t, s.SaveCandles(ctx, 1, fiveMin, bars))

	// upsert replaces, it does not duplicate
	bars[0].Close = 11
	require.NoError(t, s.SaveCandles(ctx, 1, fiveMin, bars[:1]))

	got, err := s.FindCandles(ctx, 1, bars[0].Start, bars[4].Start, fiveMin)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.True(t, bars[0].Start.Equal(got[0].Start))
	assert.True(t, bars[3].End.Equal(got[3].End))
	assert.True(t, bars[4].Start.Equal(got[4].Start), "end bound is inclusive")
	assert.InDelta(t, 11, got[0].Close, 1e-9)
	assert.Equal(t, "ACME", got[1].Instrument)
	assert.True(t, got[1].Final)

	none, err := s.FindCandles(ctx, 2, bars[0].Start, bars[4].Start, fiveMin)
	require.NoError(t, err)
	assert.Empty(t, none)

	other, err := s.FindCandles(ctx, 1, bars[0].Start, bars[4].Start, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open("oracle", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &SQL{driver: "pgx"}
	assert.Equal(t, "a = $1 AND b < $2", pg.rebind("a = ? AND b < ?"))

	lite := &SQL{driver: "sqlite3"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestPriorSession(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	friday := session(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 3)
	monday := session(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), 3)
	m.Add(1, fiveMin, friday...)
	m.Add(1, fiveMin, monday...)

	open := monday[0].Start
	got, err := PriorSession(context.Background(), m, 1, open, open.Add(6*time.Hour+30*time.Minute), fiveMin)
	require.NoError(t, err)
	assert.Equal(t, friday, got)
}

func TestFindCandlesEndInclusive(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	bars := session(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 4)
	m.Add(1, fiveMin, bars...)

	got, err := m.FindCandles(context.Background(), 1, bars[1].Start, bars[2].Start, fiveMin)
	require.NoError(t, err)
	assert.Equal(t, bars[1:3], got)

	// a session of two bars stops at the bar that ends at close
	open := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	prior, err := PriorSession(context.Background(), m, 1, open, open.Add(2*fiveMin), fiveMin)
	require.NoError(t, err)
	assert.Equal(t, bars[:2], prior)
}

func TestMemoryAddReplaces(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	bars := session(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 2)
	m.Add(1, fiveMin, bars[1], bars[0])
	bars[0].Close = 42
	m.Add(1, fiveMin, bars[0])

	got, err := m.FindCandles(context.Background(), 1, bars[0].Start, bars[1].End, fiveMin)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 42, got[0].Close, 1e-9)
}

type flakyStore struct {
	fails int32
	calls atomic.Int32
	delay time.Duration
}

func (f *flakyStore) FindCandles(ctx context.Context, _ int64, _, _ time.Time, _ time.Duration) ([]market.Candle, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.fails {
		return nil, errors.New("connection reset")
	}
	return []market.Candle{{Instrument: "ACME"}}, nil
}

func TestResilientRetriesOnce(t *testing.T) {
	t.Parallel()

	f := &flakyStore{fails: 1}
	r := &Resilient{Store: f, Backoff: time.Millisecond}

	got, err := r.FindCandles(context.Background(), 1, time.Time{}, time.Now(), fiveMin)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestResilientGivesUp(t *testing.T) {
	t.Parallel()

	f := &flakyStore{fails: 5}
	r := &Resilient{Store: f, Backoff: time.Millisecond}

	_, err := r.FindCandles(context.Background(), 1, time.Time{}, time.Now(), fiveMin)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestResilientTimeout(t *testing.T) {
	t.Parallel()

	f := &flakyStore{delay: time.Second}
	r := &Resilient{Store: f, Timeout: 10 * time.Millisecond, Backoff: time.Millisecond}

	start := time.Now()
	_, err := r.FindCandles(context.Background(), 1, time.Time{}, time.Now(), fiveMin)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
