package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/store"
)

const sample = `time,instrument,open,high,low,close,volume
2024-03-05T14:30:00Z,ACME,10.00,10.10,9.95,10.05,1200
2024-03-05T14:35:00Z,ACME,10.05,10.20,10.00,10.15,
2024-03-05T14:35:00Z,XYZ,50,51,49,50.5,10

2024-03-05T14:40:00Z,ACME,10.15,10.15,10.00,10.02,900
short,row
`

func TestParseCandleRow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		row     []string
		wantOk  bool
		wantErr bool
	}{
		{"valid", []string{"2024-03-05T14:30:00Z", "ACME", "10", "10.1", "9.9", "10.05", "100"}, true, false},
		{"nano time", []string{"2024-03-05T14:30:00.5Z", "ACME", "10", "10.1", "9.9", "10.05"}, true, false},
		{"too few columns", []string{"2024-03-05T14:30:00Z", "ACME", "10"}, false, false},
		{"empty time", []string{"", "ACME", "10", "10.1", "9.9", "10.05"}, false, false},
		{"empty instrument", []string{"2024-03-05T14:30:00Z", "", "10", "10.1", "9.9", "10.05"}, false, false},
		{"bad time", []string{"yesterday", "ACME", "10", "10.1", "9.9", "10.05"}, false, true},
		{"bad price", []string{"2024-03-05T14:30:00Z", "ACME", "ten", "10.1", "9.9", "10.05"}, false, true},
		{"high below low", []string{"2024-03-05T14:30:00Z", "ACME", "10", "9.8", "9.9", "10.05"}, false, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok, err := parseCandleRow(tt.row)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOk, ok)
		})
	}
}

func TestCSVNext(t *testing.T) {
	t.Parallel()
	f := NewCSV(strings.NewReader(sample), 5*time.Minute, time.Time{}, time.Time{})

	var got []market.Candle
	for {
		c, ok, err := f.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, c)
	}
	require.Len(t, got, 4)
	assert.Equal(t, "ACME", got[0].Instrument)
	assert.Equal(t, 10.05, got[0].Close)
	assert.Equal(t, 1200.0, got[0].Volume)
	assert.True(t, got[0].End.Equal(got[0].Start.Add(5*time.Minute)))
	assert.True(t, got[0].Final)
	assert.Zero(t, got[1].Volume)
	assert.Equal(t, "XYZ", got[2].Instrument)
}

func TestCSVRange(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 3, 5, 14, 35, 0, 0, time.UTC)
	to := time.Date(2024, 3, 5, 14, 40, 0, 0, time.UTC)

	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	f, err := OpenCSV(path, 0, from, to)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	for {
		c, ok, err := f.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.True(t, c.Start.Equal(from))
		assert.True(t, c.End.IsZero())
		n++
	}
	assert.Equal(t, 2, n)
}

func TestCSVBadRowReportsLine(t *testing.T) {
	t.Parallel()
	f := NewCSV(strings.NewReader("time,instrument\n2024-03-05T14:30:00Z,ACME,x,1,1,1\n"), 0, time.Time{}, time.Time{})
	_, _, err := f.Next()
	assert.ErrorContains(t, err, "line 2")
}

type sliceSource []market.Candle

func (s *sliceSource) Next() (market.Candle, bool, error) {
	if len(*s) == 0 {
		return market.Candle{}, false, nil
	}
	c := (*s)[0]
	*s = (*s)[1:]
	return c, true, nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	order []string
	fail  string
}

func (d *recordingDispatcher) DispatchAll(_ context.Context, c market.Candle, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, "dispatch:"+c.Instrument)
	if c.Instrument == d.fail {
		return errors.New("boom")
	}
	return nil
}

type recordingSink struct {
	d *recordingDispatcher
}

func (s recordingSink) OnCandle(c market.Candle) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.order = append(s.d.order, "fill:"+c.Instrument)
}

func TestReplay(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	src := sliceSource{
		{Instrument: "ACME", Start: start, Close: 10},
		{Instrument: "XYZ", Start: start, Close: 50},
		{Instrument: "BAD", Start: start.Add(5 * time.Minute), Close: 1},
		{Instrument: "ACME", Start: start.Add(5 * time.Minute), Close: 11},
	}
	d := &recordingDispatcher{fail: "BAD"}
	mem := store.NewMemory()

	r := &Replay{
		Source:     &src,
		Sink:       recordingSink{d},
		Dispatcher: d,
		Recorder:   mem,
		Instruments: map[string]market.Instrument{
			"ACME": {ID: 1, Symbol: "ACME", TickSize: 0.01},
			"BAD":  {ID: 2, Symbol: "BAD", TickSize: 0.01},
		},
		BarSize: 5 * time.Minute,
	}
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Bars)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failures)
	assert.True(t, res.First.Equal(start))
	assert.True(t, res.Last.Equal(start.Add(5*time.Minute)))
	assert.Equal(t, []string{
		"fill:ACME", "dispatch:ACME",
		"fill:BAD", "dispatch:BAD",
		"fill:ACME", "dispatch:ACME",
	}, d.order)

	saved, err := mem.FindCandles(context.Background(), 1, start, start.Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestReplayStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := sliceSource{{Instrument: "ACME", Start: time.Now()}}
	r := &Replay{Source: &src, Dispatcher: &recordingDispatcher{}}
	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
