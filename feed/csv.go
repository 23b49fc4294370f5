// Package feed reads candles and replays them through the paper broker and
// the registry.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/intraday/market"
)

// CSV reads candle rows:
//
//	time,instrument,open,high,low,close[,volume]
//
// where time is the bar start in RFC3339 or RFC3339Nano. A header row
// ("time,...") is allowed and short rows are skipped. Bars outside
// [From, To) are dropped when those are set.
type CSV struct {
	closer  io.Closer
	r       *csv.Reader
	barSize time.Duration
	from    time.Time
	to      time.Time

	sawFirst bool
	line     int
}

func OpenCSV(path string, barSize time.Duration, from, to time.Time) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := NewCSV(f, barSize, from, to)
	c.closer = f
	return c, nil
}

func NewCSV(r io.Reader, barSize time.Duration, from, to time.Time) *CSV {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &CSV{r: cr, barSize: barSize, from: from, to: to}
}

func (f *CSV) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Next returns the next bar. ok is false at the end of the input.
func (f *CSV) Next() (market.Candle, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return market.Candle{}, false, nil
		}
		if err != nil {
			return market.Candle{}, false, err
		}
		f.line++
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		c, ok, err := parseCandleRow(row)
		if err != nil {
			return market.Candle{}, false, fmt.Errorf("line %d: %w", f.line, err)
		}
		if !ok || !inRange(c.Start, f.from, f.to) {
			continue
		}
		if f.barSize > 0 {
			c.End = c.Start.Add(f.barSize)
		}
		return c, true, nil
	}
}

func parseCandleRow(row []string) (market.Candle, bool, error) {
	if len(row) < 6 {
		return market.Candle{}, false, nil
	}

	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Candle{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return market.Candle{}, false, fmt.Errorf("bad time %q: %w", ts, err)
	}

	inst := strings.TrimSpace(row[1])
	if inst == "" {
		return market.Candle{}, false, nil
	}

	var px [5]float64
	names := [...]string{"open", "high", "low", "close", "volume"}
	for i := range px {
		if 2+i >= len(row) {
			break
		}
		v := strings.TrimSpace(row[2+i])
		if v == "" && i == 4 {
			break
		}
		px[i], err = strconv.ParseFloat(v, 64)
		if err != nil {
			return market.Candle{}, false, fmt.Errorf("bad %s %q: %w", names[i], row[2+i], err)
		}
	}

	c := market.Candle{
		Instrument: inst,
		Start:      t.UTC(),
		Open:       px[0],
		High:       px[1],
		Low:        px[2],
		Close:      px[3],
		Volume:     px[4],
		Final:      true,
	}
	if c.High < c.Low {
		return market.Candle{}, false, fmt.Errorf("high %v below low %v", c.High, c.Low)
	}
	return c, true, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
