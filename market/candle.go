package market

import "time"

// Candle is one OHLCV bar for an instrument. Final is set once the period
// has closed; a final candle is never changed afterwards.
type Candle struct {
	Instrument string    `json:"instrument" yaml:"instrument"`
	Start      time.Time `json:"start" yaml:"start"`
	End        time.Time `json:"end" yaml:"end"`

	Open  float64 `json:"open" yaml:"open"`
	High  float64 `json:"high" yaml:"high"`
	Low   float64 `json:"low" yaml:"low"`
	Close float64 `json:"close" yaml:"close"`

	Volume float64 `json:"volume" yaml:"volume"`
	Final  bool    `json:"final" yaml:"final"`
}

func (c Candle) IsZero() bool {
	return c.Start.IsZero()
}

// Side reports the direction of the bar: Long for a green bar, Short for a
// red one and Flat when open equals close.
func (c Candle) Side() Side {
	switch {
	case c.Close > c.Open:
		return Long
	case c.Close < c.Open:
		return Short
	default:
		return Flat
	}
}

// Period returns the bar length, or zero when End is not set.
func (c Candle) Period() time.Duration {
	if c.End.IsZero() {
		return 0
	}
	return c.End.Sub(c.Start)
}
