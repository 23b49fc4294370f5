package market

import "fmt"

// Instrument is the tradable contract a tradestrategy works on.
type Instrument struct {
	ID       int64   `json:"id" yaml:"id"`
	Symbol   string  `json:"symbol" yaml:"symbol"`
	TickSize float64 `json:"tick_size" yaml:"tick_size"`
}

// DefaultTickSize is used for equities when no tick size is configured.
const DefaultTickSize = 0.01

func (i Instrument) Tick() float64 {
	if i.TickSize <= 0 {
		return DefaultTickSize
	}
	return i.TickSize
}

func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("instrument symbol is required")
	}
	if i.TickSize < 0 {
		return fmt.Errorf("instrument %s: tick size must not be negative", i.Symbol)
	}
	return nil
}

func (i Instrument) String() string {
	return i.Symbol
}
