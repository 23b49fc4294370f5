package strategy

import (
	"maps"
	"time"

	"github.com/rustyeddy/intraday/market"
)

// State is the scratch memory of one instance. Rules read and write it
// through RuleContext; nothing else touches it.
type State struct {
	Phase     Phase                    `json:"phase"`
	Candidate bool                     `json:"candidate"`
	Anchors   map[string]market.Candle `json:"anchors,omitempty"`
	Flags     map[string]bool          `json:"flags,omitempty"`
	Values    map[string]float64       `json:"values,omitempty"`

	EntryOrderKey string `json:"entry_order_key,omitempty"`
	StopOrderKey  string `json:"stop_order_key,omitempty"`
	CloseOrderKey string `json:"close_order_key,omitempty"`

	LastBar   time.Time `json:"last_bar,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func NewState() *State {
	return &State{
		Anchors: make(map[string]market.Candle),
		Flags:   make(map[string]bool),
		Values:  make(map[string]float64),
	}
}

func (s *State) Anchor(name string) (market.Candle, bool) {
	c, ok := s.Anchors[name]
	return c, ok
}

func (s *State) SetAnchor(name string, c market.Candle) {
	if s.Anchors == nil {
		s.Anchors = make(map[string]market.Candle)
	}
	s.Anchors[name] = c
}

func (s *State) ClearAnchor(name string) {
	delete(s.Anchors, name)
}

func (s *State) Flag(name string) bool {
	return s.Flags[name]
}

func (s *State) SetFlag(name string, v bool) {
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	if !v {
		delete(s.Flags, name)
		return
	}
	s.Flags[name] = true
}

func (s *State) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

func (s *State) SetValue(name string, v float64) {
	if s.Values == nil {
		s.Values = make(map[string]float64)
	}
	s.Values[name] = v
}

// ResetScratch drops everything a rule remembered so it can start looking
// for a setup again.
func (s *State) ResetScratch() {
	s.Candidate = false
	s.Anchors = make(map[string]market.Candle)
	s.Flags = make(map[string]bool)
	s.Values = make(map[string]float64)
}

// Clone returns a deep copy.
func (s *State) Clone() State {
	c := *s
	c.Anchors = maps.Clone(s.Anchors)
	c.Flags = maps.Clone(s.Flags)
	c.Values = maps.Clone(s.Values)
	return c
}

// Snapshot is what survives a restart.
type Snapshot struct {
	Tradestrategy Tradestrategy `json:"tradestrategy"`
	State         State         `json:"state"`
	Saved         time.Time     `json:"saved"`
}
