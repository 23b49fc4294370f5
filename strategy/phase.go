package strategy

import "fmt"

// Phase is where a tradestrategy is in its day.
type Phase int32

const (
	Idle Phase = iota
	Watching
	Candidate
	PositionPending
	PositionOpen
	Closing
	Terminated
	Invalidated
)

var phaseNames = [...]string{
	Idle:            "idle",
	Watching:        "watching",
	Candidate:       "candidate",
	PositionPending: "position-pending",
	PositionOpen:    "position-open",
	Closing:         "closing",
	Terminated:      "terminated",
	Invalidated:     "invalidated",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int32(p))
	}
	return phaseNames[p]
}

// Terminal phases accept no further bars.
func (p Phase) Terminal() bool {
	return p == Terminated || p == Invalidated
}

func (p Phase) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(phaseNames) {
		return nil, fmt.Errorf("unknown phase %d", int32(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	s := string(b)
	for i, n := range phaseNames {
		if n == s {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", s)
}
