package strategy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseText(t *testing.T) {
	t.Parallel()

	for p := Idle; p <= Invalidated; p++ {
		b, err := p.MarshalText()
		require.NoError(t, err)

		var back Phase
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, p, back)
	}

	var p Phase
	assert.Error(t, p.UnmarshalText([]byte("sleeping")))
	assert.Equal(t, "phase(42)", Phase(42).String())
	assert.True(t, Terminated.Terminal())
	assert.True(t, Invalidated.Terminal())
	assert.False(t, Closing.Terminal())
}

func TestSnapshotJSON(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.Phase = PositionOpen
	st.SetAnchor("A", flatBar(3, 10.5))
	st.SetFlag("checkingForC", true)
	st.EntryOrderKey = "ACME-1"

	b, err := json.Marshal(Snapshot{Tradestrategy: testTradestrategy(), State: st.Clone()})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"phase":"position-open"`)

	var back Snapshot
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, PositionOpen, back.State.Phase)
	assert.True(t, back.State.Flag("checkingForC"))
	assert.Equal(t, "ACME-1", back.State.EntryOrderKey)
	assert.Equal(t, 5*time.Minute, back.Tradestrategy.BarSize)
}

func TestStateCloneIsDeep(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.SetValue("x", 1)
	c := st.Clone()
	st.SetValue("x", 2)
	st.SetFlag("f", true)

	v, _ := c.Value("x")
	assert.InDelta(t, 1, v, 1e-9)
	assert.False(t, c.Flag("f"))
}

func TestSetFlagFalseClears(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.SetFlag("f", true)
	st.SetFlag("f", false)
	assert.NotContains(t, st.Flags, "f")
}

func TestTradestrategyHelpers(t *testing.T) {
	t.Parallel()

	ts := testTradestrategy()
	require.NoError(t, ts.Validate())
	assert.Equal(t, ts.TradingDay.Close.Add(-5*time.Minute), ts.Cutoff())

	assert.InDelta(t, 0.2, ts.Param("breakout", 0.2), 1e-9)
	ts.Params = map[string]float64{"breakout": 0.3}
	assert.InDelta(t, 0.3, ts.Param("breakout", 0.2), 1e-9)

	assert.Equal(t, int64(100), ts.Shares(10.04, 10.00))
	ts.Quantity = 0
	assert.Equal(t, int64(1000), ts.Shares(10.04, 10.00))

	bad := Tradestrategy{}
	assert.Error(t, bad.Validate())
}
