package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/intraday/market"
)

func TestPercentHelpers(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, PercentOf(100, 1), 1e-12)
	assert.InDelta(t, 5.05, PercentOf(10.10, 50), 1e-12)
	assert.InDelta(t, 101.0, PlusPercent(100, 1), 1e-12)
	assert.InDelta(t, 15.0, PlusPercent(10, 50), 1e-12)
	assert.InDelta(t, 99.0, MinusPercent(100, 1), 1e-12)
	assert.InDelta(t, 9.9, MinusPercent(10, 1), 1e-12)
	assert.InDelta(t, 0.0, MinusPercent(10, 100), 1e-12)
}

func TestRoundToTick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		price float64
		tick  float64
		want  float64
	}{
		{"already on tick", 10.04, 0.01, 10.04},
		{"rounds down", 10.041, 0.01, 10.04},
		{"rounds up", 10.046, 0.01, 10.05},
		{"half to even down", 10.005, 0.01, 10.00},
		{"half to even up", 10.015, 0.01, 10.02},
		{"quarter tick half even", 10.125, 0.25, 10.00},
		{"quarter tick rounds up", 10.13, 0.25, 10.25},
		{"nickel tick", 9.97, 0.05, 9.95},
		{"zero tick passthrough", 10.0417, 0, 10.0417},
		{"negative price", -1.005, 0.01, -1.00},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RoundToTick(tt.price, tt.tick))
		})
	}
}

func TestTruncateToTick(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10.04, TruncateToTick(10.049, 0.01))
	assert.Equal(t, 10.00, TruncateToTick(10.005, 0.01))
	assert.Equal(t, 10.01, TruncateToTick(10.015, 0.01))
	assert.Equal(t, -1.00, TruncateToTick(-1.009, 0.01))
	assert.Equal(t, 10.0, TruncateToTick(10.24, 0.25))
}

func TestRoundToTickIdempotent(t *testing.T) {
	t.Parallel()

	ticks := []float64{0.01, 0.05, 0.25, 0.0001, 1}
	prices := []float64{0, 0.005, 1.23456, 9.995, 10.005, 10.015, 99.999, 123.456789, 4217.125}

	for _, tick := range ticks {
		for _, p := range prices {
			once := RoundToTick(p, tick)
			assert.Equal(t, once, RoundToTick(once, tick), "price %v tick %v", p, tick)

			trunc := TruncateToTick(p, tick)
			assert.Equal(t, trunc, TruncateToTick(trunc, tick), "price %v tick %v", p, tick)
		}
	}
}

func TestStopWithOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		side   market.Side
		action market.Action
		want   float64
	}{
		{"long buy moves up", market.Long, market.Buy, 10.04},
		{"long sell moves down", market.Long, market.Sell, 9.96},
		{"short buy moves down", market.Short, market.Buy, 9.96},
		{"short sell moves up", market.Short, market.Sell, 10.04},
		{"flat acts as long", market.Flat, market.Buy, 10.04},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StopWithOffset(10.00, tt.side, tt.action, 0.04, 0.01))
		})
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, Equal(10.001, 10.004, 0.01))
	assert.False(t, Equal(10.001, 10.009, 0.01))
}

func TestRoundHalfUp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10.13, RoundHalfUp(10.125, 2))
	assert.Equal(t, 10.12, RoundHalfUp(10.1249, 2))
	assert.Equal(t, -10.13, RoundHalfUp(-10.125, 2))
}

func TestAddSub(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10.04, Add(10.00, 0.04))
	assert.Equal(t, 9.96, Sub(10.00, 0.04))
	assert.Equal(t, 0.3, Add(0.1, 0.2))
}
