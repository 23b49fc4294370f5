package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExposure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current float64
		avg     float64
		qty     int64
		want    float64
	}{
		{"long losing", 9.50, 10.00, 100, 50},
		{"long winning", 10.50, 10.00, 100, 50},
		{"short quantity", 10.25, 10.00, -200, 50},
		{"flat price", 10.00, 10.00, 100, 0},
		{"no fill", 9.00, 10.00, 0, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, Exposure(tt.current, tt.avg, tt.qty), 1e-9)
		})
	}
}

func TestViolated(t *testing.T) {
	t.Parallel()

	// 0.50 * 100 = 50 > 40
	assert.True(t, Violated(9.50, 40, 100, 10.00))
	// 0.40 * 100 = 40 is not strictly greater
	assert.False(t, Violated(9.60, 40, 100, 10.00))
	assert.False(t, Violated(9.90, 40, 100, 10.00))
}

func TestSharesForRisk(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(2500), SharesForRisk(100, 10.04, 10.00))
	assert.Equal(t, int64(0), SharesForRisk(100, 10.00, 10.00))
	assert.Equal(t, int64(0), SharesForRisk(0, 10.04, 10.00))
}
