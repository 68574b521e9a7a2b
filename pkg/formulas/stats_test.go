package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMean tests the Mean function
func TestMean(t *testing.T) {
	tests := []struct {
		name     string
		data     []float64
		expected float64
	}{
		{"simple", []float64{1, 2, 3, 4, 5}, 3},
		{"single value", []float64{42}, 42},
		{"empty", []float64{}, 0},
		{"nil", nil, 0},
		{"negative values", []float64{-2, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Mean(tt.data), 1e-9)
		})
	}
}

// TestRateVolatility tests the relative-stddev volatility score
func TestRateVolatility(t *testing.T) {
	t.Run("constant series scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, RateVolatility([]float64{450, 450, 450, 450}))
	})

	t.Run("too few samples scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, RateVolatility([]float64{450}))
		assert.Equal(t, 0.0, RateVolatility(nil))
	})

	t.Run("zero mean scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, RateVolatility([]float64{-100, 100}))
	})

	t.Run("choppier series scores higher", func(t *testing.T) {
		calm := RateVolatility([]float64{450, 455, 445, 450, 452})
		choppy := RateVolatility([]float64{450, 900, 200, 800, 300})
		assert.Greater(t, choppy, calm)
	})

	t.Run("capped at 100", func(t *testing.T) {
		score := RateVolatility([]float64{1, 10000, 1, 10000})
		assert.LessOrEqual(t, score, 100.0)
	})
}

// TestCalculateReturns tests percentage return conversion
func TestCalculateReturns(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected []float64
	}{
		{"rising series", []float64{100, 110, 121}, []float64{0.1, 0.1}},
		{"falling series", []float64{100, 50}, []float64{-0.5}},
		{"too short", []float64{100}, []float64{}},
		{"zero previous value skipped", []float64{0, 100}, []float64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateReturns(tt.values)
			assert.InDeltaSlice(t, tt.expected, got, 1e-9)
		})
	}
}
