package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSmoothedRate tests the EMA smoothing with its mean fallback
func TestSmoothedRate(t *testing.T) {
	t.Run("empty series returns nil", func(t *testing.T) {
		assert.Nil(t, SmoothedRate(nil, 12))
		assert.Nil(t, SmoothedRate([]float64{}, 12))
	})

	t.Run("short series falls back to mean", func(t *testing.T) {
		got := SmoothedRate([]float64{400, 500}, 12)
		require.NotNil(t, got)
		assert.InDelta(t, 450, *got, 1e-9)
	})

	t.Run("constant series smooths to itself", func(t *testing.T) {
		series := make([]float64, 20)
		for i := range series {
			series[i] = 450
		}
		got := SmoothedRate(series, 12)
		require.NotNil(t, got)
		assert.InDelta(t, 450, *got, 1e-6)
	})

	t.Run("smoothed value lags a spike", func(t *testing.T) {
		// Eleven stable observations and one spike: the smoothed value
		// must sit well below the spike but above the base rate.
		series := []float64{450, 450, 450, 450, 450, 450, 450, 450, 450, 450, 450, 900}
		got := SmoothedRate(series, 12)
		require.NotNil(t, got)
		assert.Greater(t, *got, 450.0)
		assert.Less(t, *got, 600.0)
	})
}
