// Package formulas provides the statistical calculations used by the
// metrics pipeline.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// SmoothedRate calculates the Exponential Moving Average of a rate
// series.
//
// EMA Formula:
//
//	EMA_today = (Rate_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// Falls back to the simple mean when there are fewer samples than the
// period, so a freshly observed venue still gets a usable value.
// Returns nil on empty input.
func SmoothedRate(rates []float64, period int) *float64 {
	if len(rates) == 0 {
		return nil
	}

	if len(rates) < period {
		mean := Mean(rates)
		return &mean
	}

	ema := talib.Ema(rates, period)
	if len(ema) > 0 && !math.IsNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	mean := Mean(rates[len(rates)-period:])
	return &mean
}
