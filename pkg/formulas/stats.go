package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// RateVolatility scores how choppy a rate series is on a 0-100 scale.
// The standard deviation of the series is taken relative to its mean,
// so a venue whose APY swings 20% around its average scores 20.
func RateVolatility(rates []float64) float64 {
	if len(rates) < 2 {
		return 0
	}

	mean := Mean(rates)
	if mean == 0 {
		return 0
	}

	relative := StdDev(rates) / math.Abs(mean) * 100
	return math.Min(100, relative)
}

// CalculateReturns converts a value series to percentage returns
// Returns[i] = (Value[i] - Value[i-1]) / Value[i-1]
func CalculateReturns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns[i-1] = (values[i] - values[i-1]) / values[i-1]
		}
	}

	return returns
}
