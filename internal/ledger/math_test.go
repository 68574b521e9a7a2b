package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMulDiv covers rounding direction and overflow safety of the
// share-conversion primitive.
func TestMulDiv(t *testing.T) {
	tests := []struct {
		name     string
		a, b, c  uint64
		roundUp  bool
		expected uint64
	}{
		{"exact", 10, 6, 3, false, 20},
		{"round down", 10, 1, 3, false, 3},
		{"round up", 10, 1, 3, true, 4},
		{"no rounding needed up", 10, 2, 5, true, 4},
		{"zero numerator", 0, 100, 7, false, 0},
		{"identity", 12345, 1, 1, false, 12345},
		{"intermediate overflow", math.MaxUint64, math.MaxUint64 / 2, math.MaxUint64, false, math.MaxUint64 / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mulDiv(tt.a, tt.b, tt.c, tt.roundUp))
		})
	}
}
