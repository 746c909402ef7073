// Package safe provides overflow-checked integer conversions.
package safe

import (
	"math"
)

// IntToInt32 converts an int to int32, clamping to the int32 range if
// overflow would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func IntToInt32(val int) (int32, bool) {
	if val > math.MaxInt32 {
		return math.MaxInt32, true
	}
	if val < math.MinInt32 {
		return math.MinInt32, true
	}
	return int32(val), false
}

// IntToUint32 converts an int to uint32, clamping negative values to zero and
// large values to math.MaxUint32.
// Returns the converted value and a boolean indicating whether clamping occurred.
func IntToUint32(val int) (uint32, bool) {
	if val < 0 {
		return 0, true
	}
	if uint64(val) > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(val), false
}
