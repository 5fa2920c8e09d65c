package slots

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ApplyDimChange derives a new dim level in [0,1] from the current level.
//
// "+N" and "-N" change the level by N percent; a bare "N" sets it to N
// percent. The result is always clamped to [0,1].
func ApplyDimChange(current float64, change string) (float64, error) {
	expr := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(change), "%"))
	if expr == "" {
		return clamp01(current), fmt.Errorf("%w: empty", ErrInvalidDimChange)
	}

	n, err := strconv.ParseFloat(expr, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return clamp01(current), fmt.Errorf("%w: %q", ErrInvalidDimChange, change)
	}

	if expr[0] == '+' || expr[0] == '-' {
		return clamp01(current + n/100), nil
	}
	return clamp01(n / 100), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
