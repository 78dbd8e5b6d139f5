package analyze

import (
	"fmt"
	"math"

	"github.com/runningwild/glowfit/pkg/signal"
)

// checkCurve validates a (x, counts) pair: equal lengths, at least minLen
// samples, strictly increasing x and finite non-negative counts.
func checkCurve(x, y []float64, minLen int) error {
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(x), len(y))
	}
	if len(x) < minLen {
		return fmt.Errorf("%w: %d samples, need %d", ErrShortCurve, len(x), minLen)
	}
	if !signal.StrictlyIncreasing(x) {
		return ErrNotMonotonic
	}
	for i, v := range y {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: y[%d]=%v", ErrNegativeCounts, i, v)
		}
	}
	return nil
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
