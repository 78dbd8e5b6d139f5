// Package stats holds goodness-of-fit statistics and stage timing
// histograms.
package stats

import (
	"errors"
	"fmt"
	"math"
)

var ErrDegreesOfFreedom = errors.New("stats: no degrees of freedom")

// ReducedChiSquare returns sum(((yTrue - yFit) / sigma)^2) / dof. Zero
// sigmas are replaced by sqrt(yFit), the Poisson expectation; samples where
// both are zero are skipped.
func ReducedChiSquare(yTrue, yFit, sigma []float64, dof int) (float64, error) {
	if len(yTrue) != len(yFit) || len(yTrue) != len(sigma) {
		return 0, fmt.Errorf("stats: length mismatch %d/%d/%d", len(yTrue), len(yFit), len(sigma))
	}
	if dof <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrDegreesOfFreedom, dof)
	}

	sum := 0.0
	for i := range yTrue {
		s := sigma[i]
		if s == 0 {
			s = math.Sqrt(math.Max(yFit[i], 0))
		}
		if s == 0 {
			continue
		}
		r := (yTrue[i] - yFit[i]) / s
		sum += r * r
	}
	return sum / float64(dof), nil
}
