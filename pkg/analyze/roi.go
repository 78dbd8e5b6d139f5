package analyze

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/signal"
)

const (
	roiFilterOrder = 4

	// Shortest curve whose len/3 window still exceeds the filter order.
	minRoICurve = 15

	// Smallest peak excursion above the mean, relative to the mean.
	minExcursion = 1e-9

	DefaultRoIIterations = 2
)

// RoI is an index range [Low, High] of a curve believed to hold the signal.
type RoI struct {
	Low  int
	High int
}

// Degenerate reports whether the RoI touches either end of a curve of n
// samples. Such a result points to corrupted input rather than a peak.
func (r RoI) Degenerate(n int) bool {
	return r.Low <= 0 || r.High >= n-1
}

// Spans reports whether the RoI covers the whole curve.
func (r RoI) Spans(n int) bool {
	return r.Low <= 0 && r.High >= n-1
}

// DetectRoI finds the region around the dominant peak of (x, y).
//
// y is smoothed with a Savitzky-Golay filter (window len/3 made odd, order
// 4). Starting at the smoothed maximum among x > 1 the bounds move outwards
// while the smoothed curve stays above its global mean. Each refinement
// round then moves every bound further out while the curve stays above the
// mean of the samples beyond that bound, which removes the bias of a long
// background tail. A curve without an excursion above its mean has no RoI.
func DetectRoI(x, y []float64, iterations int) (RoI, error) {
	if err := checkCurve(x, y, minRoICurve); err != nil {
		return RoI{}, err
	}
	n := len(x)

	window := n / 3
	if window%2 == 0 {
		window++
	}
	sm, err := signal.SavitzkyGolay(y, window, roiFilterOrder, 0)
	if err != nil {
		return RoI{}, fmt.Errorf("smoothing: %w", err)
	}

	seed := -1
	for i := range sm {
		if x[i] > 1 && (seed < 0 || sm[i] > sm[seed]) {
			seed = i
		}
	}
	if seed < 0 {
		return RoI{}, ErrNoSeed
	}

	mean := signal.Mean(sm)
	if sm[seed]-mean <= minExcursion*math.Max(math.Abs(mean), 1) {
		return RoI{}, fmt.Errorf("%w: peak %g, mean %g", ErrNoRoI, sm[seed], mean)
	}
	lo, hi := seed, seed
	for lo > 0 && sm[lo] > mean {
		lo--
	}
	for hi < n-1 && sm[hi] > mean {
		hi++
	}

	for it := 0; it < iterations; it++ {
		if lo > 0 {
			left := signal.Mean(sm[:lo])
			for lo > 0 && sm[lo] > left {
				lo--
			}
		}
		if hi < n-1 {
			right := signal.Mean(sm[hi+1:])
			for hi < n-1 && sm[hi] > right {
				hi++
			}
		}
	}
	if hi <= lo {
		return RoI{}, fmt.Errorf("%w: bounds %d, %d", ErrNoRoI, lo, hi)
	}
	return RoI{Low: lo, High: hi}, nil
}

// RoIRecord runs DetectRoI and reports the result as a record.
func RoIRecord(x, y []float64, iterations int) record.Record {
	roi, err := DetectRoI(x, y, iterations)
	if err != nil {
		slog.Warn("RoI detection failed", "err", err)
		return record.Failure(StageRoI, err)
	}

	rec := record.Success(StageRoI)
	rec["RoI_low"] = float64(roi.Low)
	rec["RoI_high"] = float64(roi.High)
	rec["RoI_degenerate"] = roi.Degenerate(len(x))
	if roi.Degenerate(len(x)) {
		slog.Warn("RoI touches the curve boundary, input may be corrupted",
			"low", roi.Low, "high", roi.High, "n", len(x))
	}
	return rec
}
