package signal

import (
	"errors"
	"fmt"
	"math"
)

var ErrEmptyRange = errors.New("signal: no bins inside the requested range")

// Rebin sums y into uniform bins of the given width covering [lo, hi]
// intersected with the whole-bin range of x, and divides each sum by the
// width. It returns the bin centers and the normalized contents.
func Rebin(x, y []float64, lo, hi, width float64) (centers, values []float64, err error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("%w: len(x)=%d len(y)=%d", ErrLength, len(x), len(y))
	}
	if len(x) == 0 || !(width > 0) {
		return nil, nil, fmt.Errorf("%w: %d samples, width %v", ErrEmptyRange, len(x), width)
	}

	minX, maxX := x[0], x[0]
	for _, v := range x {
		minX = math.Min(minX, v)
		maxX = math.Max(maxX, v)
	}
	lo = math.Max(lo, math.Ceil(minX/width)*width)
	hi = math.Min(hi, math.Floor(maxX/width)*width)

	nbins := int(math.Round((hi - lo) / width))
	if nbins <= 0 {
		return nil, nil, fmt.Errorf("%w: [%v, %v]", ErrEmptyRange, lo, hi)
	}

	sums := make([]float64, nbins)
	top := lo + float64(nbins)*width
	for i, xi := range x {
		if xi < lo || xi >= top {
			continue
		}
		b := int((xi - lo) / width)
		if b >= 0 && b < nbins {
			sums[b] += y[i]
		}
	}

	centers = make([]float64, nbins)
	values = make([]float64, nbins)
	for b := range sums {
		centers[b] = lo + (float64(b)+0.5)*width
		values[b] = sums[b] / width
	}
	return centers, values, nil
}
