package signal

import "sort"

// FindPeaks returns the indices of local maxima of y, in ascending order.
// A maximum must exceed min + threshold*(max-min) of y. Candidates are taken
// highest first and any other candidate closer than minDist samples to an
// accepted one is dropped. Flat tops report their first sample.
func FindPeaks(y []float64, threshold float64, minDist int) []int {
	if len(y) < 3 {
		return nil
	}
	if minDist < 1 {
		minDist = 1
	}

	lo, hi := y[0], y[0]
	for _, v := range y {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		return nil
	}
	level := lo + threshold*(hi-lo)

	var candidates []int
	for i := 1; i < len(y)-1; i++ {
		if y[i] <= level || y[i] <= y[i-1] {
			continue
		}
		// Walk over a plateau to see whether it falls afterwards.
		j := i + 1
		for j < len(y)-1 && y[j] == y[i] {
			j++
		}
		if y[j] < y[i] {
			candidates = append(candidates, i)
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return y[candidates[a]] > y[candidates[b]]
	})

	var peaks []int
	for _, c := range candidates {
		keep := true
		for _, p := range peaks {
			if abs(c-p) < minDist {
				keep = false
				break
			}
		}
		if keep {
			peaks = append(peaks, c)
		}
	}
	sort.Ints(peaks)
	return peaks
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
