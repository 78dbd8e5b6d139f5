// Package kinetics implements first-order thermoluminescence peak shapes and
// the exponential heating profile of the reader's planchet.
package kinetics

import "math"

const (
	// Boltzmann constant in eV/K.
	Boltzmann = 8.61733e-05

	// DefaultTg is the asymptotic planchet temperature in Kelvin.
	DefaultTg = 573.15
)

// PeakTemperatures holds the literature maxima of glow peaks 2 to 5 in Kelvin.
var PeakTemperatures = [4]float64{441.36, 483.11, 512.1, 537.02}

// HeatingAt returns the sample temperature after t seconds of heating.
func HeatingAt(t, T0, alpha, Tg float64) float64 {
	return Tg - (Tg-T0)*math.Exp(-alpha*t)
}

// Heating maps a time axis to temperatures:
// T = Tg - (Tg - T0) * exp(-alpha * t).
// It is monotonically increasing in t for alpha > 0 and T0 < Tg.
func Heating(t []float64, T0, alpha, Tg float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = HeatingAt(ti, T0, alpha, Tg)
	}
	return out
}

// HeatingSeed estimates (T0, alpha) with a straight-line fit of
// ln(Tg - T) = ln(Tg - T0) - alpha*t. Points at or above Tg are skipped.
// ok is false when fewer than two usable points remain.
func HeatingSeed(t, T []float64, Tg float64) (T0, alpha float64, ok bool) {
	var xs, ys []float64
	for i := range t {
		if i >= len(T) || T[i] >= Tg {
			continue
		}
		xs = append(xs, t[i])
		ys = append(ys, math.Log(Tg-T[i]))
	}
	if len(xs) < 2 {
		return 0, 0, false
	}

	m, c, ok := leastSquares(xs, ys)
	if !ok {
		return 0, 0, false
	}
	return Tg - math.Exp(c), -m, true
}

// leastSquares performs simple linear regression y = m*x + c.
func leastSquares(xs, ys []float64) (m, c float64, ok bool) {
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(xs))

	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}

	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, 0, false
	}
	m = (n*sumXY - sumX*sumY) / den
	c = (sumY - m*sumX) / n
	return m, c, true
}
