package kinetics

import "math"

// Background evaluates a/(b-x) + c*exp((x-300)*d). Negative values are
// returned as is; callers clamp them.
func Background(x []float64, a, b, c, d float64) []float64 {
	out := make([]float64, len(x))
	for i, xi := range x {
		out[i] = a/(b-xi) + c*math.Exp((xi-300)*d)
	}
	return out
}

// Gaussian returns I*exp(-(x-mu)^2 / (2 sigma^2)).
func Gaussian(x, mu, sigma, I float64) float64 {
	dx := x - mu
	return I * math.Exp(-dx*dx/(2*sigma*sigma))
}

// MultiGaussian3 is a three peak Gaussian with constant background.
// Parameters are relative so the peaks stay ordered:
//
//	p = [dx2, dx3, x4, sig2, dsig3, dsig4, I2, I3, I4, c]
//
// with x3 = x4-dx3, x2 = x3-dx2, sig3 = sig2+dsig3, sig4 = sig3+dsig4.
func MultiGaussian3(t, p, out []float64) {
	dx2, dx3, x4 := p[0], p[1], p[2]
	sig2, dsig3, dsig4 := p[3], p[4], p[5]
	I2, I3, I4, c := p[6], p[7], p[8], p[9]

	x3 := x4 - dx3
	x2 := x3 - dx2
	sig3 := sig2 + dsig3
	sig4 := sig3 + dsig4

	for i, ti := range t {
		out[i] = Gaussian(ti, x2, sig2, I2) +
			Gaussian(ti, x3, sig3, I3) +
			Gaussian(ti, x4, sig4, I4) + c
	}
}

// MultiGaussian4 adds a fourth, earliest peak to MultiGaussian3:
//
//	p = [dx1, dx2, dx3, x4, sig1, dsig2, dsig3, dsig4, I1, I2, I3, I4, c]
func MultiGaussian4(t, p, out []float64) {
	dx1, dx2, dx3, x4 := p[0], p[1], p[2], p[3]
	sig1, dsig2, dsig3, dsig4 := p[4], p[5], p[6], p[7]
	I1, I2, I3, I4, c := p[8], p[9], p[10], p[11], p[12]

	x3 := x4 - dx3
	x2 := x3 - dx2
	x1 := x2 - dx1
	sig2 := sig1 + dsig2
	sig3 := sig2 + dsig3
	sig4 := sig3 + dsig4

	for i, ti := range t {
		out[i] = Gaussian(ti, x1, sig1, I1) +
			Gaussian(ti, x2, sig2, I2) +
			Gaussian(ti, x3, sig3, I3) +
			Gaussian(ti, x4, sig4, I4) + c
	}
}
