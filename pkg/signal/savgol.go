package signal

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrWindow = errors.New("signal: invalid filter window")

// SavitzkyGolay applies a Savitzky-Golay filter of the given odd window and
// polynomial order to y, returning the smoothed values (deriv == 0) or the
// deriv-th derivative with respect to the sample index.
//
// Samples closer than window/2 to either end are taken from a polynomial
// fitted to the first or last window samples ("interp" edge mode).
func SavitzkyGolay(y []float64, window, order, deriv int) ([]float64, error) {
	n := len(y)
	switch {
	case window%2 == 0 || window < 1:
		return nil, fmt.Errorf("%w: window %d must be odd and positive", ErrWindow, window)
	case window <= order:
		return nil, fmt.Errorf("%w: window %d must exceed order %d", ErrWindow, window, order)
	case window > n:
		return nil, fmt.Errorf("%w: window %d exceeds %d samples", ErrWindow, window, n)
	case deriv < 0 || order < 0:
		return nil, fmt.Errorf("%w: negative order or derivative", ErrWindow)
	}

	fitter, err := newPolyFit(window, order)
	if err != nil {
		return nil, err
	}

	half := window / 2
	out := make([]float64, n)

	center := fitter.weights(half, deriv)
	for i := half; i < n-half; i++ {
		out[i] = dot(center, y[i-half:i+half+1])
	}
	for i := 0; i < half; i++ {
		out[i] = dot(fitter.weights(i, deriv), y[:window])
		out[n-1-i] = dot(fitter.weights(window-1-i, deriv), y[n-window:])
	}
	return out, nil
}

// polyFit holds the least-squares system of a polynomial fitted to one
// window, on the abscissa u = (j - m) / m to keep the Vandermonde matrix
// well conditioned.
type polyFit struct {
	order int
	mid   float64
	scale float64
	vand  *mat.Dense
	chol  mat.Cholesky
}

func newPolyFit(window, order int) (*polyFit, error) {
	mid := float64(window-1) / 2
	scale := mid
	if scale < 1 {
		scale = 1
	}

	vand := mat.NewDense(window, order+1, nil)
	for j := 0; j < window; j++ {
		u := (float64(j) - mid) / scale
		pow := 1.0
		for p := 0; p <= order; p++ {
			vand.Set(j, p, pow)
			pow *= u
		}
	}

	var normal mat.SymDense
	normal.SymOuterK(1, vand.T())

	pf := &polyFit{order: order, mid: mid, scale: scale, vand: vand}
	if !pf.chol.Factorize(&normal) {
		return nil, fmt.Errorf("%w: singular polynomial system", ErrWindow)
	}
	return pf, nil
}

// weights returns w such that sum(w[j]*y[j]) is the deriv-th derivative of
// the fitted polynomial at window position pos.
func (pf *polyFit) weights(pos, deriv int) []float64 {
	u0 := (float64(pos) - pf.mid) / pf.scale

	e := mat.NewVecDense(pf.order+1, nil)
	for p := deriv; p <= pf.order; p++ {
		c := 1.0
		for q := 0; q < deriv; q++ {
			c *= float64(p - q)
		}
		pow := 1.0
		for q := 0; q < p-deriv; q++ {
			pow *= u0
		}
		div := 1.0
		for q := 0; q < deriv; q++ {
			div *= pf.scale
		}
		e.SetVec(p, c*pow/div)
	}

	var z mat.VecDense
	// The factorization succeeded, so only conditioning warnings remain.
	_ = pf.chol.SolveVecTo(&z, e)

	var w mat.VecDense
	w.MulVec(pf.vand, &z)
	return w.RawVector().Data
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
