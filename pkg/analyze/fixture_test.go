package analyze

import (
	"math"
	"math/rand"

	"github.com/runningwild/glowfit/pkg/kinetics"
)

// glowCurve describes a synthetic time-domain measurement of glow peaks
// 2 to 5 on a constant background.
type glowCurve struct {
	n     int
	tmax  float64
	T0    float64
	alpha float64
	Im    [4]float64 // photons per K
	E     [4]float64
	bg    float64 // photons per sample
	seed  int64
}

func defaultGlowCurve() glowCurve {
	return glowCurve{
		n:     2000,
		tmax:  20,
		T0:    310,
		alpha: 0.12,
		Im:    [4]float64{2000, 4000, 6000, 10000},
		E:     [4]float64{1.3, 1.5, 1.7, 2.0},
		bg:    5,
		seed:  1,
	}
}

// generate returns time, true temperature and Gaussian-noised counts. Each
// sample integrates the peaks over the temperature step it covers.
func (g glowCurve) generate() (t, T, counts []float64) {
	rng := rand.New(rand.NewSource(g.seed))
	t = make([]float64, g.n)
	for i := range t {
		t[i] = g.tmax * float64(i) / float64(g.n-1)
	}
	T = kinetics.Heating(t, g.T0, g.alpha, kinetics.DefaultTg)

	counts = make([]float64, g.n)
	for i := range t {
		prev := T[0] - (T[1] - T[0])
		if i > 0 {
			prev = T[i-1]
		}
		dT := T[i] - prev
		mid := []float64{(T[i] + prev) / 2}

		s := g.bg
		for k, Tm := range kinetics.PeakTemperatures {
			s += kinetics.KitisExact(mid, Tm, g.Im[k], g.E[k], kinetics.DefaultTg)[0] * dT
		}
		counts[i] = math.Max(0, s+rng.NormFloat64()*math.Sqrt(s))
	}
	return t, T, counts
}

// bumpCurve is a flat background of 10 with a Gaussian bump of height 500
// and width 8 at index n/2, with Poisson-like noise.
func bumpCurve(n int, seed int64) (x, y []float64) {
	rng := rand.New(rand.NewSource(seed))
	x = make([]float64, n+1)
	y = make([]float64, n+1)
	for i := range x {
		x[i] = float64(i)
		mu := 10 + kinetics.Gaussian(float64(i), float64(n)/2, 8, 500)
		y[i] = math.Max(0, mu+rng.NormFloat64()*math.Sqrt(mu))
	}
	return x, y
}

// nearestIndex returns the sample whose value is closest to v.
func nearestIndex(xs []float64, v float64) int {
	best := 0
	for i, x := range xs {
		if math.Abs(x-v) < math.Abs(xs[best]-v) {
			best = i
		}
	}
	return best
}
