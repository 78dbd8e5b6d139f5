package optimize

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/runningwild/glowfit/pkg/kinetics"
)

func heatingModel(x, p, out []float64) {
	for i, t := range x {
		out[i] = kinetics.HeatingAt(t, p[0], p[1], kinetics.DefaultTg)
	}
}

func gaussianModel(x, p, out []float64) {
	for i, xi := range x {
		out[i] = kinetics.Gaussian(xi, p[0], p[1], p[2]) + p[3]
	}
}

func TestHeatingRoundTrip(t *testing.T) {
	ts := []float64{2.1, 5.4, 8.8, 13.0}
	T := kinetics.Heating(ts, 305, 0.11, kinetics.DefaultTg)

	res, err := CurveFit(Problem{
		Model:   heatingModel,
		X:       ts,
		Y:       T,
		Initial: []float64{290, 0.12},
	}, DefaultSettings())
	if err != nil {
		t.Fatalf("CurveFit: %v", err)
	}
	want := []float64{305, 0.11}
	for i, w := range want {
		if rel := math.Abs(res.Params[i]-w) / w; rel > 1e-6 {
			t.Errorf("param %d = %v, want %v (rel %g)", i, res.Params[i], w, rel)
		}
	}
}

func noisyGaussian(seed int64) (x, y, sigma []float64) {
	rng := rand.New(rand.NewSource(seed))
	truth := []float64{50, 8, 200, 20}
	x = make([]float64, 100)
	y = make([]float64, 100)
	sigma = make([]float64, 100)
	mu := make([]float64, 100)
	for i := range x {
		x[i] = float64(i)
	}
	gaussianModel(x, truth, mu)
	for i, m := range mu {
		y[i] = math.Max(0, m+rng.NormFloat64()*math.Sqrt(m))
		sigma[i] = math.Sqrt(math.Max(y[i], 1))
	}
	return x, y, sigma
}

func TestGaussianWithPoissonNoise(t *testing.T) {
	x, y, sigma := noisyGaussian(1)
	inf := math.Inf(1)

	res, err := CurveFit(Problem{
		Model:   gaussianModel,
		X:       x,
		Y:       y,
		Sigma:   sigma,
		Initial: []float64{45, 5, 150, 10},
		Lower:   []float64{0, 0.1, 0, 0},
		Upper:   []float64{100, 50, inf, inf},
	}, DefaultSettings())
	if err != nil {
		t.Fatalf("CurveFit: %v", err)
	}

	if res.DOF != 96 {
		t.Errorf("DOF = %d, want 96", res.DOF)
	}
	if chi := res.Cost / float64(res.DOF); chi < 0.5 || chi > 2 {
		t.Errorf("reduced chi-square = %v, want near 1", chi)
	}
	if math.Abs(res.Params[0]-50) > 1 {
		t.Errorf("mu = %v, want 50", res.Params[0])
	}
	if math.Abs(res.Params[2]-200)/200 > 0.1 {
		t.Errorf("amplitude = %v, want 200", res.Params[2])
	}

	sd, err := res.StdDev()
	if err != nil {
		t.Fatalf("StdDev: %v", err)
	}
	for i, s := range sd {
		if !(s > 0) || math.IsInf(s, 0) {
			t.Errorf("std dev %d = %v", i, s)
		}
	}
	if math.Abs(res.Params[0]-50) > 5*sd[0] {
		t.Errorf("mu %v +- %v is far from 50", res.Params[0], sd[0])
	}
}

func TestBoundsRespected(t *testing.T) {
	x, y, sigma := noisyGaussian(2)
	lower := []float64{0, 0.1, 0, 0}
	upper := []float64{100, 50, 150, math.Inf(1)}

	res, err := CurveFit(Problem{
		Model:   gaussianModel,
		X:       x,
		Y:       y,
		Sigma:   sigma,
		Initial: []float64{45, 5, 100, 10},
		Lower:   lower,
		Upper:   upper,
	}, DefaultSettings())
	if err != nil {
		t.Fatalf("CurveFit: %v", err)
	}
	for i, p := range res.Params {
		if p < lower[i] || p > upper[i] {
			t.Errorf("param %d = %v outside [%v, %v]", i, p, lower[i], upper[i])
		}
	}
	if res.Params[2] != 150 {
		t.Errorf("amplitude = %v, want pinned at 150", res.Params[2])
	}
}

func TestInitialClampedIntoBox(t *testing.T) {
	ts := []float64{1, 3, 6, 10}
	T := kinetics.Heating(ts, 300, 0.1, kinetics.DefaultTg)

	res, err := CurveFit(Problem{
		Model:   heatingModel,
		X:       ts,
		Y:       T,
		Initial: []float64{100, 5},
		Lower:   []float64{250, 0.01},
		Upper:   []float64{350, 1},
	}, DefaultSettings())
	if err != nil {
		t.Fatalf("CurveFit: %v", err)
	}
	if math.Abs(res.Params[0]-300) > 1e-4 || math.Abs(res.Params[1]-0.1) > 1e-7 {
		t.Errorf("params = %v, want [300 0.1]", res.Params)
	}
}

func TestErrors(t *testing.T) {
	ts := []float64{2.1, 5.4, 8.8, 13.0}
	T := kinetics.Heating(ts, 305, 0.11, kinetics.DefaultTg)

	tests := []struct {
		name     string
		problem  Problem
		settings Settings
		want     error
	}{
		{
			name:     "iteration limit",
			problem:  Problem{Model: heatingModel, X: ts, Y: T, Initial: []float64{250, 0.3}},
			settings: Settings{MaxIterations: 1},
			want:     ErrNoConvergence,
		},
		{
			name: "non-finite seed",
			problem: Problem{
				Model:   func(x, p, out []float64) { for i := range out { out[i] = math.NaN() } },
				X:       ts,
				Y:       T,
				Initial: []float64{1},
			},
			want: ErrNonFinite,
		},
		{
			name:    "length mismatch",
			problem: Problem{Model: heatingModel, X: ts, Y: T[:2], Initial: []float64{300, 0.1}},
			want:    ErrBadProblem,
		},
		{
			name: "inverted bounds",
			problem: Problem{
				Model: heatingModel, X: ts, Y: T, Initial: []float64{300, 0.1},
				Lower: []float64{400, 0}, Upper: []float64{300, 1},
			},
			want: ErrBadProblem,
		},
		{
			name: "zero sigma",
			problem: Problem{
				Model: heatingModel, X: ts, Y: T, Initial: []float64{300, 0.1},
				Sigma: []float64{1, 0, 1, 1},
			},
			want: ErrBadProblem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CurveFit(tt.problem, tt.settings)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCovarianceNeedsDegreesOfFreedom(t *testing.T) {
	ts := []float64{2, 9}
	T := kinetics.Heating(ts, 305, 0.11, kinetics.DefaultTg)

	res, err := CurveFit(Problem{Model: heatingModel, X: ts, Y: T, Initial: []float64{300, 0.1}}, DefaultSettings())
	if err != nil {
		t.Fatalf("CurveFit: %v", err)
	}
	if _, err := res.StdDev(); !errors.Is(err, ErrSingularCovariance) {
		t.Errorf("StdDev err = %v, want ErrSingularCovariance", err)
	}
}
