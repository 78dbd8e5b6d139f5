// Package optimize fits parametric models to data with a bounded
// Levenberg-Marquardt least-squares solver.
package optimize

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrBadProblem         = errors.New("optimize: malformed problem")
	ErrNonFinite          = errors.New("optimize: model is not finite at the initial parameters")
	ErrNoConvergence      = errors.New("optimize: iteration limit reached without convergence")
	ErrSingularCovariance = errors.New("optimize: covariance could not be estimated")
)

// Model evaluates the model at every x for parameters p, writing into out.
// out has the same length as x.
type Model func(x, p, out []float64)

// Problem describes a weighted least-squares fit
// minimising sum(((Y - Model(X, p)) / Sigma)^2) subject to Lower <= p <= Upper.
// Nil Sigma means unit weights; nil bounds mean unbounded. Bounds may be ±Inf.
type Problem struct {
	Model   Model
	X, Y    []float64
	Sigma   []float64
	Initial []float64
	Lower   []float64
	Upper   []float64
}

type Settings struct {
	MaxIterations int
	FTol          float64
	XTol          float64
	InitialLambda float64

	// AbsoluteSigma keeps the covariance in units of Sigma instead of
	// rescaling it by the reduced chi-square.
	AbsoluteSigma bool
}

func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 1000,
		FTol:          1e-10,
		XTol:          1e-10,
		InitialLambda: 1e-3,
	}
}

type Result struct {
	Params     []float64
	Covariance *mat.SymDense
	Cost       float64 // weighted sum of squared residuals
	DOF        int
	Iterations int

	covErr error
}

// StdDev returns the square roots of the covariance diagonal.
func (r *Result) StdDev() ([]float64, error) {
	if r.covErr != nil {
		return nil, r.covErr
	}
	sd := make([]float64, len(r.Params))
	for i := range sd {
		sd[i] = math.Sqrt(math.Max(r.Covariance.At(i, i), 0))
	}
	return sd, nil
}

// CovarianceErr reports why the covariance is unavailable, or nil.
func (r *Result) CovarianceErr() error {
	return r.covErr
}

const (
	minLambda  = 1e-12
	maxLambda  = 1e16
	jacobianEp = 1.5e-8
)

type fitter struct {
	p      Problem
	lower  []float64
	upper  []float64
	weight []float64
	buf    []float64
}

// CurveFit runs the projected Levenberg-Marquardt iteration. Parameters
// pinned at a bound whose gradient points outward are frozen for the step;
// every trial point is clamped back into the box.
func CurveFit(p Problem, s Settings) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	s = s.withDefaults()

	m, n := len(p.X), len(p.Initial)
	f := &fitter{
		p:      p,
		lower:  fill(p.Lower, n, math.Inf(-1)),
		upper:  fill(p.Upper, n, math.Inf(1)),
		weight: make([]float64, m),
		buf:    make([]float64, m),
	}
	for i := range f.weight {
		f.weight[i] = 1
		if p.Sigma != nil {
			f.weight[i] = 1 / p.Sigma[i]
		}
	}

	params := make([]float64, n)
	for j, v := range p.Initial {
		params[j] = clamp(v, f.lower[j], f.upper[j])
	}
	resid := make([]float64, m)
	cost := f.residuals(params, resid)
	if math.IsInf(cost, 0) {
		return nil, ErrNonFinite
	}

	lambda := s.InitialLambda
	trial := make([]float64, n)
	trialResid := make([]float64, m)
	jac := mat.NewDense(m, n, nil)

	converged := false
	iter := 0
	for iter < s.MaxIterations && !converged {
		iter++
		f.jacobian(params, resid, jac)

		grad := make([]float64, n)
		for j := 0; j < n; j++ {
			for i := 0; i < m; i++ {
				grad[j] += jac.At(i, j) * resid[i]
			}
		}
		free := f.freeParams(params, grad)
		if len(free) == 0 {
			converged = true
			break
		}

		a, g := normalEquations(jac, grad, free)
		diag := marquardtScale(a)

		accepted := false
		for lambda <= maxLambda {
			step, ok := solveDamped(a, g, diag, lambda)
			if !ok {
				lambda *= 10
				continue
			}

			copy(trial, params)
			for k, j := range free {
				trial[j] = clamp(params[j]+step[k], f.lower[j], f.upper[j])
			}
			trialCost := f.residuals(trial, trialResid)
			if trialCost < cost {
				maxStep := 0.0
				for j := range trial {
					maxStep = math.Max(maxStep, math.Abs(trial[j]-params[j])/(math.Abs(params[j])+s.XTol))
				}
				reduction := cost - trialCost
				old := cost

				params, trial = trial, params
				resid, trialResid = trialResid, resid
				cost = trialCost
				lambda = math.Max(lambda/10, minLambda)
				accepted = true

				if reduction <= s.FTol*old || maxStep <= s.XTol || cost == 0 {
					converged = true
				}
				break
			}
			lambda *= 10
		}
		if !accepted {
			// No downhill step at any damping: we sit in a minimum of the box.
			converged = true
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d iterations (cost %g)", ErrNoConvergence, iter, cost)
	}

	res := &Result{
		Params:     params,
		Cost:       cost,
		DOF:        m - n,
		Iterations: iter,
	}
	f.jacobian(params, resid, jac)
	res.Covariance, res.covErr = covariance(jac, cost, res.DOF, s.AbsoluteSigma)
	return res, nil
}

func (p Problem) validate() error {
	m, n := len(p.X), len(p.Initial)
	switch {
	case p.Model == nil:
		return fmt.Errorf("%w: nil model", ErrBadProblem)
	case m == 0 || n == 0:
		return fmt.Errorf("%w: empty data or parameters", ErrBadProblem)
	case len(p.Y) != m:
		return fmt.Errorf("%w: len(X)=%d len(Y)=%d", ErrBadProblem, m, len(p.Y))
	case p.Sigma != nil && len(p.Sigma) != m:
		return fmt.Errorf("%w: len(Sigma)=%d, want %d", ErrBadProblem, len(p.Sigma), m)
	case p.Lower != nil && len(p.Lower) != n:
		return fmt.Errorf("%w: len(Lower)=%d, want %d", ErrBadProblem, len(p.Lower), n)
	case p.Upper != nil && len(p.Upper) != n:
		return fmt.Errorf("%w: len(Upper)=%d, want %d", ErrBadProblem, len(p.Upper), n)
	}
	for i, s := range p.Sigma {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: sigma[%d]=%v", ErrBadProblem, i, s)
		}
	}
	for j := 0; j < n; j++ {
		lo, hi := math.Inf(-1), math.Inf(1)
		if p.Lower != nil {
			lo = p.Lower[j]
		}
		if p.Upper != nil {
			hi = p.Upper[j]
		}
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
			return fmt.Errorf("%w: bounds[%d]=[%v, %v]", ErrBadProblem, j, lo, hi)
		}
	}
	return nil
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.FTol <= 0 {
		s.FTol = d.FTol
	}
	if s.XTol <= 0 {
		s.XTol = d.XTol
	}
	if s.InitialLambda <= 0 {
		s.InitialLambda = d.InitialLambda
	}
	return s
}

// residuals writes (Y - model) * weight into r and returns the cost.
// A non-finite cost is reported as +Inf so it is never accepted.
func (f *fitter) residuals(params, r []float64) float64 {
	f.p.Model(f.p.X, params, f.buf)
	cost := 0.0
	for i := range r {
		r[i] = (f.p.Y[i] - f.buf[i]) * f.weight[i]
		cost += r[i] * r[i]
	}
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return math.Inf(1)
	}
	return cost
}

// jacobian fills jac with weighted forward differences of the model.
func (f *fitter) jacobian(params, resid []float64, jac *mat.Dense) {
	m, n := jac.Dims()
	base := make([]float64, m)
	for i := range base {
		base[i] = f.p.Y[i] - resid[i]/f.weight[i]
	}

	shifted := make([]float64, len(params))
	for j := 0; j < n; j++ {
		copy(shifted, params)
		h := jacobianEp * math.Max(math.Abs(params[j]), 1)
		if params[j]+h > f.upper[j] {
			h = -h
		}
		shifted[j] += h
		f.p.Model(f.p.X, shifted, f.buf)
		for i := 0; i < m; i++ {
			d := (f.buf[i] - base[i]) / h * f.weight[i]
			if math.IsNaN(d) || math.IsInf(d, 0) {
				d = 0
			}
			jac.Set(i, j, d)
		}
	}
}

func (f *fitter) freeParams(params, grad []float64) []int {
	var free []int
	for j := range params {
		if params[j] <= f.lower[j] && grad[j] < 0 {
			continue
		}
		if params[j] >= f.upper[j] && grad[j] > 0 {
			continue
		}
		free = append(free, j)
	}
	return free
}

// normalEquations returns J^T J and J^T r restricted to the free columns.
func normalEquations(jac *mat.Dense, grad []float64, free []int) (*mat.SymDense, *mat.VecDense) {
	m, _ := jac.Dims()
	sub := mat.NewDense(m, len(free), nil)
	g := mat.NewVecDense(len(free), nil)
	for k, j := range free {
		for i := 0; i < m; i++ {
			sub.Set(i, k, jac.At(i, j))
		}
		g.SetVec(k, grad[j])
	}
	var a mat.SymDense
	a.SymOuterK(1, sub.T())
	return &a, g
}

func marquardtScale(a *mat.SymDense) []float64 {
	n := a.SymmetricDim()
	maxDiag := 0.0
	for i := 0; i < n; i++ {
		maxDiag = math.Max(maxDiag, a.At(i, i))
	}
	floor := 1e-12
	if maxDiag > 0 {
		floor *= maxDiag
	}
	d := make([]float64, n)
	for i := range d {
		d[i] = math.Max(a.At(i, i), floor)
	}
	return d
}

func solveDamped(a *mat.SymDense, g *mat.VecDense, diag []float64, lambda float64) ([]float64, bool) {
	n := a.SymmetricDim()
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(a)
	for i := 0; i < n; i++ {
		damped.SetSym(i, i, a.At(i, i)+lambda*diag[i])
	}

	var chol mat.Cholesky
	if !chol.Factorize(damped) {
		return nil, false
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, g); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, false
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = step.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, false
		}
	}
	return out, true
}

// covariance is the pseudo-inverse of J^T J from the thin SVD of J,
// dropping singular values below machine precision.
func covariance(jac *mat.Dense, cost float64, dof int, absolute bool) (*mat.SymDense, error) {
	m, n := jac.Dims()
	if dof <= 0 && !absolute {
		return nil, fmt.Errorf("%w: %d degrees of freedom", ErrSingularCovariance, dof)
	}

	var svd mat.SVD
	if !svd.Factorize(jac, mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD failed", ErrSingularCovariance)
	}
	values := svd.Values(nil)
	if len(values) == 0 || !(values[0] > 0) {
		return nil, fmt.Errorf("%w: zero jacobian", ErrSingularCovariance)
	}
	var v mat.Dense
	svd.VTo(&v)

	threshold := 2.220446049250313e-16 * float64(max(m, n)) * values[0]
	scale := 1.0
	if !absolute {
		scale = cost / float64(dof)
	}

	cov := mat.NewSymDense(n, nil)
	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			sum := 0.0
			for k, s := range values {
				if s <= threshold {
					continue
				}
				sum += v.At(a, k) * v.At(b, k) / (s * s)
			}
			cov.SetSym(a, b, sum*scale)
		}
	}
	return cov, nil
}

func fill(v []float64, n int, def float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = def
		if v != nil {
			out[i] = v[i]
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
