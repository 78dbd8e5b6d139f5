package analyze

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/runningwild/glowfit/pkg/kinetics"
	"github.com/runningwild/glowfit/pkg/optimize"
	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/signal"
	"github.com/runningwild/glowfit/pkg/stats"
	"github.com/runningwild/glowfit/pkg/uncertain"
)

// AutoPeaks selects the peak count from the curvature of the curve.
const AutoPeaks = 0

// Savitzky-Golay window for automatic peak detection.
const autoPeakWindow = 81

type TrecoOptions struct {
	Peaks int // 3, 4 or AutoPeaks
	Tg    float64
	Fit   optimize.Settings
}

func DefaultTrecoOptions() TrecoOptions {
	return TrecoOptions{
		Peaks: 3,
		Tg:    kinetics.DefaultTg,
		Fit:   optimize.DefaultSettings(),
	}
}

// GaussianPeak is one decoded peak of the Gaussian pre-fit.
type GaussianPeak struct {
	Number int // glow peak number, 2 to 5
	Time   uncertain.Value
	Sigma  uncertain.Value
	Height uncertain.Value
}

type TrecoResult struct {
	RoI      RoI
	RoILow   float64 // time at RoI.Low
	RoIHigh  float64 // time used as upper RoI edge
	RedChi2  float64
	Peaks    []GaussianPeak
	Bg       uncertain.Value
	T0       uncertain.Value
	Alpha    uncertain.Value
	T        []float64
	Counts   []float64
	CovError error
}

// ReconstructTemperature derives the time to temperature mapping of a glow
// curve measured against time.
//
// A 3 or 4 peak Gaussian model is fitted to the whole curve, starting from
// the coarse RoI. The fitted peak times are paired with the literature
// temperatures of glow peaks 3 to 5 (or 2 to 5) and the exponential heating
// model is fitted to those pairs.
func ReconstructTemperature(t, counts []float64, opts TrecoOptions) (*TrecoResult, error) {
	if opts.Tg == 0 {
		opts.Tg = kinetics.DefaultTg
	}
	n := len(t)

	roi, err := DetectRoI(t, counts, 0)
	if err != nil {
		return nil, fmt.Errorf("coarse RoI: %w", err)
	}
	if roi.Spans(n) {
		return nil, fmt.Errorf("%w: [%d, %d] of %d", ErrDegenerateRoI, roi.Low, roi.High, n)
	}
	lo := t[roi.Low]
	hi := t[roi.High]
	if roi.High >= n-1 {
		hi = t[n-2]
	}

	peaks := opts.Peaks
	switch peaks {
	case 3, 4:
	case AutoPeaks:
		if peaks, err = detectPeakCount(t, counts, lo, hi); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrPeakCount, opts.Peaks)
	}

	problem := gaussianProblem(t, counts, lo, hi, peaks)
	fit, err := optimize.CurveFit(problem, opts.Fit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGaussianFit, err)
	}

	res := &TrecoResult{
		RoI:     roi,
		RoILow:  lo,
		RoIHigh: hi,
		Counts:  clone(counts),
	}

	model := make([]float64, n)
	problem.Model(t, fit.Params, model)
	sigma := make([]float64, n)
	for i, c := range counts {
		sigma[i] = math.Sqrt(c)
	}
	if res.RedChi2, err = stats.ReducedChiSquare(counts, model, sigma, fit.DOF); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGaussianFit, err)
	}

	res.CovError = fit.CovarianceErr()
	res.Peaks, res.Bg = decodeGaussianPeaks(fit, peaks)

	times := make([]float64, peaks)
	for i, p := range res.Peaks {
		times[i] = p.Time.V
	}
	temps := kinetics.PeakTemperatures[4-peaks:]
	if err := res.fitHeating(times, temps, opts); err != nil {
		return nil, err
	}
	res.T = kinetics.Heating(t, res.T0.V, res.Alpha.V, opts.Tg)
	return res, nil
}

// gaussianProblem builds the seed and box of the relative multi-Gaussian
// fit. Offsets keep the peaks ordered; widths may only grow with time.
func gaussianProblem(t, counts []float64, lo, hi float64, peaks int) optimize.Problem {
	L := hi - lo
	mx := signal.Max(counts)
	inf := math.Inf(1)

	var after []float64
	for i, ti := range t {
		if ti > hi {
			after = append(after, counts[i])
		}
	}
	c0 := signal.Min(counts)
	if len(after) > 0 {
		c0 = signal.Mean(after)
	}

	p := optimize.Problem{X: t, Y: counts}
	if peaks == 3 {
		p.Model = kinetics.MultiGaussian3
		p.Initial = []float64{L / 3, L / 3, hi, L / 6, 0, 0, mx, mx, mx, c0}
		p.Lower = []float64{L / 8, L / 8, hi - L/3, 0.1, 0, 0, mx / 3, mx / 2, mx / 3, 0}
		p.Upper = []float64{L / 2, L / 3, hi, L / 4, 0.2, 0.2, inf, inf, inf, inf}
		return p
	}
	p.Model = kinetics.MultiGaussian4
	p.Initial = []float64{L / 3, L / 4, L / 4, hi, L / 8, 0, 0, 0, 0, mx, mx, mx, c0}
	p.Lower = []float64{L / 8, L / 8, L / 8, hi - L/4, 0.1, 0, 0, 0, 0, mx / 4, mx / 3, mx / 3, 0}
	p.Upper = []float64{L / 3, L / 3, L / 3, hi, L / 6, 0.2, 0.2, 0.2, inf, inf, inf, inf, inf}
	return p
}

// decodeGaussianPeaks turns the relative parameters into absolute peak
// quantities. With k peaks the layout is k-1 time offsets and the last
// time, k width increments, k heights and the background.
func decodeGaussianPeaks(fit *optimize.Result, k int) ([]GaussianPeak, uncertain.Value) {
	p := fit.Params
	np := len(p)

	value := func(grad []float64) uncertain.Value {
		v := 0.0
		for i, g := range grad {
			v += g * p[i]
		}
		std := math.NaN()
		if fit.Covariance != nil {
			std = uncertain.Linear(grad, fit.Covariance)
		}
		return uncertain.Value{V: v, Std: std}
	}

	peaks := make([]GaussianPeak, k)
	for j := 0; j < k; j++ {
		tg := make([]float64, np)
		tg[k-1] = 1
		for i := j; i <= k-2; i++ {
			tg[i] = -1
		}

		sg := make([]float64, np)
		for i := k; i <= k+j; i++ {
			sg[i] = 1
		}

		hg := make([]float64, np)
		hg[2*k+j] = 1

		peaks[j] = GaussianPeak{
			Number: j + 6 - k,
			Time:   value(tg),
			Sigma:  value(sg),
			Height: value(hg),
		}
	}

	bg := make([]float64, np)
	bg[3*k] = 1
	return peaks, value(bg)
}

func (r *TrecoResult) fitHeating(times, temps []float64, opts TrecoOptions) error {
	T0, alpha, ok := kinetics.HeatingSeed(times, temps, opts.Tg)
	if !ok || !(alpha > 0) || !(T0 < opts.Tg) {
		T0, alpha = 300, 0.1
	}

	tg := opts.Tg
	fit, err := optimize.CurveFit(optimize.Problem{
		Model: func(x, p, out []float64) {
			for i, ti := range x {
				out[i] = kinetics.HeatingAt(ti, p[0], p[1], tg)
			}
		},
		X:       times,
		Y:       temps,
		Initial: []float64{T0, alpha},
		Lower:   []float64{0, 0},
		Upper:   []float64{tg, math.Inf(1)},
	}, opts.Fit)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHeatingFit, err)
	}
	if !(fit.Params[1] > 0) || !(fit.Params[0] < tg) {
		return fmt.Errorf("%w: T0=%v alpha=%v", ErrHeatingFit, fit.Params[0], fit.Params[1])
	}

	r.T0 = uncertain.Value{V: fit.Params[0], Std: math.NaN()}
	r.Alpha = uncertain.Value{V: fit.Params[1], Std: math.NaN()}
	if sd, err := fit.StdDev(); err == nil {
		r.T0.Std, r.Alpha.Std = sd[0], sd[1]
	}
	return nil
}

// detectPeakCount looks for peaks of the negative curvature of the doubly
// smoothed curve inside the RoI. More than three peaks select the 4 peak
// model.
func detectPeakCount(t, counts []float64, lo, hi float64) (int, error) {
	window := min(autoPeakWindow, len(counts))
	if window%2 == 0 {
		window--
	}
	sm, err := signal.SavitzkyGolay(counts, window, 2, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAutoPeaks, err)
	}
	curv, err := signal.SavitzkyGolay(sm, window, 2, 2)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAutoPeaks, err)
	}
	for i, v := range curv {
		curv[i] = math.Max(-v, 0)
	}

	minDist := 1
	if step := signal.MedianStep(t); step > 0 {
		minDist = max(1, int((hi-lo)/(8*step)))
	}

	found := 0
	for _, i := range signal.FindPeaks(curv, 0.05, minDist) {
		if t[i] >= lo && t[i] <= hi {
			found++
		}
	}
	if found == 0 {
		return 0, ErrAutoPeaks
	}
	if found > 3 {
		return 4, nil
	}
	return 3, nil
}

// Record flattens the result into Treco_* keys.
func (r *TrecoResult) Record() record.Record {
	rec := record.Success(StageTreco)
	rec["Treco_param_RoI_low"] = r.RoILow
	rec["Treco_param_RoI_high"] = r.RoIHigh
	rec["Treco_RoI_degenerate"] = r.RoI.Degenerate(len(r.T))
	rec["Treco_param_redChi2"] = r.RedChi2
	rec["Treco_npeaks"] = float64(len(r.Peaks))
	for _, p := range r.Peaks {
		rec.SetValue(fmt.Sprintf("Treco_param_t%d", p.Number), p.Time)
		rec.SetValue(fmt.Sprintf("Treco_param_sigma%d", p.Number), p.Sigma)
		rec.SetValue(fmt.Sprintf("Treco_param_I%d", p.Number), p.Height)
	}
	rec.SetValue("Treco_param_bg", r.Bg)
	rec.SetValue("Treco_param_T0", r.T0)
	rec.SetValue("Treco_param_alpha", r.Alpha)
	if r.CovError != nil {
		rec["Treco_cov_error"] = true
	}
	rec["Treco_T"] = r.T
	rec["Treco_PhCount"] = r.Counts
	return rec
}

// TrecoRecord runs ReconstructTemperature and reports the result as a
// record. On failure only the error flag is written.
func TrecoRecord(t, counts []float64, opts TrecoOptions) record.Record {
	res, err := ReconstructTemperature(t, counts, opts)
	if err != nil {
		slog.Warn("temperature reconstruction failed", "err", err)
		return record.Failure(StageTreco, err)
	}
	if res.RoI.Degenerate(len(t)) {
		slog.Warn("coarse RoI touches the curve boundary",
			"low", res.RoI.Low, "high", res.RoI.High, "n", len(t))
	}
	return res.Record()
}
