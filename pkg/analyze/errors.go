package analyze

import "errors"

var (
	ErrLengthMismatch = errors.New("x and y differ in length")
	ErrShortCurve     = errors.New("curve too short")
	ErrNotMonotonic   = errors.New("x is not strictly increasing")
	ErrNegativeCounts = errors.New("negative or non-finite counts")
	ErrNoSeed         = errors.New("no RoI seed with x > 1")
	ErrNoRoI          = errors.New("curve never rises above its mean")
	ErrDegenerateRoI  = errors.New("RoI touches the curve boundary")
	ErrAutoPeaks      = errors.New("automatic peak detection found no peaks")
	ErrPeakCount      = errors.New("peak count must be 3, 4 or automatic")
	ErrGaussianFit    = errors.New("gaussian peak fit failed")
	ErrHeatingFit     = errors.New("heating model fit failed")
	ErrNoSignal       = errors.New("no signal in the fit window")
	ErrGlowCurveFit   = errors.New("glow curve fit failed")
)

// Stage names, used as record key prefixes.
const (
	StageRoI      = "RoI"
	StageGCParams = "gc"
	StageTreco    = "Treco"
	StageGCFit    = "gcfit"
)
