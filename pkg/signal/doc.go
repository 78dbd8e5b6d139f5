// Package signal provides the sampled-curve helpers shared by the glow-curve
// stages: Savitzky-Golay smoothing and differentiation, uniform rebinning and
// local-maximum detection.
//
// All functions operate on plain []float64 slices and never modify their
// inputs.
package signal
