package analyze

import (
	"fmt"
	"log/slog"

	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/uncertain"
)

// GCSummary holds model-free quantities of a time-domain glow curve.
type GCSummary struct {
	RoI     RoI
	TimeLow float64
	TimeHi  float64

	NTot uncertain.Value // all photons of the curve
	NBg  uncertain.Value // background level times curve length
	NSig uncertain.Value

	// Times at which the background-subtracted photon sum inside the RoI
	// reaches a quarter, half and three quarters of its final value.
	TFirstQuarter float64
	THalf         float64
	TThirdQuarter float64
}

// GCParams measures a glow curve without a model. The background level is
// the mean of the samples outside the RoI found with the default number of
// refinement rounds.
func GCParams(t, counts []float64) (*GCSummary, error) {
	roi, err := DetectRoI(t, counts, DefaultRoIIterations)
	if err != nil {
		return nil, err
	}
	n := len(t)
	if roi.Degenerate(n) {
		return nil, fmt.Errorf("%w: [%d, %d] of %d", ErrDegenerateRoI, roi.Low, roi.High, n)
	}

	var total, outside float64
	nOutside := 0
	for i, c := range counts {
		total += c
		if i < roi.Low || i > roi.High {
			outside += c
			nOutside++
		}
	}
	level := outside / float64(nOutside)

	// Scaling the Poisson error of the outside sum to the whole curve.
	scale := float64(n) / float64(nOutside)
	s := &GCSummary{
		RoI:     roi,
		TimeLow: t[roi.Low],
		TimeHi:  t[roi.High],
		NTot:    uncertain.Poisson(total),
		NBg:     uncertain.Poisson(outside).Scale(scale),
	}
	s.NSig = s.NTot.Sub(s.NBg)

	cum := make([]float64, 0, roi.High-roi.Low+1)
	sum := 0.0
	for i := roi.Low; i <= roi.High; i++ {
		sum += counts[i] - level
		cum = append(cum, sum)
	}
	if !(sum > 0) {
		return nil, fmt.Errorf("%w: no photons above background in the RoI", ErrNoSignal)
	}
	crossing := func(frac float64) float64 {
		target := frac * sum
		for j, v := range cum {
			if v >= target {
				return t[roi.Low+j]
			}
		}
		return t[roi.High]
	}
	s.TFirstQuarter = crossing(0.25)
	s.THalf = crossing(0.5)
	s.TThirdQuarter = crossing(0.75)
	return s, nil
}

func (s *GCSummary) Record() record.Record {
	rec := record.Success(StageGCParams)
	rec.SetValue("gc_Ntot", s.NTot)
	rec.SetValue("gc_Nbg", s.NBg)
	rec.SetValue("gc_Nsig", s.NSig)
	rec["gc_timeRoI_low"] = s.TimeLow
	rec["gc_timeRoI_high"] = s.TimeHi
	rec["gc_t_nphotonFirstQuarter"] = s.TFirstQuarter
	rec["gc_t_nphotonHalf"] = s.THalf
	rec["gc_t_nphotonThirdQuarter"] = s.TThirdQuarter
	return rec
}

// GCParamsRecord runs GCParams and reports the result as a record.
func GCParamsRecord(t, counts []float64) record.Record {
	s, err := GCParams(t, counts)
	if err != nil {
		slog.Warn("glow curve parameters failed", "err", err)
		return record.Failure(StageGCParams, err)
	}
	return s.Record()
}
