package analyze

import (
	"github.com/runningwild/glowfit/pkg/config"
	"github.com/runningwild/glowfit/pkg/record"
)

// Stages builds the standard pipeline RoI, gc, Treco and gcfit over the
// configured fields. gcfit reads the temperatures written by Treco.
func Stages(cfg *config.Config) []record.Stage {
	a := cfg.Analysis
	fit := cfg.Fit.Settings()

	treco := TrecoOptions{Peaks: a.TrecoPeaks, Tg: a.HeatingTg, Fit: fit}
	gcfit := GCFitOptions{
		BinWidth: a.BinWidth,
		Low:      a.WindowLow,
		High:     a.WindowHigh,
		Tg:       a.HeatingTg,
		Prefit:   fit,
		Fit:      fit,
	}

	t, counts := cfg.Fields.Time, cfg.Fields.Counts
	return []record.Stage{
		{
			Name: StageRoI, X: t, Y: counts,
			Fn: func(x, y []float64) record.Record { return RoIRecord(x, y, a.RoIIterations) },
		},
		{
			Name: StageGCParams, X: t, Y: counts,
			Fn: GCParamsRecord,
		},
		{
			Name: StageTreco, X: t, Y: counts,
			Fn: func(x, y []float64) record.Record { return TrecoRecord(x, y, treco) },
		},
		{
			Name: StageGCFit, X: "Treco_T", Y: counts,
			Fn: func(x, y []float64) record.Record { return GCFitRecord(x, y, gcfit) },
		},
	}
}
