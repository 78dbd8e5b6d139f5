package stats

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestReducedChiSquare(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		yFit  []float64
		sigma []float64
		dof   int
		want  float64
	}{
		{"unit sigma", []float64{1, 2, 3}, []float64{2, 2, 1}, []float64{1, 1, 1}, 1, 5},
		{"scaled", []float64{10, 20}, []float64{12, 20}, []float64{2, 4}, 2, 0.5},
		// sigma 0 falls back to sqrt(yFit) = 2.
		{"zero sigma", []float64{0, 5}, []float64{4, 5}, []float64{0, 1}, 1, 4},
		{"skip empty", []float64{0, 3}, []float64{0, 1}, []float64{0, 1}, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReducedChiSquare(tt.yTrue, tt.yFit, tt.sigma, tt.dof)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ReducedChiSquare([]float64{1}, []float64{1}, []float64{1}, 0); !errors.Is(err, ErrDegreesOfFreedom) {
		t.Errorf("err = %v, want ErrDegreesOfFreedom", err)
	}
}

func TestTimings(t *testing.T) {
	tm := NewTimings()
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tm.Record("gcfit", time.Duration(i)*time.Millisecond)
		}(i)
	}
	wg.Wait()

	if got := tm.Count("gcfit"); got != 100 {
		t.Fatalf("Count = %d, want 100", got)
	}
	if p50 := tm.ValueAtQuantile("gcfit", 0.5); p50 < 49*time.Millisecond || p50 > 51*time.Millisecond {
		t.Errorf("p50 = %v, want ~50ms", p50)
	}
	if mean := tm.Mean("gcfit"); mean < 50*time.Millisecond || mean > 51*time.Millisecond {
		t.Errorf("mean = %v, want ~50.5ms", mean)
	}
	if tm.Count("missing") != 0 || tm.ValueAtQuantile("missing", 0.5) != 0 {
		t.Error("unknown stage should be empty")
	}
}

func TestTimingsMerge(t *testing.T) {
	a, b := NewTimings(), NewTimings()
	a.Record("RoI", time.Millisecond)
	b.Record("RoI", 3*time.Millisecond)
	b.Record("Treco", 10*time.Millisecond)

	a.Merge(b)
	if a.Count("RoI") != 2 || a.Count("Treco") != 1 {
		t.Errorf("counts after merge: RoI=%d Treco=%d", a.Count("RoI"), a.Count("Treco"))
	}
	if b.Count("RoI") != 1 {
		t.Error("merge modified its source")
	}

	s := a.Summaries()
	if len(s) != 2 || s[0].Stage != "RoI" || s[1].Stage != "Treco" {
		t.Errorf("Summaries = %+v", s)
	}
}
