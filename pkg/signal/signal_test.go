package signal

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestSavitzkyGolayPolynomial(t *testing.T) {
	// A quadratic is reproduced exactly by an order >= 2 filter,
	// edges included.
	y := make([]float64, 30)
	dy := make([]float64, 30)
	for i := range y {
		x := float64(i)
		y[i] = 0.5*x*x - 3*x + 2
		dy[i] = x - 3
	}

	tests := []struct {
		name   string
		window int
		order  int
		deriv  int
		want   []float64
	}{
		{"smooth order 2", 7, 2, 0, y},
		{"smooth order 4", 11, 4, 0, y},
		{"first derivative", 7, 2, 1, dy},
		{"first derivative order 3", 9, 3, 1, dy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SavitzkyGolay(y, tt.window, tt.order, tt.deriv)
			if err != nil {
				t.Fatalf("SavitzkyGolay: %v", err)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-8 {
					t.Fatalf("index %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSavitzkyGolaySecondDerivative(t *testing.T) {
	y := make([]float64, 25)
	for i := range y {
		x := float64(i)
		y[i] = x*x*x/6 - x
	}
	got, err := SavitzkyGolay(y, 9, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if math.Abs(v-float64(i)) > 1e-7 {
			t.Fatalf("index %d: got %v, want %v", i, v, float64(i))
		}
	}
}

func TestSavitzkyGolayWindow(t *testing.T) {
	y := make([]float64, 10)
	tests := []struct {
		name   string
		window int
		order  int
	}{
		{"even", 4, 2},
		{"too short for order", 3, 4},
		{"longer than data", 11, 2},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SavitzkyGolay(y, tt.window, tt.order, 0); !errors.Is(err, ErrWindow) {
				t.Errorf("err = %v, want ErrWindow", err)
			}
		})
	}
}

func TestRebin(t *testing.T) {
	// Four samples per kelvin with one count each.
	var x, y []float64
	for v := 340.0; v < 600; v += 0.25 {
		x = append(x, v)
		y = append(y, 1)
	}

	centers, values, err := Rebin(x, y, 350, 580, 2.5)
	if err != nil {
		t.Fatalf("Rebin: %v", err)
	}
	if len(centers) != 92 {
		t.Fatalf("got %d bins, want 92", len(centers))
	}
	if centers[0] != 351.25 || centers[len(centers)-1] != 578.75 {
		t.Errorf("centers span [%v, %v]", centers[0], centers[len(centers)-1])
	}
	for i, v := range values {
		// 10 samples per bin, divided by the width.
		if math.Abs(v-4) > 1e-12 {
			t.Fatalf("bin %d = %v, want 4", i, v)
		}
	}
}

func TestRebinClipsToData(t *testing.T) {
	x := []float64{361, 362, 370, 371.2}
	y := []float64{1, 2, 3, 4}

	centers, values, err := Rebin(x, y, 350, 580, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	// Whole bins inside the data only: [362.5, 370).
	want := []float64{363.75, 366.25, 368.75}
	if !reflect.DeepEqual(centers, want) {
		t.Errorf("centers = %v, want %v", centers, want)
	}
	if Sum(values) != 0 {
		t.Errorf("values = %v, want all zero", values)
	}

	if _, _, err := Rebin([]float64{100, 110}, []float64{1, 1}, 350, 580, 2.5); !errors.Is(err, ErrEmptyRange) {
		t.Errorf("err = %v, want ErrEmptyRange", err)
	}
	if _, _, err := Rebin([]float64{1, 2}, []float64{1}, 0, 10, 1); !errors.Is(err, ErrLength) {
		t.Errorf("err = %v, want ErrLength", err)
	}
}

func TestFindPeaks(t *testing.T) {
	tests := []struct {
		name      string
		y         []float64
		threshold float64
		minDist   int
		want      []int
	}{
		{"two peaks", []float64{0, 1, 5, 1, 0, 2, 8, 2, 0}, 0.1, 1, []int{2, 6}},
		{"below threshold", []float64{0, 1, 5, 1, 0, 2, 8, 2, 0}, 0.7, 1, []int{6}},
		{"too close keeps highest", []float64{0, 5, 1, 8, 0, 0, 0}, 0.1, 3, []int{3}},
		{"plateau", []float64{0, 3, 3, 3, 0}, 0.1, 1, []int{1}},
		{"flat", []float64{2, 2, 2, 2}, 0.1, 1, nil},
		{"monotonic", []float64{1, 2, 3, 4}, 0.1, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindPeaks(tt.y, tt.threshold, tt.minDist)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindPeaks = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	v := []float64{3, 9, 1, 9}
	if ArgMax(v) != 1 || Max(v) != 9 || Min(v) != 1 || Mean(v) != 5.5 {
		t.Errorf("ArgMax=%d Max=%v Min=%v Mean=%v", ArgMax(v), Max(v), Min(v), Mean(v))
	}
	if ArgMax(nil) != -1 {
		t.Error("ArgMax(nil) should be -1")
	}
	if !StrictlyIncreasing([]float64{1, 2, 3}) || StrictlyIncreasing([]float64{1, 1, 2}) {
		t.Error("StrictlyIncreasing misreports")
	}
	if got := MedianStep([]float64{0, 1, 2, 4, 5}); got != 1 {
		t.Errorf("MedianStep = %v, want 1", got)
	}
}
