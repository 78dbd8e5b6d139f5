package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/runningwild/glowfit/pkg/uncertain"
)

func TestMergeDoesNotMutate(t *testing.T) {
	a := Record{"x": 1.0, "y": 2.0}
	b := Record{"y": 3.0}

	m := a.Merge(b)
	if m["y"] != 3.0 || m["x"] != 1.0 {
		t.Errorf("merged = %v", m)
	}
	if a["y"] != 2.0 {
		t.Error("Merge modified its receiver")
	}
}

func TestFloatsFromJSON(t *testing.T) {
	var rec Record
	if err := json.Unmarshal([]byte(`{"time":[0,0.5,1],"n":3,"name":"a"}`), &rec); err != nil {
		t.Fatal(err)
	}
	x, ok := rec.Floats("time")
	if !ok || len(x) != 3 || x[1] != 0.5 {
		t.Errorf("Floats = %v, %v", x, ok)
	}
	if n, ok := rec.Float("n"); !ok || n != 3 {
		t.Errorf("Float = %v, %v", n, ok)
	}
	if _, ok := rec.Floats("name"); ok {
		t.Error("string field read as array")
	}
}

func TestValueRoundTrip(t *testing.T) {
	rec := New()
	rec.SetValue("gcfit_Ntot", uncertain.Value{V: 100, Std: 10})
	if rec["gcfit_Ntot_std_dev"] != 10.0 {
		t.Errorf("std dev key = %v", rec["gcfit_Ntot_std_dev"])
	}
	v, ok := rec.Value("gcfit_Ntot")
	if !ok || v.V != 100 || v.Std != 10 {
		t.Errorf("Value = %v, %v", v, ok)
	}
}

func TestStageApply(t *testing.T) {
	calls := 0
	stage := Stage{
		Name: "RoI",
		X:    "time",
		Y:    "counts",
		Fn: func(x, y []float64) Record {
			calls++
			out := Success("RoI")
			out["RoI_low"] = x[0]
			return out
		},
	}

	rec := Record{"time": []float64{4, 5}, "counts": []float64{1, 1}, "RoI_stale": 1.0}
	stage.Apply(rec)
	if calls != 1 || !rec.Performed("RoI") || rec["RoI_low"] != 4.0 {
		t.Errorf("after Apply: %v", rec)
	}
	if _, ok := rec["RoI_stale"]; ok {
		t.Error("earlier stage output was not cleared")
	}

	// A second application replaces the first one.
	stage.Apply(rec)
	if calls != 2 || rec["RoI_low"] != 4.0 {
		t.Errorf("after second Apply: %v", rec)
	}

	missing := Record{"time": []float64{1}}
	stage.Apply(missing)
	if !missing.Failed("RoI") || missing.Performed("RoI") {
		t.Errorf("missing field not flagged: %v", missing)
	}
	if !strings.Contains(missing.String("RoI_error_msg"), "counts") {
		t.Errorf("error message = %q", missing.String("RoI_error_msg"))
	}
	if calls != 2 {
		t.Error("stage ran without its input")
	}
}

func TestFailureOnlyFlags(t *testing.T) {
	rec := Failure("Treco", errors.New("boom"))
	if len(rec) != 2 || !rec.Failed("Treco") || rec.String("Treco_error_msg") != "boom" {
		t.Errorf("Failure = %v", rec)
	}
}

func TestWriteCSV(t *testing.T) {
	recs := []Record{
		{"id": "a", "gc_Ntot": 12.5, "gc_performed": true, "Treco_T": []float64{1, 2}},
		{"id": "b", "Treco_error": true},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, recs); err != nil {
		t.Fatal(err)
	}
	want := "Treco_error,gc_Ntot,gc_performed,id\n" +
		",12.5,true,a\n" +
		"true,,,b\n"
	if buf.String() != want {
		t.Errorf("WriteCSV =\n%s\nwant\n%s", buf.String(), want)
	}

	if _, ok := StripArrays(recs[0])["Treco_T"]; ok {
		t.Error("StripArrays kept an array")
	}
}

func TestSetValueUnknownDeviation(t *testing.T) {
	rec := New()
	rec.SetValue("Treco_param_t5", uncertain.Value{V: 12, Std: math.NaN()})
	if _, ok := rec["Treco_param_t5_std_dev"]; ok {
		t.Error("NaN deviation was stored")
	}
}
