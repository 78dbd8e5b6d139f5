// Package record defines the flat key-value result records produced by the
// analysis stages and the adapter that applies a stage to a record in place.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/runningwild/glowfit/pkg/uncertain"
)

var ErrMissingField = errors.New("record: missing or non-numeric field")

const (
	PerformedSuffix = "_performed"
	ErrorSuffix     = "_error"
	ErrorMsgSuffix  = "_error_msg"
	StdDevSuffix    = "_std_dev"
)

// Record maps keys to float64, []float64, bool or string values.
type Record map[string]any

func New() Record {
	return Record{}
}

// Merge returns a new record holding r overlaid with the given records.
func (r Record) Merge(others ...Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Clone copies r, duplicating float slices.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if s, ok := v.([]float64); ok {
			v = append([]float64(nil), s...)
		}
		out[k] = v
	}
	return out
}

// SetValue stores v under key and its standard deviation under key_std_dev.
// An unknown (NaN) deviation is left out.
func (r Record) SetValue(key string, v uncertain.Value) {
	r[key] = v.V
	if !math.IsNaN(v.Std) {
		r[key+StdDevSuffix] = v.Std
	}
}

func (r Record) Value(key string) (uncertain.Value, bool) {
	v, ok := r.Float(key)
	if !ok {
		return uncertain.Value{}, false
	}
	std, _ := r.Float(key + StdDevSuffix)
	return uncertain.Value{V: v, Std: std}, true
}

// Float reads a scalar, accepting the numeric types JSON decoding produces.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Floats reads an array. Arrays decoded from JSON arrive as []any and are
// converted.
func (r Record) Floats(key string) ([]float64, bool) {
	switch v := r[key].(type) {
	case []float64:
		return v, true
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := Record{"": e}.Float("")
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Performed reports whether stage finished and did not fail.
func (r Record) Performed(stage string) bool {
	return r.Bool(stage+PerformedSuffix) && !r.Bool(stage+ErrorSuffix)
}

func (r Record) Failed(stage string) bool {
	return r.Bool(stage + ErrorSuffix)
}

// Success starts the record of a stage that succeeded.
func Success(stage string) Record {
	return Record{stage + PerformedSuffix: true}
}

// Failure is the whole record of a failed stage: its error flag and message.
func Failure(stage string, err error) Record {
	rec := Record{stage + ErrorSuffix: true}
	if err != nil {
		rec[stage+ErrorMsgSuffix] = err.Error()
	}
	return rec
}

// ClearStage removes every key owned by stage, i.e. prefixed "stage_".
func (r Record) ClearStage(stage string) {
	prefix := stage + "_"
	for k := range r {
		if strings.HasPrefix(k, prefix) {
			delete(r, k)
		}
	}
}

// Func is a pure stage over one curve.
type Func func(x, y []float64) Record

// Stage binds a pure Func to the record fields holding its input curve.
type Stage struct {
	Name string
	X    string
	Y    string
	Fn   Func
}

// Apply reads the stage's input fields from rec, runs the stage and merges
// its output into rec in place, replacing any earlier output of the same
// stage. Missing inputs are recorded as a stage failure.
func (s Stage) Apply(rec Record) {
	rec.ClearStage(s.Name)

	x, okX := rec.Floats(s.X)
	y, okY := rec.Floats(s.Y)
	var out Record
	switch {
	case !okX:
		out = Failure(s.Name, fmt.Errorf("%w: %q", ErrMissingField, s.X))
	case !okY:
		out = Failure(s.Name, fmt.Errorf("%w: %q", ErrMissingField, s.Y))
	default:
		out = s.Fn(x, y)
	}
	for k, v := range out {
		rec[k] = v
	}
}
