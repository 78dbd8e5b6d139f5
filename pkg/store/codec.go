package store

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/runningwild/glowfit/pkg/record"
)

// packed is a zstd-compressed float array. Scalar marks a single
// non-finite number, which JSON cannot carry.
type packed struct {
	Count  int    `json:"n"`
	Data   []byte `json:"d"`
	Scalar bool   `json:"s,omitempty"`
}

// stored is the on-disk form of a record.
type stored struct {
	Fields map[string]any    `json:"fields"`
	Arrays map[string]packed `json:"arrays,omitempty"`
}

// Normalize converts numeric []any values, as produced by encoding/json,
// into []float64 so stages can read them without conversion.
func Normalize(rec record.Record) record.Record {
	for k, v := range rec {
		if a, ok := v.([]any); ok {
			if f, ok := rec.Floats(k); ok && len(a) > 0 {
				rec[k] = f
			}
		}
	}
	return rec
}

func (c *Compressor) encodeRecord(rec record.Record) ([]byte, error) {
	s := stored{Fields: make(map[string]any, len(rec)), Arrays: make(map[string]packed)}
	for k, v := range rec {
		switch v := v.(type) {
		case []float64:
			data, err := c.CompressValues(v)
			if err != nil {
				return nil, err
			}
			s.Arrays[k] = packed{Count: len(v), Data: data}
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				data, err := c.CompressValues([]float64{v})
				if err != nil {
					return nil, err
				}
				s.Arrays[k] = packed{Count: 1, Data: data, Scalar: true}
				continue
			}
			s.Fields[k] = v
		default:
			s.Fields[k] = v
		}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

func (c *Compressor) decodeRecord(data []byte) (record.Record, error) {
	var s stored
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	rec := make(record.Record, len(s.Fields)+len(s.Arrays))
	for k, v := range s.Fields {
		rec[k] = v
	}
	for k, p := range s.Arrays {
		values, err := c.DecompressValues(p.Data, p.Count)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		if p.Scalar {
			rec[k] = values[0]
			continue
		}
		rec[k] = values
	}
	return Normalize(rec), nil
}
