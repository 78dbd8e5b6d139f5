package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// StripArrays returns a copy of rec without array values, leaving the
// scalar summary fields.
func StripArrays(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		switch v.(type) {
		case []float64, []any:
			continue
		}
		out[k] = v
	}
	return out
}

// Columns is the sorted union of the scalar keys of recs.
func Columns(recs []Record) []string {
	seen := make(map[string]bool)
	for _, rec := range recs {
		for k := range StripArrays(rec) {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// WriteCSV writes the scalar fields of recs as a table, one row per record.
// Keys missing from a record produce empty cells.
func WriteCSV(w io.Writer, recs []Record) error {
	cols := Columns(recs)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(cols))
	for i, rec := range recs {
		for j, c := range cols {
			row[j] = formatCell(rec[c])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
