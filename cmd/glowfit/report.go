package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/runningwild/glowfit/pkg/batch"
	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/store"
)

func printTimings(r *batch.Runner) {
	fmt.Printf("%-8s %8s %12s %12s %12s\n", "stage", "count", "mean", "p95", "p99")
	for _, s := range r.Timings().Summaries() {
		fmt.Printf("%-8s %8d %12v %12v %12v\n", s.Stage, s.Count, s.Mean, s.P95, s.P99)
	}
}

// writeCSV writes one row per entry with the store id as first column.
func writeCSV(w io.Writer, entries []store.Entry) error {
	recs := make([]record.Record, len(entries))
	for i, e := range entries {
		rec := record.StripArrays(e.Record)
		rec["id"] = e.ID
		recs[i] = rec
	}
	return record.WriteCSV(w, recs)
}

func writeReport(ctx context.Context, path string, s store.Storage) {
	entries, err := s.All(ctx)
	if err != nil {
		fmt.Printf("Failed to read records: %v\n", err)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Printf("Failed to write report: %v\n", err)
		return
	}
	defer f.Close()
	if err := writeCSV(f, entries); err != nil {
		fmt.Printf("Failed to write report: %v\n", err)
		return
	}
	fmt.Printf("Report written to %s\n", path)
}
