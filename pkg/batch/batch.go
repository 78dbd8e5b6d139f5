// Package batch runs analysis pipelines over many records in parallel.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/stats"
	"github.com/runningwild/glowfit/pkg/store"
)

// TimeoutSuffix marks a stage abandoned after the stage timeout.
const TimeoutSuffix = "_timeout"

var (
	ErrTimeout = errors.New("stage timed out")
	ErrPanic   = errors.New("stage panicked")
)

// Runner applies a fixed list of stages to records using a pool of
// workers. A failing, panicking or slow stage only marks its own record.
type Runner struct {
	stages  []record.Stage
	workers int
	timeout time.Duration
	timings *stats.Timings

	// Progress, if set, is called after each finished record.
	Progress func(done, total int)
}

// New creates a runner. workers <= 0 uses one worker per CPU and a zero
// timeout lets stages run to completion.
func New(stages []record.Stage, workers int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		stages:  stages,
		workers: workers,
		timeout: timeout,
		timings: stats.NewTimings(),
	}
}

// Timings returns the durations of every stage run so far.
func (r *Runner) Timings() *stats.Timings {
	return r.timings
}

// Analyze returns a copy of rec with every stage applied in order.
func (r *Runner) Analyze(ctx context.Context, rec record.Record) record.Record {
	out := rec.Clone()
	for _, s := range r.stages {
		if ctx.Err() != nil {
			break
		}
		guarded := s
		guarded.Fn = r.guard(ctx, s.Name, s.Fn)
		guarded.Apply(out)
	}
	return out
}

// guard runs fn on its own goroutine so that a timeout or cancellation
// can abandon it, and converts a panic into a stage failure.
func (r *Runner) guard(ctx context.Context, name string, fn record.Func) record.Func {
	return func(x, y []float64) record.Record {
		start := time.Now()
		defer func() { r.timings.Record(name, time.Since(start)) }()

		done := make(chan record.Record, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					done <- record.Failure(name, fmt.Errorf("%w: %v", ErrPanic, p))
				}
			}()
			done <- fn(x, y)
		}()

		var timeout <-chan time.Time
		if r.timeout > 0 {
			timer := time.NewTimer(r.timeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case out := <-done:
			return out
		case <-timeout:
			rec := record.Failure(name, fmt.Errorf("%w after %v", ErrTimeout, r.timeout))
			rec[name+TimeoutSuffix] = true
			return rec
		case <-ctx.Done():
			return record.Failure(name, ctx.Err())
		}
	}
}

// Run analyzes recs in parallel. Results keep the order of recs.
func (r *Runner) Run(ctx context.Context, recs []record.Record) []record.Record {
	results := make([]record.Record, len(recs))
	jobs := make(chan int)

	var mu sync.Mutex
	finished := 0

	var wg sync.WaitGroup
	for w := 0; w < min(r.workers, len(recs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.Analyze(ctx, recs[i])
				if r.Progress != nil {
					mu.Lock()
					finished++
					r.Progress(finished, len(recs))
					mu.Unlock()
				}
			}
		}()
	}

	for i := range recs {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	for i, rec := range results {
		if rec == nil {
			results[i] = recs[i].Clone()
		}
	}
	return results
}

// RunStore analyzes every record of s and writes the results back. It
// returns the number of records analyzed.
func (r *Runner) RunStore(ctx context.Context, s store.Storage) (int, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	recs := make([]record.Record, len(entries))
	for i, e := range entries {
		recs[i] = e.Record
	}

	results := r.Run(ctx, recs)
	for i, e := range entries {
		r.logFailures(e.ID, results[i])
		if err := s.Put(ctx, e.ID, results[i]); err != nil {
			return i, fmt.Errorf("storing %s: %w", e.ID, err)
		}
	}
	return len(entries), ctx.Err()
}

func (r *Runner) logFailures(id string, rec record.Record) {
	for _, s := range r.stages {
		if rec.Failed(s.Name) {
			slog.Warn("stage failed", "id", id, "stage", s.Name,
				"err", rec.String(s.Name+record.ErrorMsgSuffix))
		}
	}
}
