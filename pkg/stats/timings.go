package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Tracked range of stage durations in microseconds (1 us to 1 h).
const (
	minTrackedUs = 1
	maxTrackedUs = 3600000000
	sigFigs      = 3
)

// Timings keeps one HDR histogram of wall-clock durations per stage name.
// It is safe for concurrent use.
type Timings struct {
	mu    sync.Mutex
	hists map[string]*hdrhistogram.Histogram
}

func NewTimings() *Timings {
	return &Timings{hists: make(map[string]*hdrhistogram.Histogram)}
}

// Record adds one duration for stage. Durations outside the tracked range
// are clamped to it.
func (t *Timings) Record(stage string, d time.Duration) {
	us := d.Microseconds()
	if us < minTrackedUs {
		us = minTrackedUs
	}
	if us > maxTrackedUs {
		us = maxTrackedUs
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.hist(stage)
	_ = h.RecordValue(us)
}

func (t *Timings) hist(stage string) *hdrhistogram.Histogram {
	h, ok := t.hists[stage]
	if !ok {
		h = hdrhistogram.New(minTrackedUs, maxTrackedUs, sigFigs)
		t.hists[stage] = h
	}
	return h
}

// Merge folds other into t.
func (t *Timings) Merge(other *Timings) {
	if other == nil || other == t {
		return
	}
	other.mu.Lock()
	snap := make(map[string]*hdrhistogram.Histogram, len(other.hists))
	for name, h := range other.hists {
		snap[name] = hdrhistogram.Import(h.Export())
	}
	other.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for name, h := range snap {
		t.hist(name).Merge(h)
	}
}

// Stages lists the recorded stage names in sorted order.
func (t *Timings) Stages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.hists))
	for name := range t.hists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValueAtQuantile returns the duration at quantile q in [0, 1].
func (t *Timings) ValueAtQuantile(stage string, q float64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hists[stage]
	if !ok {
		return 0
	}
	return time.Duration(h.ValueAtQuantile(q*100)) * time.Microsecond
}

func (t *Timings) Mean(stage string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hists[stage]
	if !ok {
		return 0
	}
	return time.Duration(h.Mean() * float64(time.Microsecond))
}

func (t *Timings) Count(stage string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hists[stage]
	if !ok {
		return 0
	}
	return h.TotalCount()
}

// Summary is a printable snapshot of one stage.
type Summary struct {
	Stage string
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

func (t *Timings) Summaries() []Summary {
	var out []Summary
	for _, name := range t.Stages() {
		out = append(out, Summary{
			Stage: name,
			Count: t.Count(name),
			Mean:  t.Mean(name),
			P50:   t.ValueAtQuantile(name, 0.50),
			P95:   t.ValueAtQuantile(name, 0.95),
			P99:   t.ValueAtQuantile(name, 0.99),
		})
	}
	return out
}
