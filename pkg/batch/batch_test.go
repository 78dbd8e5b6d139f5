package batch

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/store"
)

func sumStage(x, y []float64) record.Record {
	rec := record.Success("sum")
	total := 0.0
	for _, v := range y {
		total += v
	}
	rec["sum_total"] = total
	return rec
}

func panicStage(x, y []float64) record.Record {
	panic("bad curve")
}

func stages(extra ...record.Stage) []record.Stage {
	return append([]record.Stage{{Name: "sum", X: "x", Y: "y", Fn: sumStage}}, extra...)
}

func curve(n float64) record.Record {
	return record.Record{"x": []float64{0, 1, 2}, "y": []float64{n, n, n}}
}

func TestRunKeepsOrder(t *testing.T) {
	r := New(stages(), 4, 0)
	var last atomic.Int64
	r.Progress = func(done, total int) {
		if total != 50 {
			t.Errorf("total = %d", total)
		}
		last.Store(int64(done))
	}

	recs := make([]record.Record, 50)
	for i := range recs {
		recs[i] = curve(float64(i))
	}
	out := r.Run(context.Background(), recs)

	for i, rec := range out {
		if got, _ := rec.Float("sum_total"); got != float64(3*i) {
			t.Errorf("record %d: sum_total = %v, want %v", i, got, 3*i)
		}
		if _, ok := recs[i]["sum_total"]; ok {
			t.Fatalf("input record %d was modified", i)
		}
	}
	if last.Load() != 50 {
		t.Errorf("progress ended at %d", last.Load())
	}
	if n := r.Timings().Count("sum"); n != 50 {
		t.Errorf("timed %d sum stages, want 50", n)
	}
}

func TestStageFailuresStayLocal(t *testing.T) {
	slow := func(x, y []float64) record.Record {
		time.Sleep(500 * time.Millisecond)
		return record.Success("slow")
	}

	tests := []struct {
		name    string
		stage   record.Stage
		timeout time.Duration
		msg     string
	}{
		{"panic", record.Stage{Name: "boom", X: "x", Y: "y", Fn: panicStage}, 0, "bad curve"},
		{"timeout", record.Stage{Name: "slow", X: "x", Y: "y", Fn: slow}, 20 * time.Millisecond, ErrTimeout.Error()},
		{"missing field", record.Stage{Name: "temp", X: "T", Y: "y", Fn: sumStage}, 0, `"T"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(stages(tt.stage), 2, tt.timeout)
			out := r.Run(context.Background(), []record.Record{curve(1), curve(2)})
			for i, rec := range out {
				if !rec.Performed("sum") {
					t.Errorf("record %d: sum not performed", i)
				}
				if !rec.Failed(tt.stage.Name) {
					t.Errorf("record %d: %s did not fail: %v", i, tt.stage.Name, rec)
				}
				if msg := rec.String(tt.stage.Name + record.ErrorMsgSuffix); !strings.Contains(msg, tt.msg) {
					t.Errorf("record %d: message %q lacks %q", i, msg, tt.msg)
				}
				if timedOut := rec.Bool(tt.stage.Name + TimeoutSuffix); timedOut != (tt.timeout > 0) {
					t.Errorf("record %d: timeout flag = %v", i, timedOut)
				}
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(stages(), 2, 0)
	out := r.Run(ctx, []record.Record{curve(1), curve(2), curve(3)})
	if len(out) != 3 {
		t.Fatalf("got %d records", len(out))
	}
	for i, rec := range out {
		if rec.Performed("sum") {
			t.Errorf("record %d analyzed after cancellation", i)
		}
		if _, ok := rec["y"]; !ok {
			t.Errorf("record %d lost its input", i)
		}
	}
}

func TestRunStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewStorage(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ids := make([]string, 5)
	for i := range ids {
		if ids[i], err = s.Insert(ctx, curve(float64(i))); err != nil {
			t.Fatal(err)
		}
	}

	r := New(stages(record.Stage{Name: "boom", X: "x", Y: "y", Fn: panicStage}), 3, 0)
	n, err := r.RunStore(ctx, s)
	if err != nil || n != 5 {
		t.Fatalf("RunStore = %d, %v", n, err)
	}
	for i, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := rec.Float("sum_total"); got != float64(3*i) {
			t.Errorf("stored sum_total = %v, want %v", got, 3*i)
		}
		if !rec.Failed("boom") {
			t.Errorf("record %s: boom failure not stored", id)
		}
	}
}
