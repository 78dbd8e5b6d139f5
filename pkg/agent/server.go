package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/runningwild/glowfit/pkg/batch"
	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/store"
)

// Server runs the analysis pipeline on records posted to it.
type Server struct {
	runner *batch.Runner
}

func NewServer(runner *batch.Runner) *Server {
	return &Server{runner: runner}
}

// Handler routes POST /analyze and GET /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	slog.Info("glowfit agent listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec := record.New()
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, fmt.Sprintf("Invalid body: %v", err), http.StatusBadRequest)
		return
	}

	out := Finite(s.runner.Analyze(r.Context(), store.Normalize(rec)))
	data, err := json.Marshal(out)
	if err != nil {
		http.Error(w, fmt.Sprintf("Encoding result failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

// Finite drops non-finite scalars and replaces non-finite array elements
// with zero, since JSON has no encoding for them.
func Finite(rec record.Record) record.Record {
	for k, v := range rec {
		switch v := v.(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				delete(rec, k)
			}
		case []float64:
			for i, e := range v {
				if math.IsNaN(e) || math.IsInf(e, 0) {
					v[i] = 0
				}
			}
		}
	}
	return rec
}
