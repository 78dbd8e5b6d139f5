package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glowfit.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeFile(t, `
analysis:
  treco_peaks: 4
  roi_iterations: 0
batch:
  stage_timeout: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Analysis.TrecoPeaks != 4 {
		t.Errorf("TrecoPeaks = %d, want 4", cfg.Analysis.TrecoPeaks)
	}
	if cfg.Analysis.RoIIterations != 0 {
		t.Errorf("RoIIterations = %d, want explicit 0", cfg.Analysis.RoIIterations)
	}
	if cfg.Batch.StageTimeout != 30*time.Second {
		t.Errorf("StageTimeout = %v", cfg.Batch.StageTimeout)
	}
	if cfg.Analysis.BinWidth != 2.5 || cfg.Fields.Counts != "PhCount" {
		t.Errorf("defaults lost: %+v %+v", cfg.Analysis, cfg.Fields)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GLOWFIT_STORE_PATH", "/tmp/glow")
	t.Setenv("GLOWFIT_WORKERS", "3")
	t.Setenv("GLOWFIT_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Path != "/tmp/glow" || cfg.Batch.Workers != 3 || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v %+v %+v", cfg.Store, cfg.Batch, cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"peaks", func(c *Config) { c.Analysis.TrecoPeaks = 5 }, "treco_peaks"},
		{"window", func(c *Config) { c.Analysis.WindowLow = 600 }, "window_low"},
		{"workers", func(c *Config) { c.Batch.Workers = 0 }, "workers"},
		{"mode", func(c *Config) { c.Store.Mode = "replace" }, "mode"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"fields", func(c *Config) { c.Fields.Time = "" }, "field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Agent.Nodes = []string{"10.0.0.1:8080", "10.0.0.2:8080"}
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.Write(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Agent.Nodes) != 2 || got.Fit.MaxIterations != 1000 {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestFitSettings(t *testing.T) {
	s := Fit{MaxIterations: 50, FTol: 1e-6, XTol: 1e-7}.Settings()
	if s.MaxIterations != 50 || s.FTol != 1e-6 || s.XTol != 1e-7 || s.InitialLambda == 0 {
		t.Errorf("Settings() = %+v", s)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, Log{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "record", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "shown" || entry["record"] != "abc" {
		t.Errorf("entry = %v", entry)
	}
}
