package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/runningwild/glowfit/pkg/optimize"
	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration of an analysis run.
type Config struct {
	Fields   Fields   `yaml:"fields"`
	Analysis Analysis `yaml:"analysis"`
	Fit      Fit      `yaml:"fit"`
	Batch    Batch    `yaml:"batch"`
	Store    Store    `yaml:"store"`
	Log      Log      `yaml:"log"`
	Agent    Agent    `yaml:"agent"`
}

// Fields names the record fields holding the measured curve.
type Fields struct {
	Time   string `yaml:"time"`
	Counts string `yaml:"counts"`
}

type Analysis struct {
	RoIIterations int     `yaml:"roi_iterations"`
	TrecoPeaks    int     `yaml:"treco_peaks"` // 3, 4 or 0 for automatic detection
	BinWidth      float64 `yaml:"bin_width"`   // K
	WindowLow     float64 `yaml:"window_low"`  // K
	WindowHigh    float64 `yaml:"window_high"` // K
	HeatingTg     float64 `yaml:"heating_tg"`  // asymptotic planchet temperature, K
}

type Fit struct {
	MaxIterations int     `yaml:"max_iterations"`
	FTol          float64 `yaml:"ftol"`
	XTol          float64 `yaml:"xtol"`
}

type Batch struct {
	Workers      int           `yaml:"workers"`
	StageTimeout time.Duration `yaml:"stage_timeout"` // 0 disables the timeout
}

type Store struct {
	Path             string `yaml:"path"`
	InMemory         bool   `yaml:"in_memory"`
	Mode             string `yaml:"mode"` // "append" or "overwrite"
	CompressionLevel int    `yaml:"compression_level"`
}

type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type Agent struct {
	Listen string   `yaml:"listen"`
	Nodes  []string `yaml:"nodes"` // agent addresses used by remote runs
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Fields: Fields{
			Time:   "time_sec",
			Counts: "PhCount",
		},
		Analysis: Analysis{
			RoIIterations: 2,
			TrecoPeaks:    3,
			BinWidth:      2.5,
			WindowLow:     350,
			WindowHigh:    580,
			HeatingTg:     573.15,
		},
		Fit: Fit{
			MaxIterations: 1000,
			FTol:          1e-10,
			XTol:          1e-10,
		},
		Batch: Batch{
			Workers: runtime.NumCPU(),
		},
		Store: Store{
			Mode:             "append",
			CompressionLevel: 3,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Agent: Agent{
			Listen: ":8080",
		},
	}
}

// Load reads a YAML file on top of the defaults and applies environment
// overrides. An empty path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write stores cfg as YAML.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() {
	c.Store.Path = getEnv("GLOWFIT_STORE_PATH", c.Store.Path)
	c.Batch.Workers = getEnvInt("GLOWFIT_WORKERS", c.Batch.Workers)
	c.Log.Level = getEnv("GLOWFIT_LOG_LEVEL", c.Log.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Fields.Time == "" || c.Fields.Counts == "" {
		return fmt.Errorf("time and counts field names are required")
	}
	if c.Analysis.RoIIterations < 0 {
		return fmt.Errorf("roi_iterations must not be negative")
	}
	switch c.Analysis.TrecoPeaks {
	case 0, 3, 4:
	default:
		return fmt.Errorf("treco_peaks must be 0, 3 or 4, got %d", c.Analysis.TrecoPeaks)
	}
	if c.Analysis.BinWidth <= 0 {
		return fmt.Errorf("bin_width must be positive")
	}
	if c.Analysis.WindowLow >= c.Analysis.WindowHigh {
		return fmt.Errorf("window_low must be below window_high")
	}
	if c.Analysis.HeatingTg <= 0 {
		return fmt.Errorf("heating_tg must be positive")
	}
	if c.Fit.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Batch.StageTimeout < 0 {
		return fmt.Errorf("stage_timeout must not be negative")
	}
	switch c.Store.Mode {
	case "append", "overwrite":
	default:
		return fmt.Errorf("store mode must be append or overwrite, got %q", c.Store.Mode)
	}
	if c.Store.CompressionLevel < 1 || c.Store.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Settings converts the fit section for the solver.
func (f Fit) Settings() optimize.Settings {
	s := optimize.DefaultSettings()
	s.MaxIterations = f.MaxIterations
	s.FTol = f.FTol
	s.XTol = f.XTol
	return s
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
