package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/runningwild/glowfit/pkg/agent"
	"github.com/runningwild/glowfit/pkg/analyze"
	"github.com/runningwild/glowfit/pkg/batch"
	"github.com/runningwild/glowfit/pkg/cluster"
	"github.com/runningwild/glowfit/pkg/config"
	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Dispatch subcommands
	switch os.Args[1] {
	case "analyze":
		runAnalyzeCmd(ctx)
	case "export":
		runExportCmd(ctx)
	case "agent":
		runAgentCmd()
	case "remote":
		runRemoteCmd(ctx)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: glowfit <analyze|export|agent|remote> [flags] [files...]")
}

// Flags holds pointers to the flags shared by the analysis commands.
type Flags struct {
	ConfigFile  *string
	WriteConfig *string

	Dir     *string
	Depth   *int
	Store   *string
	Mode    *string
	Workers *int
	Timeout *time.Duration
	Peaks   *int

	Dump   *string
	Report *string

	set map[string]bool
}

func SetupFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	f.ConfigFile = fs.String("config", "", "Path to YAML configuration file")
	f.WriteConfig = fs.String("write-config", "", "Save the effective configuration to this YAML file")

	f.Dir = fs.String("dir", "", "Import every .json measurement below this directory")
	f.Depth = fs.Int("depth", 0, "Directory levels to import (1 = dir only, 0 = all)")
	f.Store = fs.String("store", "", "Record store directory (in-memory if empty)")
	f.Mode = fs.String("mode", "", "Store mode: 'append' or 'overwrite'")
	f.Workers = fs.Int("workers", 0, "Number of parallel workers")
	f.Timeout = fs.Duration("timeout", 0, "Time limit per stage and record")
	f.Peaks = fs.Int("peaks", 3, "Gaussian peaks of the temperature reconstruction: 3, 4 or 0 (auto)")

	f.Dump = fs.String("dump", "", "Write the store to this file (.json is left uncompressed)")
	f.Report = fs.String("report", "", "Write scalar results as CSV to this file")
	return f
}

// LoadConfig reads the config file, if any, and applies the flags given
// on the command line on top of it.
func (f *Flags) LoadConfig(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(*f.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	if f.set["store"] {
		cfg.Store.Path = *f.Store
		cfg.Store.InMemory = *f.Store == ""
	}
	if f.set["mode"] {
		cfg.Store.Mode = *f.Mode
	}
	if f.set["workers"] {
		cfg.Batch.Workers = *f.Workers
	}
	if f.set["timeout"] {
		cfg.Batch.StageTimeout = *f.Timeout
	}
	if f.set["peaks"] {
		cfg.Analysis.TrecoPeaks = *f.Peaks
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *Flags) MaybeWriteConfig(cfg *config.Config) {
	if *f.WriteConfig == "" {
		return
	}
	if err := cfg.Write(*f.WriteConfig); err != nil {
		fmt.Printf("Warning: Failed to write config file: %v\n", err)
		return
	}
	fmt.Printf("Configuration written to %s\n", *f.WriteConfig)
}

func storeConfig(cfg *config.Config) *store.Config {
	return &store.Config{
		Path:             cfg.Store.Path,
		InMemory:         cfg.Store.InMemory,
		Mode:             cfg.Store.Mode,
		CompressionLevel: cfg.Store.CompressionLevel,
	}
}

// setup parses the flags of a subcommand and prepares config and logger.
func setup(fs *flag.FlagSet, f *Flags) *config.Config {
	fs.Parse(os.Args[2:])

	cfg, err := f.LoadConfig(fs)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := config.NewLogger(os.Stderr, cfg.Log); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	f.MaybeWriteConfig(cfg)
	return cfg
}

func openStore(cfg *config.Config) store.Storage {
	s, err := store.NewStorage(storeConfig(cfg))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return s
}

// importInputs reads -dir and the positional file arguments into s.
func importInputs(ctx context.Context, fs *flag.FlagSet, f *Flags, s store.Storage) int {
	n := 0
	if *f.Dir != "" {
		ids, err := store.ReadDir(ctx, s, *f.Dir, *f.Depth)
		if err != nil {
			fmt.Printf("Import failed: %v\n", err)
			os.Exit(1)
		}
		n += len(ids)
	}
	if fs.NArg() > 0 {
		ids, err := store.ReadFiles(ctx, s, fs.Args())
		if err != nil {
			fmt.Printf("Import failed: %v\n", err)
			os.Exit(1)
		}
		n += len(ids)
	}
	return n
}

// runAnalyzeCmd handles "glowfit analyze [flags] [files...]"
func runAnalyzeCmd(ctx context.Context) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	f := SetupFlags(fs)
	cfg := setup(fs, f)
	s := openStore(cfg)
	defer s.Close()

	imported := importInputs(ctx, fs, f, s)
	total, err := s.Len(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d measurements, analyzing %d records with %d workers...\n",
		imported, total, cfg.Batch.Workers)

	runner := batch.New(analyze.Stages(cfg), cfg.Batch.Workers, cfg.Batch.StageTimeout)
	runner.Progress = func(done, total int) {
		if done == total || done%100 == 0 {
			fmt.Printf("[%d/%d] records analyzed\n", done, total)
		}
	}
	start := time.Now()
	n, err := runner.RunStore(ctx, s)
	if err != nil {
		fmt.Printf("Analysis failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n>>> Analysis Complete <<<\n")
	fmt.Printf("Records: %d in %v\n", n, time.Since(start).Round(time.Millisecond))
	printTimings(runner)

	finish(ctx, f, s)
}

// runExportCmd handles "glowfit export -store dir|-load dump -report out.csv"
func runExportCmd(ctx context.Context) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	f := SetupFlags(fs)
	load := fs.String("load", "", "Read records from a dump instead of a store")
	s := openStore(setup(fs, f))
	defer s.Close()

	if *load != "" {
		n, err := store.Load(ctx, s, *load)
		if err != nil {
			fmt.Printf("Load failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %d records from %s\n", n, *load)
	}
	if *f.Report == "" && *f.Dump == "" {
		entries, err := s.All(ctx)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if err := writeCSV(os.Stdout, entries); err != nil {
			fmt.Printf("Export failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	finish(ctx, f, s)
}

// runAgentCmd handles "glowfit agent [-listen addr]"
func runAgentCmd() {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	f := SetupFlags(fs)
	listen := fs.String("listen", "", "Address to listen on (default from config)")
	cfg := setup(fs, f)

	addr := cfg.Agent.Listen
	if *listen != "" {
		addr = *listen
	}
	runner := batch.New(analyze.Stages(cfg), cfg.Batch.Workers, cfg.Batch.StageTimeout)
	srv := agent.NewServer(runner)
	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Printf("Agent failed: %v\n", err)
		os.Exit(1)
	}
}

// runRemoteCmd handles "glowfit remote -nodes host1:8080,host2:8080 [flags] [files...]"
func runRemoteCmd(ctx context.Context) {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	f := SetupFlags(fs)
	nodesFlag := fs.String("nodes", "", "Comma-separated list of glowfit agents (e.g. host1:8080)")
	cfg := setup(fs, f)
	s := openStore(cfg)
	defer s.Close()

	nodes := cfg.Agent.Nodes
	if *nodesFlag != "" {
		nodes = strings.Split(*nodesFlag, ",")
	}
	if len(nodes) == 0 {
		fmt.Println("Error: -nodes or agent.nodes is required")
		os.Exit(1)
	}

	importInputs(ctx, fs, f, s)
	entries, err := s.All(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sending %d records to %d agents...\n", len(entries), len(nodes))

	c := cluster.New(nodes, 0)
	if err := c.Health(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	recs := make([]record.Record, len(entries))
	for i, e := range entries {
		recs[i] = e.Record
	}
	results, err := c.Analyze(ctx, recs)
	if err != nil {
		fmt.Printf("Remote analysis failed: %v\n", err)
		os.Exit(1)
	}
	failed := 0
	for i, e := range entries {
		if results[i].Failed(cluster.StageAnalysis) {
			failed++
		}
		if err := s.Put(ctx, e.ID, results[i]); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("\n>>> Remote Analysis Complete <<<\n")
	fmt.Printf("Records: %d, failed requests: %d\n", len(entries), failed)
	finish(ctx, f, s)
}

// finish writes the optional dump and CSV report.
func finish(ctx context.Context, f *Flags, s store.Storage) {
	if *f.Dump != "" {
		compress := !strings.HasSuffix(*f.Dump, ".json")
		if err := store.Dump(ctx, s, *f.Dump, compress); err != nil {
			fmt.Printf("Failed to write dump: %v\n", err)
		} else {
			fmt.Printf("Dump written to %s\n", *f.Dump)
		}
	}
	if *f.Report != "" {
		writeReport(ctx, *f.Report, s)
	}
}
