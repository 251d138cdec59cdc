// Package main implements the collegescvis binary. One invocation runs one
// mode: decode, build, ingest, all, serve, publish, fetch or plot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sacline/collegescvis/internal/app"
	"github.com/sacline/collegescvis/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// flagValues holds command line overrides; empty values leave the
// configuration untouched.
type flagValues struct {
	configFile string
	envFile    string
	dataDir    string
	mode       string
	dbPath     string
	httpAddr   string
	object     string
	colleges   string
	metric     string
	output     string
}

func main() {
	var (
		fv          flagValues
		showVersion bool
	)

	flag.StringVar(&fv.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&fv.envFile, "env-file", ".env", "Path to a .env file loaded before SCORECARD_* variables are read")
	flag.StringVar(&fv.dataDir, "data-dir", "", "Base directory holding raw_data/, temp/ and database/")
	flag.StringVar(&fv.mode, "mode", "", "Mode: decode, build, ingest, all, serve, publish, fetch, plot (default all)")
	flag.StringVar(&fv.dbPath, "db", "", "Path to the SQLite database")
	flag.StringVar(&fv.httpAddr, "http-addr", "", "HTTP address for serve mode")
	flag.StringVar(&fv.object, "object", "", "Snapshot to fetch (default latest)")
	flag.StringVar(&fv.colleges, "colleges", "", "Comma-separated college names for plot mode")
	flag.StringVar(&fv.metric, "metric", "", "Metric column for plot mode")
	flag.StringVar(&fv.output, "output", "", "PNG path for plot mode")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "collegescvis - College Scorecard database builder and query server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: collegescvis [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  collegescvis --data-dir ./data\n")
		fmt.Fprintf(os.Stderr, "  collegescvis --mode serve --http-addr :8080\n")
		fmt.Fprintf(os.Stderr, "  collegescvis --mode plot --colleges \"Beta College,Alpha University\" --metric ADM_RATE\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SCORECARD_MODE          Mode\n")
		fmt.Fprintf(os.Stderr, "  SCORECARD_DATA_DIR      Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  SCORECARD_DB_PATH       SQLite database path\n")
		fmt.Fprintf(os.Stderr, "  SCORECARD_HTTP_ADDR     HTTP address for serve mode\n")
		fmt.Fprintf(os.Stderr, "  SCORECARD_STORAGE_TYPE  Snapshot storage type (local, s3)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("collegescvis version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(fv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Mode == config.ModeFetch && fv.object != "" {
		_, err = application.Fetch(ctx, fv.object)
	} else {
		err = application.Run(ctx)
	}
	if err != nil {
		log.Printf("collegescvis: %s failed: %v", cfg.Mode, err)
		os.Exit(1)
	}
}

// loadConfig layers configuration: file or defaults, then .env and
// SCORECARD_* variables, then command line flags.
func loadConfig(fv flagValues) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if fv.configFile != "" {
		cfg, err = config.LoadFromFile(fv.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadDotEnv(fv.envFile); err != nil {
		return nil, err
	}
	config.LoadFromEnv(cfg)

	if fv.dataDir != "" {
		cfg.DataDir = fv.dataDir
	}
	if fv.mode != "" {
		cfg.Mode = config.Mode(fv.mode)
	}
	if fv.dbPath != "" {
		cfg.Data.DBPath = fv.dbPath
	}
	if fv.httpAddr != "" {
		cfg.HTTP.Addr = fv.httpAddr
	}
	if fv.colleges != "" {
		cfg.Plot.Colleges = nil
		for _, c := range strings.Split(fv.colleges, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.Plot.Colleges = append(cfg.Plot.Colleges, c)
			}
		}
	}
	if fv.metric != "" {
		cfg.Plot.Metric = fv.metric
	}
	if fv.output != "" {
		cfg.Plot.Output = fv.output
	}

	return cfg, nil
}

func printBanner(cfg *config.Config) {
	log.Printf("collegescvis %s", version)
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Schema:   %s", cfg.Data.SchemaPath)
	log.Printf("  Database: %s", cfg.Data.DBPath)
	log.Printf("  Years:    %d-%d", cfg.Data.Years.Start, cfg.Data.Years.End)

	switch cfg.Mode {
	case config.ModeServe:
		log.Printf("  HTTP:     %s", cfg.HTTP.Addr)
	case config.ModePublish, config.ModeFetch:
		log.Printf("  Storage:  %s (prefix %q)", cfg.Storage.Type, cfg.Storage.Prefix)
	case config.ModePlot:
		log.Printf("  Plot:     %s for %d colleges -> %s", cfg.Plot.Metric, len(cfg.Plot.Colleges), cfg.Plot.Output)
	}
}
