// Package config provides the configuration shared by every collegescvis mode.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sacline/collegescvis/internal/csvline"
	"github.com/sacline/collegescvis/pkg/types"
)

// Mode selects what the binary does.
type Mode string

const (
	ModeDecode  Mode = "decode"
	ModeBuild   Mode = "build"
	ModeIngest  Mode = "ingest"
	ModeAll     Mode = "all"
	ModeServe   Mode = "serve"
	ModePublish Mode = "publish"
	ModeFetch   Mode = "fetch"
	ModePlot    Mode = "plot"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "SCORECARD_"

const defaultDataDir = "./data"

// Config holds the configuration for all modes.
type Config struct {
	// Mode is one of decode, build, ingest, all, serve, publish, fetch, plot
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for raw files, the schema file and the database
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Data    DataConfig    `json:"data" yaml:"data"`
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Plot    PlotConfig    `json:"plot" yaml:"plot"`
}

// DataConfig locates the inputs and outputs of the build pipeline.
type DataConfig struct {
	// RawPattern globs every raw file fed to the decoder
	RawPattern string `json:"raw_pattern" yaml:"raw_pattern"`

	// RawFileTemplate names one year's raw file; %d is the year
	RawFileTemplate string `json:"raw_file_template" yaml:"raw_file_template"`

	// SchemaPath is the decoded schema file
	SchemaPath string `json:"schema_path" yaml:"schema_path"`

	// DBPath is the SQLite database
	DBPath string `json:"db_path" yaml:"db_path"`

	// Encoding is latin1 or utf8
	Encoding csvline.Encoding `json:"encoding" yaml:"encoding"`

	Years     types.YearRange `json:"years" yaml:"years"`
	Partition types.Partition `json:"partition" yaml:"partition"`

	// KeyColumn matches year rows to colleges
	KeyColumn string `json:"key_column" yaml:"key_column"`

	// NameColumn is the College column colleges are selected by
	NameColumn string `json:"name_column" yaml:"name_column"`

	// BaselineYear's raw file seeds the College table; 0 means Years.End
	BaselineYear int `json:"baseline_year" yaml:"baseline_year"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StorageConfig holds snapshot storage configuration.
type StorageConfig struct {
	// Type is local or s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every snapshot object name
	Prefix string `json:"prefix" yaml:"prefix"`

	// Keep is how many snapshots survive a publish; 0 disables pruning
	Keep int `json:"keep" yaml:"keep"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// PlotConfig selects the series exported in plot mode.
type PlotConfig struct {
	Output   string   `json:"output" yaml:"output"`
	Colleges []string `json:"colleges" yaml:"colleges"`
	Metric   string   `json:"metric" yaml:"metric"`

	// Start and End default to the database's first and last year table
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// DefaultConfig returns the configuration matching the Scorecard merged releases.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: defaultDataDir,
		Data: DataConfig{
			RawFileTemplate: "merged_%d_PP.csv",
			Encoding:        csvline.Latin1,
			Years:           types.DefaultYearRange(),
			Partition:       types.DefaultPartition(),
			KeyColumn:       "UNITID",
			NameColumn:      "INSTNM",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:   "local",
			Prefix: "snapshots",
			Keep:   5,
		},
		Plot: PlotConfig{
			Output: "scorecard.png",
		},
	}
}

// Resolve fills paths left empty from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.Data.RawPattern == "" {
		c.Data.RawPattern = filepath.Join(c.RawDir(), "merged_*.csv")
	}
	if c.Data.SchemaPath == "" {
		c.Data.SchemaPath = filepath.Join(c.DataDir, "temp", "data_types.txt")
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = filepath.Join(c.DataDir, "database", "college-scorecard.sqlite")
	}
	if c.Data.BaselineYear == 0 {
		c.Data.BaselineYear = c.Data.Years.End
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

// RawDir is the directory holding the per-year raw files.
func (c *Config) RawDir() string {
	return filepath.Join(c.DataDir, "raw_data")
}

// RawFile returns the raw file path for year.
func (c *Config) RawFile(year int) string {
	return filepath.Join(c.RawDir(), fmt.Sprintf(c.Data.RawFileTemplate, year))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDecode, ModeBuild, ModeIngest, ModeAll, ModeServe, ModePublish, ModeFetch, ModePlot:
	default:
		return fmt.Errorf("invalid mode: %s (must be decode, build, ingest, all, serve, publish, fetch, or plot)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Data.Years.Start <= 0 || c.Data.Years.End < c.Data.Years.Start {
		return fmt.Errorf("invalid year range %d-%d", c.Data.Years.Start, c.Data.Years.End)
	}
	if c.Data.BaselineYear != 0 && !c.Data.Years.Contains(c.Data.BaselineYear) {
		return fmt.Errorf("data.baseline_year %d is outside %d-%d", c.Data.BaselineYear, c.Data.Years.Start, c.Data.Years.End)
	}
	if c.Data.Partition.CollegeCutoff < 1 {
		return fmt.Errorf("data.partition.college_cutoff must be positive, got %d", c.Data.Partition.CollegeCutoff)
	}
	if !strings.Contains(c.Data.RawFileTemplate, "%d") {
		return fmt.Errorf("data.raw_file_template must contain %%d, got %q", c.Data.RawFileTemplate)
	}

	switch c.Data.Encoding {
	case csvline.Latin1, csvline.UTF8:
	default:
		return fmt.Errorf("invalid encoding: %s (must be latin1 or utf8)", c.Data.Encoding)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}
	if c.Storage.Keep < 0 {
		return fmt.Errorf("storage.keep must not be negative, got %d", c.Storage.Keep)
	}

	if c.Mode == ModePlot {
		if len(c.Plot.Colleges) == 0 || c.Plot.Metric == "" {
			return fmt.Errorf("plot mode requires plot.colleges and plot.metric")
		}
	}

	return nil
}

// ShouldDecode reports whether the mode runs the decoder.
func (c *Config) ShouldDecode() bool {
	return c.Mode == ModeAll || c.Mode == ModeDecode
}

// ShouldBuild reports whether the mode builds the schema.
func (c *Config) ShouldBuild() bool {
	return c.Mode == ModeAll || c.Mode == ModeBuild
}

// ShouldIngest reports whether the mode loads raw rows.
func (c *Config) ShouldIngest() bool {
	return c.Mode == ModeAll || c.Mode == ModeIngest
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. With no
// arguments it reads ./.env. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromEnv overlays environment variables with the SCORECARD_ prefix.
// Unparseable numeric values are ignored.
func LoadFromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	str("DATA_DIR", &cfg.DataDir)

	// Data configuration
	str("RAW_PATTERN", &cfg.Data.RawPattern)
	str("RAW_FILE_TEMPLATE", &cfg.Data.RawFileTemplate)
	str("SCHEMA_PATH", &cfg.Data.SchemaPath)
	str("DB_PATH", &cfg.Data.DBPath)
	if v := os.Getenv(EnvPrefix + "ENCODING"); v != "" {
		cfg.Data.Encoding = csvline.Encoding(v)
	}
	num("START_YEAR", &cfg.Data.Years.Start)
	num("END_YEAR", &cfg.Data.Years.End)
	num("COLLEGE_CUTOFF", &cfg.Data.Partition.CollegeCutoff)
	num("BASELINE_YEAR", &cfg.Data.BaselineYear)
	str("KEY_COLUMN", &cfg.Data.KeyColumn)
	str("NAME_COLUMN", &cfg.Data.NameColumn)

	// HTTP configuration
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	dur("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	dur("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)

	// Storage configuration
	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("STORAGE_PREFIX", &cfg.Storage.Prefix)
	num("STORAGE_KEEP", &cfg.Storage.Keep)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	if v := os.Getenv(EnvPrefix + "S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}
}

// EnsureDirectories creates the directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Data.SchemaPath),
		filepath.Dir(c.Data.DBPath),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
