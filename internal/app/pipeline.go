package app

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/sacline/collegescvis/internal/config"
	"github.com/sacline/collegescvis/internal/decoder"
	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/internal/store"
)

// PipelineReport summarizes one pipeline run.
type PipelineReport struct {
	// Decoded is set when the schema file was (re)generated
	Decoded bool
	Columns int

	SchemaBuilt bool
	Colleges    *store.LoadReport
	Ingested    []store.IngestReport

	// MissingYears lists years in range without a raw file
	MissingYears []int
}

// Pipeline turns raw files into a populated database.
type Pipeline struct {
	cfg *config.Config
}

// NewPipeline creates a pipeline over a resolved configuration.
func NewPipeline(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run executes the stages selected by the configured mode. In mode all the
// schema file is decoded only when it does not exist yet; mode decode always
// regenerates it.
func (p *Pipeline) Run(ctx context.Context) (PipelineReport, error) {
	var report PipelineReport

	if p.cfg.ShouldDecode() {
		decoded, cols, err := p.decode()
		if err != nil {
			return report, err
		}
		report.Decoded, report.Columns = decoded, cols
	}
	if !p.cfg.ShouldBuild() && !p.cfg.ShouldIngest() {
		return report, nil
	}

	b, err := store.Open(p.cfg.Data.DBPath, p.cfg.Data.SchemaPath, store.Options{
		Partition: p.cfg.Data.Partition,
		Years:     p.cfg.Data.Years,
		KeyColumn: p.cfg.Data.KeyColumn,
		Encoding:  p.cfg.Data.Encoding,
	})
	if err != nil {
		return report, err
	}
	defer b.Close()

	if p.cfg.ShouldBuild() {
		if err := b.BuildSchema(ctx); err != nil {
			return report, err
		}
		report.SchemaBuilt = true

		baseline, err := p.baselineFile()
		if err != nil {
			return report, err
		}
		loaded, err := b.LoadColleges(ctx, baseline)
		if err != nil {
			return report, err
		}
		report.Colleges = &loaded
	}

	if p.cfg.ShouldIngest() {
		for _, year := range p.cfg.Data.Years.Years() {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			path := p.cfg.RawFile(year)
			if !exists(path) {
				log.Printf("app: no raw file for %d (%s), skipping", year, path)
				report.MissingYears = append(report.MissingYears, year)
				continue
			}
			ir, err := b.IngestYear(ctx, path, year)
			if err != nil {
				return report, err
			}
			report.Ingested = append(report.Ingested, ir)
		}
	}

	log.Printf("app: pipeline finished: %d years ingested, %d missing", len(report.Ingested), len(report.MissingYears))
	return report, nil
}

func (p *Pipeline) decode() (bool, int, error) {
	if p.cfg.Mode != config.ModeDecode && exists(p.cfg.Data.SchemaPath) {
		log.Printf("app: schema file %s exists, skipping decode", p.cfg.Data.SchemaPath)
		return false, 0, nil
	}

	d := decoder.New(decoder.Options{
		Encoding:  p.cfg.Data.Encoding,
		Overrides: decoder.DefaultOverrides,
	})
	schema, err := d.DecodePattern(p.cfg.Data.RawPattern)
	if err != nil {
		return false, 0, err
	}
	if err := decoder.WriteSchema(p.cfg.Data.SchemaPath, schema); err != nil {
		return false, 0, err
	}
	log.Printf("app: wrote %d column types to %s", len(schema.Columns), p.cfg.Data.SchemaPath)
	return true, len(schema.Columns), nil
}

// baselineFile picks the raw file seeding College: the baseline year's file,
// else the newest existing year file.
func (p *Pipeline) baselineFile() (string, error) {
	path := p.cfg.RawFile(p.cfg.Data.BaselineYear)
	if exists(path) {
		return path, nil
	}
	years := p.cfg.Data.Years.Years()
	for i := len(years) - 1; i >= 0; i-- {
		if candidate := p.cfg.RawFile(years[i]); exists(candidate) {
			log.Printf("[WARN] app: baseline file %s missing, loading colleges from %s", path, candidate)
			return candidate, nil
		}
	}
	return "", scerrors.NewNotFound(fmt.Sprintf("no raw file in %s for years %d-%d",
		p.cfg.RawDir(), p.cfg.Data.Years.Start, p.cfg.Data.Years.End), nil)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
