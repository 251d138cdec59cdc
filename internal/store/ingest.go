package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/sacline/collegescvis/internal/csvline"
	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/pkg/types"
)

// maxMissingLogs caps per-row warnings for unmatched colleges in one file.
const maxMissingLogs = 10

// LoadReport summarizes a LoadColleges call.
type LoadReport struct {
	Path        string
	RowsRead    int
	Colleges    int
	RowsSkipped int
}

// MissingRow is a year row whose college key has no College row.
type MissingRow struct {
	Key  string
	Line int
}

// IngestReport summarizes an IngestYear call.
type IngestReport struct {
	RunID           string
	Year            int
	Path            string
	Fingerprint     string
	RowsRead        int
	RowsWritten     int
	Missing         []MissingRow
	AlreadyIngested bool
}

// boundColumn is a schema column located in a particular file's header.
type boundColumn struct {
	desc types.ColumnDescriptor
	pos  int
}

// bindColumns locates cols in header by name. Columns absent from the header
// are left out.
func bindColumns(header []string, cols []types.ColumnDescriptor) []boundColumn {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		if _, seen := positions[h]; !seen {
			positions[h] = i
		}
	}
	var bound []boundColumn
	for _, c := range cols {
		if pos, ok := positions[c.Name]; ok {
			bound = append(bound, boundColumn{desc: c, pos: pos})
		}
	}
	return bound
}

func columnNames(bound []boundColumn) []string {
	names := make([]string, len(bound))
	for i, bc := range bound {
		names[i] = bc.desc.Name
	}
	return names
}

func (b *Builder) openRaw(path string) (*csvline.Reader, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, scerrors.NewNotFound(fmt.Sprintf("raw data file %s not found", path), err)
		}
		return nil, fmt.Errorf("store: failed to stat %s: %w", path, err)
	}
	return csvline.Open(path, b.opts.Encoding)
}

func malformedRow(r *csvline.Reader, got, want int) error {
	return scerrors.NewDecodeError(scerrors.CodeMalformedRow,
		fmt.Sprintf("%s line %d has %d fields, header has %d", r.Path(), r.Line(), got, want), nil).
		WithDetails(map[string]interface{}{"path": r.Path(), "line": r.Line()})
}

// LoadColleges upserts one College row per distinct college key found in the
// raw file at path, writing every college-level column present in its header.
func (b *Builder) LoadColleges(ctx context.Context, path string) (LoadReport, error) {
	report := LoadReport{Path: path}
	if err := b.requireSchema(ctx); err != nil {
		return report, err
	}
	keyDesc, ok := b.collegeColumn(b.opts.KeyColumn)
	if !ok {
		return report, scerrors.NewStoreError(scerrors.CodeInvalidState,
			fmt.Sprintf("key column %s is not a college-level column", b.opts.KeyColumn), nil)
	}

	r, err := b.openRaw(path)
	if err != nil {
		return report, err
	}
	defer r.Close()

	header := r.Header()
	bound := bindColumns(header, b.college)
	keyPos := -1
	for _, bc := range bound {
		if bc.desc.Name == keyDesc.Name {
			keyPos = bc.pos
		}
	}
	if keyPos < 0 {
		return report, scerrors.NewInvalidInput(fmt.Sprintf("%s has no %s column", path, keyDesc.Name))
	}

	stmtSQL, err := upsertSQL(CollegeTable, keyDesc.Name, columnNames(bound))
	if err != nil {
		return report, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return report, scerrors.NewStoreError(scerrors.CodeUnexpected, "failed to prepare college upsert", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool)
	args := make([]interface{}, len(bound))
	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, err
		}
		report.RowsRead++
		if len(row) != len(header) {
			return report, malformedRow(r, len(row), len(header))
		}

		key := keyString(coerceValue(row[keyPos], keyDesc.Type))
		if key == "" {
			report.RowsSkipped++
			continue
		}
		for i, bc := range bound {
			args[i] = coerceValue(row[bc.pos], bc.desc.Type)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return report, scerrors.NewStoreError(scerrors.CodeUnexpected,
				fmt.Sprintf("failed to upsert college %s (line %d)", key, r.Line()), err)
		}
		seen[key] = true
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("store: failed to commit colleges: %w", err)
	}
	report.Colleges = len(seen)
	log.Printf("store: loaded %d colleges from %s (%d rows read, %d skipped)",
		report.Colleges, filepath.Base(path), report.RowsRead, report.RowsSkipped)
	return report, nil
}

// IngestYear loads the year-level columns of the raw file at path into the
// table for year. Rows are matched to colleges by key; rows whose college is
// not in College are skipped and listed in the report. Re-ingesting is a
// no-op only when the last run for year read the same file contents under
// the same year-level columns and skipped no rows; otherwise the file is
// upserted again so colleges loaded since and newly added columns fill in.
func (b *Builder) IngestYear(ctx context.Context, path string, year int) (IngestReport, error) {
	report := IngestReport{Year: year, Path: path}
	if !b.opts.Years.Contains(year) {
		return report, scerrors.NewInvalidInput(fmt.Sprintf("year %d is outside %d-%d",
			year, b.opts.Years.Start, b.opts.Years.End))
	}
	if err := b.requireSchema(ctx); err != nil {
		return report, err
	}
	keyDesc, ok := b.collegeColumn(b.opts.KeyColumn)
	if !ok {
		return report, scerrors.NewStoreError(scerrors.CodeInvalidState,
			fmt.Sprintf("key column %s is not a college-level column", b.opts.KeyColumn), nil)
	}

	fingerprint, err := Fingerprint(path)
	if err != nil {
		return report, err
	}
	report.Fingerprint = fingerprint

	schemaHash, err := b.schemaHash()
	if err != nil {
		return report, err
	}
	last, found, err := b.lastRun(ctx, year)
	if err != nil {
		return report, err
	}
	if found && last.fingerprint == fingerprint && last.schemaHash == schemaHash && last.rowsSkipped == 0 {
		report.AlreadyIngested = true
		log.Printf("store: %s already ingested for %d, skipping", filepath.Base(path), year)
		return report, nil
	}

	ids, err := b.collegeIDs(ctx, keyDesc)
	if err != nil {
		return report, err
	}

	r, err := b.openRaw(path)
	if err != nil {
		return report, err
	}
	defer r.Close()

	header := r.Header()
	keyPos := -1
	for i, h := range header {
		if h == keyDesc.Name {
			keyPos = i
			break
		}
	}
	if keyPos < 0 {
		return report, scerrors.NewInvalidInput(fmt.Sprintf("%s has no %s column", path, keyDesc.Name))
	}
	bound := bindColumns(header, b.year)

	table := types.TableName(year)
	stmtSQL, err := upsertSQL(table, CollegeIDColumn, append([]string{CollegeIDColumn}, columnNames(bound)...))
	if err != nil {
		return report, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return report, scerrors.NewStoreError(scerrors.CodeUnexpected,
			fmt.Sprintf("failed to prepare upsert for %s", table), err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(bound)+1)
	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, err
		}
		report.RowsRead++
		if len(row) != len(header) {
			return report, malformedRow(r, len(row), len(header))
		}

		key := keyString(coerceValue(row[keyPos], keyDesc.Type))
		id, err := resolveCollege(ids, key, r.Line())
		if err != nil {
			if scerrors.IsFatal(err) {
				return report, err
			}
			report.Missing = append(report.Missing, MissingRow{Key: key, Line: r.Line()})
			if len(report.Missing) <= maxMissingLogs {
				log.Printf("[WARN] store: %v", err)
			}
			continue
		}

		args[0] = id
		for i, bc := range bound {
			args[i+1] = coerceValue(row[bc.pos], bc.desc.Type)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return report, scerrors.NewStoreError(scerrors.CodeUnexpected,
				fmt.Sprintf("failed to upsert %s row for college %s (line %d)", table, key, r.Line()), err)
		}
		report.RowsWritten++
	}
	if n := len(report.Missing); n > maxMissingLogs {
		log.Printf("[WARN] store: %d more rows in %s reference unknown colleges", n-maxMissingLogs, filepath.Base(path))
	}

	if err := rebuildCoverage(ctx, tx, year); err != nil {
		return report, err
	}

	report.RunID = uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _scorecard_runs (run_id, year, source, fingerprint, rows_written, rows_skipped, schema_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, year, path, fingerprint, report.RowsWritten, len(report.Missing), schemaHash, time.Now().UnixNano(),
	); err != nil {
		return report, fmt.Errorf("store: failed to record run: %w", err)
	}
	if err := setState(ctx, tx, fmt.Sprintf("%s%d", statePopulatedPrefix, year), report.RunID); err != nil {
		return report, err
	}
	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("store: failed to commit %s: %w", table, err)
	}

	log.Printf("store: ingested %s into %s: %d rows written, %d skipped (run %s)",
		filepath.Base(path), table, report.RowsWritten, len(report.Missing), report.RunID)
	return report, nil
}

func resolveCollege(ids map[string]int64, key string, line int) (int64, error) {
	if id, ok := ids[key]; ok && key != "" {
		return id, nil
	}
	return 0, scerrors.NewStoreError(scerrors.CodeMissingReferencedRow,
		fmt.Sprintf("line %d: college %q is not in %s, row skipped", line, key, CollegeTable), nil)
}

// collegeIDs maps normalized key values to college_id.
func (b *Builder) collegeIDs(ctx context.Context, keyDesc types.ColumnDescriptor) (map[string]int64, error) {
	names, err := quoteIdents([]string{CollegeIDColumn, keyDesc.Name, CollegeTable})
	if err != nil {
		return nil, err
	}
	idCol, col, table := names[0], names[1], names[2]
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s IS NOT NULL`, idCol, col, table, col))
	if err != nil {
		return nil, fmt.Errorf("store: failed to read college keys: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var id int64
		var key interface{}
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("store: failed to scan college key: %w", err)
		}
		ids[keyString(key)] = id
	}
	return ids, rows.Err()
}

type runRecord struct {
	fingerprint string
	schemaHash  string
	rowsSkipped int
}

func (b *Builder) lastRun(ctx context.Context, year int) (runRecord, bool, error) {
	var run runRecord
	err := b.db.QueryRowContext(ctx,
		`SELECT fingerprint, schema_hash, rows_skipped FROM _scorecard_runs
		 WHERE year = ? ORDER BY created_at DESC LIMIT 1`, year).Scan(&run.fingerprint, &run.schemaHash, &run.rowsSkipped)
	if err == sql.ErrNoRows {
		return run, false, nil
	}
	if err != nil {
		return run, false, fmt.Errorf("store: failed to read last run for %d: %w", year, err)
	}
	return run, true, nil
}

// schemaHash identifies the year-level columns a run wrote.
func (b *Builder) schemaHash() (string, error) {
	data, err := json.Marshal(b.year)
	if err != nil {
		return "", fmt.Errorf("store: failed to encode year columns: %w", err)
	}
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2), nil
}

// Fingerprint returns the hex murmur3 128-bit hash of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", scerrors.NewNotFound(fmt.Sprintf("raw data file %s not found", path), err)
		}
		return "", fmt.Errorf("store: failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := murmur3.New128()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("store: failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RunsFor lists the run ids recorded for year, oldest first.
func (b *Builder) RunsFor(ctx context.Context, year int) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT run_id FROM _scorecard_runs WHERE year = ? ORDER BY created_at", year)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
