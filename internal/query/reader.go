// Package query answers the questions a plotting front end asks of a built
// Scorecard database: which colleges, years and metrics exist, and what one
// metric looks like for one college over a span of years.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sacline/collegescvis/internal/bloom"
	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/internal/store"
	"github.com/sacline/collegescvis/pkg/types"
)

// DefaultNameColumn holds the institution name shown to users.
const DefaultNameColumn = "INSTNM"

// Options configures a Reader.
type Options struct {
	// NameColumn is the College column colleges are selected by
	NameColumn string
}

// Metric is a plottable column.
type Metric struct {
	Name string         `json:"name"`
	Type types.DataType `json:"type"`
}

// Numeric reports whether the metric can be drawn on a numeric axis.
func (m Metric) Numeric() bool {
	return m.Type == types.Integer || m.Type == types.Real
}

// MetricSet lists college-level and year-level metrics separately.
type MetricSet struct {
	College []Metric `json:"college"`
	Year    []Metric `json:"year"`
}

// Lookup finds a metric by name and reports whether it is college-level.
func (s MetricSet) Lookup(name string) (m Metric, collegeLevel bool, ok bool) {
	for _, c := range s.College {
		if c.Name == name {
			return c, true, true
		}
	}
	for _, y := range s.Year {
		if y.Name == name {
			return y, false, true
		}
	}
	return Metric{}, false, false
}

// Reader runs read-only queries against a Scorecard database.
type Reader struct {
	db   *sql.DB
	path string
	opts Options

	// coverage caches decoded year filters; a nil entry means "no filter".
	// coverageStamp is the newest coverage updated_at the cache reflects.
	coverage      map[int]*bloom.Filter
	coverageStamp int64
	coverageMu    sync.RWMutex
}

// Open opens the database at path for querying.
func Open(path string, opts Options) (*Reader, error) {
	if opts.NameColumn == "" {
		opts.NameColumn = DefaultNameColumn
	}
	if _, err := store.Sanitize(opts.NameColumn); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, scerrors.NewNotFound(fmt.Sprintf("database %s not found", path), err)
		}
		return nil, fmt.Errorf("query: failed to stat database: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_query_only=1")
	if err != nil {
		return nil, fmt.Errorf("query: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	return &Reader{
		db:       db,
		path:     path,
		opts:     opts,
		coverage: make(map[int]*bloom.Filter),
	}, nil
}

// Close releases the database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}

// CollegeNames lists every college name in alphabetical order.
func (r *Reader) CollegeNames(ctx context.Context) ([]string, error) {
	col, err := store.QuoteIdent(r.opts.NameColumn)
	if err != nil {
		return nil, err
	}
	table, err := store.QuoteIdent(store.CollegeTable)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s`, col, table, col, col))
	if err != nil {
		return nil, scerrors.NewQueryError(scerrors.CodeUnexpected, fmt.Sprintf("failed to list colleges: %v", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("query: failed to scan college name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// YearTables lists the year tables present in the database, ascending.
func (r *Reader) YearTables(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT IN (?, 'sqlite_sequence')`,
		store.CollegeTable)
	if err != nil {
		return nil, scerrors.NewQueryError(scerrors.CodeUnexpected, fmt.Sprintf("failed to list tables: %v", err))
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("query: failed to scan table name: %w", err)
		}
		// Bookkeeping tables never parse as a year.
		if year, err := strconv.Atoi(name); err == nil && types.TableName(year) == name {
			years = append(years, year)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Ints(years)
	return years, nil
}

// Metrics lists the columns of College and of the year tables, excluding the
// surrogate key.
func (r *Reader) Metrics(ctx context.Context) (MetricSet, error) {
	var set MetricSet
	var err error
	if set.College, err = r.tableMetrics(ctx, store.CollegeTable); err != nil {
		return MetricSet{}, err
	}
	years, err := r.YearTables(ctx)
	if err != nil {
		return MetricSet{}, err
	}
	if len(years) > 0 {
		if set.Year, err = r.tableMetrics(ctx, types.TableName(years[0])); err != nil {
			return MetricSet{}, err
		}
	}
	return set, nil
}

func (r *Reader) tableMetrics(ctx context.Context, table string) ([]Metric, error) {
	t, err := store.QuoteIdent(table)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, t))
	if err != nil {
		return nil, scerrors.NewQueryError(scerrors.CodeUnexpected, fmt.Sprintf("failed to describe %s: %v", table, err))
	}
	defer rows.Close()

	var metrics []Metric
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("query: failed to scan column info: %w", err)
		}
		if name == store.CollegeIDColumn {
			continue
		}
		metrics = append(metrics, Metric{Name: name, Type: types.DataType(typ)})
	}
	return metrics, rows.Err()
}

// coverageFor returns the cached coverage filter for year, loading it on
// first use. A nil filter means every college must be checked.
func (r *Reader) coverageFor(ctx context.Context, year int) *bloom.Filter {
	r.coverageMu.RLock()
	f, cached := r.coverage[year]
	r.coverageMu.RUnlock()
	if cached {
		return f
	}

	f, ok, err := store.LoadCoverage(ctx, r.db, year)
	if err != nil {
		log.Printf("[WARN] query: coverage for %d unavailable, scanning table: %v", year, err)
	}
	if err != nil || !ok {
		f = nil
	}
	r.coverageMu.Lock()
	r.coverage[year] = f
	r.coverageMu.Unlock()
	return f
}

// InvalidateCoverage drops cached coverage filters so the next lookup
// reloads them.
func (r *Reader) InvalidateCoverage() {
	r.coverageMu.Lock()
	r.coverage = make(map[int]*bloom.Filter)
	r.coverageMu.Unlock()
}

// refreshCoverage invalidates the cache when any year's coverage was
// rewritten since it was last checked, e.g. by a re-ingest from another
// process.
func (r *Reader) refreshCoverage(ctx context.Context) {
	var stamp sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM _scorecard_coverage").Scan(&stamp); err != nil {
		log.Printf("[WARN] query: failed to check coverage freshness, dropping cache: %v", err)
		r.InvalidateCoverage()
		return
	}

	r.coverageMu.RLock()
	current := r.coverageStamp
	r.coverageMu.RUnlock()
	if stamp.Int64 == current {
		return
	}

	r.coverageMu.Lock()
	r.coverage = make(map[int]*bloom.Filter)
	r.coverageStamp = stamp.Int64
	r.coverageMu.Unlock()
}
