// Package store materializes a decoded schema into SQLite and loads raw
// Scorecard rows into it.
//
// The database holds one College table keyed by a surrogate college_id and
// one table per covered year whose primary key references College. A Builder
// exclusively owns its connection; the query side opens its own handle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/sacline/collegescvis/internal/csvline"
	"github.com/sacline/collegescvis/internal/decoder"
	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/pkg/types"
)

// DefaultKeyColumn identifies a college across raw files.
const DefaultKeyColumn = "UNITID"

// Options configures a Builder.
type Options struct {
	// Partition decides which columns belong to College
	Partition types.Partition

	// Years is the inclusive range of year tables to create
	Years types.YearRange

	// KeyColumn is the college-level column used to match year rows to colleges
	KeyColumn string

	// Encoding is applied to every raw file read by the builder
	Encoding csvline.Encoding
}

// DefaultOptions returns options for the Scorecard merged releases.
func DefaultOptions() Options {
	return Options{
		Partition: types.DefaultPartition(),
		Years:     types.DefaultYearRange(),
		KeyColumn: DefaultKeyColumn,
		Encoding:  csvline.Latin1,
	}
}

// BuildState reports how far the database has been built.
type BuildState struct {
	SchemaBuilt bool
	Populated   []int
}

// Builder creates and fills the Scorecard database.
type Builder struct {
	db      *sql.DB
	dbPath  string
	opts    Options
	schema  types.SchemaDescriptor
	college []types.ColumnDescriptor
	year    []types.ColumnDescriptor
}

// DSN returns the connection string used for a database file.
func DSN(dbPath string) string {
	return dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// Open loads the schema file and opens (creating if needed) the database.
// Both arguments must be strings.
func Open(dbPath, schemaPath interface{}, opts Options) (*Builder, error) {
	db, ok := dbPath.(string)
	if !ok || db == "" {
		return nil, scerrors.NewInvalidInput(fmt.Sprintf("database path must be a non-empty string (got %T)", dbPath))
	}
	sp, ok := schemaPath.(string)
	if !ok {
		return nil, scerrors.NewInvalidInput(fmt.Sprintf("schema path must be a string (got %T)", schemaPath))
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = DefaultKeyColumn
	}
	if opts.Encoding == "" {
		opts.Encoding = csvline.Latin1
	}
	if opts.Years.End < opts.Years.Start {
		return nil, scerrors.NewInvalidInput(fmt.Sprintf("year range %d-%d is empty", opts.Years.Start, opts.Years.End))
	}
	if opts.Partition.CollegeCutoff <= 0 {
		return nil, scerrors.NewInvalidInput(fmt.Sprintf("partition cutoff must be positive (got %d)", opts.Partition.CollegeCutoff))
	}
	if _, err := Sanitize(opts.KeyColumn); err != nil {
		return nil, err
	}

	schema, err := decoder.ReadSchema(sp)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(db); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", DSN(db))
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	b := &Builder{
		db:     conn,
		dbPath: db,
		opts:   opts,
		schema: schema,
	}
	b.college, b.year = opts.Partition.Split(schema)

	if err := b.initBookkeeping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: failed to initialize bookkeeping: %w", err)
	}
	return b, nil
}

func (b *Builder) initBookkeeping() error {
	for _, stmt := range bookkeepingTables {
		if _, err := b.db.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := b.db.Exec(addRunsSchemaHashSQL); err != nil && !isDuplicateColumn(err) {
		return err
	}
	return nil
}

// Close releases the database handle.
func (b *Builder) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// Path returns the database file path.
func (b *Builder) Path() string {
	return b.dbPath
}

// Schema returns the schema the builder was opened with.
func (b *Builder) Schema() types.SchemaDescriptor {
	return b.schema
}

// BuildSchema creates the College table and every year table in range and
// adds the partitioned columns to them. Calling it again is harmless: columns
// that already exist are skipped.
func (b *Builder) BuildSchema(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createCollege, err := createCollegeTableSQL()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createCollege); err != nil {
		return scerrors.NewStoreError(scerrors.CodeUnexpected, "failed to create College table", err)
	}
	added, err := b.addColumns(ctx, tx, CollegeTable, b.college)
	if err != nil {
		return err
	}

	if _, ok := b.collegeColumn(b.opts.KeyColumn); ok {
		stmt, err := uniqueIndexSQL(CollegeTable, b.opts.KeyColumn)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return scerrors.NewStoreError(scerrors.CodeUnexpected, "failed to index college key", err)
		}
	} else {
		log.Printf("[WARN] store: key column %s is not college-level, year rows cannot be matched", b.opts.KeyColumn)
	}

	for _, year := range b.opts.Years.Years() {
		stmt, err := createYearTableSQL(year)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return scerrors.NewStoreError(scerrors.CodeUnexpected, fmt.Sprintf("failed to create table %d", year), err)
		}
		n, err := b.addColumns(ctx, tx, types.TableName(year), b.year)
		if err != nil {
			return err
		}
		added += n
	}

	if err := setState(ctx, tx, stateSchemaBuilt, "true"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit schema: %w", err)
	}

	log.Printf("store: schema built: %d college columns, %d year columns, %d year tables, %d columns added",
		len(b.college), len(b.year), len(b.opts.Years.Years()), added)
	return nil
}

// addColumns adds each column to table, absorbing columns that already exist.
func (b *Builder) addColumns(ctx context.Context, tx *sql.Tx, table string, cols []types.ColumnDescriptor) (int, error) {
	added := 0
	for _, col := range cols {
		err := addColumn(ctx, tx, table, col)
		if err == nil {
			added++
			continue
		}
		if scerrors.IsFatal(err) {
			return added, err
		}
	}
	return added, nil
}

func addColumn(ctx context.Context, tx *sql.Tx, table string, col types.ColumnDescriptor) error {
	stmt, err := addColumnSQL(table, col)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		if isDuplicateColumn(err) {
			return scerrors.NewStoreError(scerrors.CodeStructureAlreadyExists,
				fmt.Sprintf("column %s already exists in %s", col.Name, table), err)
		}
		return scerrors.NewStoreError(scerrors.CodeUnexpected,
			fmt.Sprintf("failed to add column %s to %s", col.Name, table), err)
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrError && strings.Contains(se.Error(), "duplicate column name")
	}
	return strings.Contains(err.Error(), "duplicate column name")
}

func (b *Builder) collegeColumn(name string) (types.ColumnDescriptor, bool) {
	for _, c := range b.college {
		if c.Name == name {
			return c, true
		}
	}
	return types.ColumnDescriptor{}, false
}

// State reads the build progress flags.
func (b *Builder) State(ctx context.Context) (BuildState, error) {
	return ReadState(ctx, b.db)
}

// ReadState reads build progress flags from any handle on the database.
func ReadState(ctx context.Context, q queryer) (BuildState, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, value FROM _scorecard_state")
	if err != nil {
		return BuildState{}, fmt.Errorf("store: failed to read state: %w", err)
	}
	defer rows.Close()

	var st BuildState
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return BuildState{}, fmt.Errorf("store: failed to scan state: %w", err)
		}
		switch {
		case key == stateSchemaBuilt:
			st.SchemaBuilt = value == "true"
		case strings.HasPrefix(key, statePopulatedPrefix):
			year, err := strconv.Atoi(strings.TrimPrefix(key, statePopulatedPrefix))
			if err == nil {
				st.Populated = append(st.Populated, year)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return BuildState{}, err
	}
	sort.Ints(st.Populated)
	return st, nil
}

func (b *Builder) requireSchema(ctx context.Context) error {
	st, err := b.State(ctx)
	if err != nil {
		return err
	}
	if !st.SchemaBuilt {
		return scerrors.NewStoreError(scerrors.CodeInvalidState, "schema has not been built", nil)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func setState(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO _scorecard_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: failed to record state %s: %w", key, err)
	}
	return nil
}
