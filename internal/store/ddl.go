package store

import (
	"fmt"
	"strings"

	"github.com/sacline/collegescvis/pkg/types"
)

const (
	// CollegeTable holds one row per institution.
	CollegeTable = "College"

	// CollegeIDColumn is the surrogate key of CollegeTable and the primary
	// key of every year table.
	CollegeIDColumn = "college_id"
)

// Bookkeeping tables live next to the data tables and are excluded from the
// year-table listing by their prefix.
const BookkeepingPrefix = "_scorecard_"

// CreateRunsTableSQL records one row per successful IngestYear call.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS _scorecard_runs (
    run_id TEXT PRIMARY KEY,
    year INTEGER NOT NULL,
    source TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    rows_written INTEGER NOT NULL,
    rows_skipped INTEGER NOT NULL,
    schema_hash TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
)`

// addRunsSchemaHashSQL upgrades runs tables created before schema_hash.
const addRunsSchemaHashSQL = `ALTER TABLE _scorecard_runs ADD COLUMN schema_hash TEXT NOT NULL DEFAULT ''`

// CreateStateTableSQL holds build progress flags.
const CreateStateTableSQL = `
CREATE TABLE IF NOT EXISTS _scorecard_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

// CreateCoverageTableSQL stores one serialized bloom filter of college_ids
// per populated year.
const CreateCoverageTableSQL = `
CREATE TABLE IF NOT EXISTS _scorecard_coverage (
    year INTEGER PRIMARY KEY,
    bloom_data BLOB NOT NULL,
    num_bits INTEGER NOT NULL,
    num_hashes INTEGER NOT NULL,
    item_count INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

var bookkeepingTables = []string{
	CreateRunsTableSQL,
	CreateStateTableSQL,
	CreateCoverageTableSQL,
	`CREATE INDEX IF NOT EXISTS idx_scorecard_runs_year ON _scorecard_runs(year, created_at)`,
}

// State keys.
const (
	stateSchemaBuilt     = "schema_built"
	statePopulatedPrefix = "populated:"
)

func createCollegeTableSQL() (string, error) {
	t, err := QuoteIdent(CollegeTable)
	if err != nil {
		return "", err
	}
	id, err := QuoteIdent(CollegeIDColumn)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY AUTOINCREMENT)`, t, id), nil
}

func createYearTableSQL(year int) (string, error) {
	names, err := quoteIdents([]string{types.TableName(year), CollegeIDColumn, CollegeTable})
	if err != nil {
		return "", err
	}
	table, id, college := names[0], names[1], names[2]
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY REFERENCES %s(%s))`,
		table, id, college, id), nil
}

func addColumnSQL(table string, col types.ColumnDescriptor) (string, error) {
	if !col.Type.Valid() {
		return "", fmt.Errorf("store: column %s has unknown type %q", col.Name, col.Type)
	}
	t, err := QuoteIdent(table)
	if err != nil {
		return "", err
	}
	c, err := QuoteIdent(col.Name)
	if err != nil {
		return "", err
	}
	typ, err := Sanitize(string(col.Type))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t, c, typ), nil
}

func uniqueIndexSQL(table, column string) (string, error) {
	t, err := QuoteIdent(table)
	if err != nil {
		return "", err
	}
	c, err := QuoteIdent(column)
	if err != nil {
		return "", err
	}
	name, err := QuoteIdent("idx_" + table + "_" + column)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(%s)", name, t, c), nil
}

// upsertSQL builds an INSERT that updates every non-conflict column when a
// row with the same conflict key already exists.
func upsertSQL(table, conflict string, columns []string) (string, error) {
	t, err := QuoteIdent(table)
	if err != nil {
		return "", err
	}
	quoted, err := quoteIdents(columns)
	if err != nil {
		return "", err
	}
	key, err := QuoteIdent(conflict)
	if err != nil {
		return "", err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	var sets []string
	for _, q := range quoted {
		if q == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", q, q))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) ",
		t, strings.Join(quoted, ", "), placeholders, key)
	if len(sets) == 0 {
		return stmt + "DO NOTHING", nil
	}
	return stmt + "DO UPDATE SET " + strings.Join(sets, ", "), nil
}
