package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sacline/collegescvis/internal/bloom"
	"github.com/sacline/collegescvis/pkg/types"
)

// CoverageFPR is the target false positive rate of year coverage filters.
const CoverageFPR = 0.01

// rebuildCoverage recomputes the college_id filter for year from the rows
// currently in its table.
func rebuildCoverage(ctx context.Context, tx *sql.Tx, year int) error {
	names, err := quoteIdents([]string{types.TableName(year), CollegeIDColumn})
	if err != nil {
		return err
	}
	table, idCol := names[0], names[1]

	var n int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return fmt.Errorf("store: failed to count %s: %w", table, err)
	}
	filter := bloom.NewWithEstimates(n, CoverageFPR)

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", idCol, table))
	if err != nil {
		return fmt.Errorf("store: failed to scan %s for coverage: %w", table, err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("store: failed to read college_id: %w", err)
		}
		filter.Add(id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO _scorecard_coverage (year, bloom_data, num_bits, num_hashes, item_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(year) DO UPDATE SET
		   bloom_data = excluded.bloom_data,
		   num_bits = excluded.num_bits,
		   num_hashes = excluded.num_hashes,
		   item_count = excluded.item_count,
		   updated_at = excluded.updated_at`,
		year, filter.Encode(), filter.NumBits(), filter.NumHashes(), int64(filter.Count()), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: failed to save coverage for %d: %w", year, err)
	}
	return nil
}

// LoadCoverage returns the coverage filter for year. ok is false when the
// year has never been ingested.
func LoadCoverage(ctx context.Context, q queryer, year int) (filter *bloom.Filter, ok bool, err error) {
	var data []byte
	err = q.QueryRowContext(ctx, "SELECT bloom_data FROM _scorecard_coverage WHERE year = ?", year).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: failed to read coverage for %d: %w", year, err)
	}
	filter, err = bloom.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("store: corrupt coverage for %d: %w", year, err)
	}
	return filter, true, nil
}
