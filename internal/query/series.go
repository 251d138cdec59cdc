package query

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/internal/store"
	"github.com/sacline/collegescvis/pkg/types"
)

// SeriesRequest selects one metric for one college over an inclusive span of years.
type SeriesRequest struct {
	College   string
	Metric    string
	StartYear int
	EndYear   int
}

// Point is one value of a series. Value is int64, float64 or string.
type Point struct {
	Year  int         `json:"year"`
	Value interface{} `json:"value"`
}

// Float returns the point's value as a float64 when it is numeric.
func (p Point) Float() (float64, bool) {
	switch v := p.Value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Series is the result of a SeriesRequest.
type Series struct {
	College      string  `json:"college"`
	Metric       Metric  `json:"metric"`
	CollegeLevel bool    `json:"college_level"`
	Points       []Point `json:"points"`

	// Empty is set when no year produced a value
	Empty bool `json:"empty"`

	// YearsPruned counts year tables skipped by their coverage filter
	YearsPruned int `json:"years_pruned"`
}

// Validate checks the request bounds.
func (req SeriesRequest) Validate() error {
	if req.College == "" {
		return scerrors.NewInvalidInput("college name is required")
	}
	if req.Metric == "" {
		return scerrors.NewInvalidInput("metric name is required")
	}
	if req.StartYear > req.EndYear {
		return scerrors.NewInvalidInput(fmt.Sprintf("start year %d is after end year %d", req.StartYear, req.EndYear))
	}
	return nil
}

// Series fetches req.Metric for req.College. A college-level metric yields its
// single value at every year of the span. A year-level metric yields one point
// per year table that holds a non-NULL value. Finding nothing is not an error.
func (r *Reader) Series(ctx context.Context, req SeriesRequest) (Series, error) {
	if err := req.Validate(); err != nil {
		return Series{}, err
	}
	metricName, err := store.Sanitize(req.Metric)
	if err != nil {
		return Series{}, err
	}

	metrics, err := r.Metrics(ctx)
	if err != nil {
		return Series{}, err
	}
	metric, collegeLevel, ok := metrics.Lookup(metricName)
	if !ok {
		return Series{}, scerrors.NewNotFound(fmt.Sprintf("metric %s does not exist", metricName), nil)
	}

	out := Series{College: req.College, Metric: metric, CollegeLevel: collegeLevel}
	if collegeLevel {
		err = r.collegeSeries(ctx, req, &out)
	} else {
		err = r.yearSeries(ctx, req, &out)
	}
	if err != nil {
		return Series{}, err
	}

	if len(out.Points) == 0 {
		out.Empty = true
		log.Printf("query: no data found for %q %s in %d-%d", req.College, metric.Name, req.StartYear, req.EndYear)
	}
	return out, nil
}

func (r *Reader) collegeSeries(ctx context.Context, req SeriesRequest, out *Series) error {
	names, err := quoteAll(out.Metric.Name, store.CollegeTable, r.opts.NameColumn, store.CollegeIDColumn)
	if err != nil {
		return err
	}
	metric, table, name, idCol := names[0], names[1], names[2], names[3]

	var value interface{}
	err = r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? ORDER BY %s LIMIT 1`, metric, table, name, idCol),
		req.College).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return scerrors.NewQueryError(scerrors.CodeUnexpected, fmt.Sprintf("failed to read %s: %v", out.Metric.Name, err))
	}
	value = normalize(value)
	if value == nil {
		return nil
	}
	for year := req.StartYear; year <= req.EndYear; year++ {
		out.Points = append(out.Points, Point{Year: year, Value: value})
	}
	return nil
}

func (r *Reader) yearSeries(ctx context.Context, req SeriesRequest, out *Series) error {
	id, ok, err := r.collegeID(ctx, req.College)
	if err != nil || !ok {
		return err
	}

	years, err := r.YearTables(ctx)
	if err != nil {
		return err
	}
	names, err := quoteAll(out.Metric.Name, store.CollegeIDColumn)
	if err != nil {
		return err
	}
	metric, idCol := names[0], names[1]

	r.refreshCoverage(ctx)
	span := types.YearRange{Start: req.StartYear, End: req.EndYear}
	for _, year := range years {
		if !span.Contains(year) {
			continue
		}
		if f := r.coverageFor(ctx, year); f != nil && !f.MayContain(id) {
			out.YearsPruned++
			continue
		}

		table, err := store.QuoteIdent(types.TableName(year))
		if err != nil {
			return err
		}
		var value interface{}
		err = r.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, metric, table, idCol),
			id).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return scerrors.NewQueryError(scerrors.CodeUnexpected,
				fmt.Sprintf("failed to read %s for %d: %v", out.Metric.Name, year, err))
		}
		if value = normalize(value); value != nil {
			out.Points = append(out.Points, Point{Year: year, Value: value})
		}
	}
	return nil
}

// collegeID resolves a college name to its surrogate key. Duplicate names
// resolve to the earliest loaded college.
func (r *Reader) collegeID(ctx context.Context, college string) (int64, bool, error) {
	names, err := quoteAll(store.CollegeIDColumn, store.CollegeTable, r.opts.NameColumn)
	if err != nil {
		return 0, false, err
	}
	idCol, table, name := names[0], names[1], names[2]

	var id int64
	err = r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? ORDER BY %s LIMIT 1`, idCol, table, name, idCol),
		college).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, scerrors.NewQueryError(scerrors.CodeUnexpected, fmt.Sprintf("failed to find college: %v", err))
	}
	return id, true, nil
}

// quoteAll passes every identifier through store.QuoteIdent.
func quoteAll(names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := store.QuoteIdent(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
