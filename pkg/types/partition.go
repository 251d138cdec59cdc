package types

import "strconv"

// DefaultCollegeCutoff is the first raw column index holding a year-varying
// metric. Columns 0..35 of the Scorecard layout describe the institution itself.
const DefaultCollegeCutoff = 36

// Partition splits a schema into college-level and year-level columns.
type Partition struct {
	// CollegeCutoff is the partition boundary: Index < CollegeCutoff is college-level
	CollegeCutoff int `json:"college_cutoff" yaml:"college_cutoff"`
}

// DefaultPartition returns the partition matching the Scorecard raw layout.
func DefaultPartition() Partition {
	return Partition{CollegeCutoff: DefaultCollegeCutoff}
}

// IsCollegeLevel reports whether a column describes a static institutional attribute.
func (p Partition) IsCollegeLevel(c ColumnDescriptor) bool {
	return c.Index < p.CollegeCutoff
}

// Split returns the college-level and year-level columns, each in schema order.
func (p Partition) Split(s SchemaDescriptor) (college, year []ColumnDescriptor) {
	for _, c := range s.Columns {
		if p.IsCollegeLevel(c) {
			college = append(college, c)
		} else {
			year = append(year, c)
		}
	}
	return college, year
}

// YearRange is an inclusive range of covered years.
type YearRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// DefaultYearRange returns the years covered by the Scorecard merged releases.
func DefaultYearRange() YearRange {
	return YearRange{Start: 1996, End: 2013}
}

// Contains reports whether year is inside the range.
func (r YearRange) Contains(year int) bool {
	return year >= r.Start && year <= r.End
}

// Years lists every year in the range in ascending order.
func (r YearRange) Years() []int {
	if r.End < r.Start {
		return nil
	}
	years := make([]int, 0, r.End-r.Start+1)
	for y := r.Start; y <= r.End; y++ {
		years = append(years, y)
	}
	return years
}

// TableName returns the year table name for year.
func TableName(year int) string {
	return strconv.Itoa(year)
}
