// Package types holds the schema vocabulary shared by the decoder, the
// builder and the query side: column descriptors, data types, the
// college/year partition and the covered year range.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DataType is the SQLite storage class inferred for a column.
type DataType string

const (
	Integer DataType = "INTEGER"
	Real    DataType = "REAL"
	Text    DataType = "TEXT"
)

// Valid reports whether t is one of the supported storage classes.
func (t DataType) Valid() bool {
	switch t {
	case Integer, Real, Text:
		return true
	}
	return false
}

// ColumnDescriptor describes one raw column that carries usable data.
// It serializes as the triple ["UNITID","INTEGER",0].
type ColumnDescriptor struct {
	// Name is the header text of the column in the raw file
	Name string

	// Type is the inferred storage class
	Type DataType

	// Index is the position of the column in the raw header row
	Index int
}

// MarshalJSON encodes the descriptor as a [name, type, index] triple.
func (c ColumnDescriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Name, string(c.Type), c.Index})
}

// UnmarshalJSON decodes a [name, type, index] triple.
func (c *ColumnDescriptor) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("column descriptor: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("column descriptor: expected 3 elements, got %d", len(raw))
	}
	var typ string
	if err := json.Unmarshal(raw[0], &c.Name); err != nil {
		return fmt.Errorf("column descriptor: name: %w", err)
	}
	if err := json.Unmarshal(raw[1], &typ); err != nil {
		return fmt.Errorf("column descriptor: type: %w", err)
	}
	if err := json.Unmarshal(raw[2], &c.Index); err != nil {
		return fmt.Errorf("column descriptor: index: %w", err)
	}
	c.Type = DataType(typ)
	return nil
}

// SchemaDescriptor is the ordered list of usable columns found by the decoder.
// Columns are sorted by Index and names are unique.
type SchemaDescriptor struct {
	Columns []ColumnDescriptor
}

// MarshalJSON encodes the schema as a bare array of triples.
func (s SchemaDescriptor) MarshalJSON() ([]byte, error) {
	cols := s.Columns
	if cols == nil {
		cols = []ColumnDescriptor{}
	}
	return json.Marshal(cols)
}

// UnmarshalJSON decodes a bare array of triples.
func (s *SchemaDescriptor) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.Columns)
}

// Sort orders the columns by source index.
func (s *SchemaDescriptor) Sort() {
	sort.SliceStable(s.Columns, func(i, j int) bool {
		return s.Columns[i].Index < s.Columns[j].Index
	})
}

// Has reports whether a column with the given name is present.
func (s SchemaDescriptor) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup returns the descriptor with the given name.
func (s SchemaDescriptor) Lookup(name string) (ColumnDescriptor, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// Validate checks ordering, uniqueness and type membership.
func (s SchemaDescriptor) Validate() error {
	names := make(map[string]struct{}, len(s.Columns))
	for i, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: column at position %d has empty name", i)
		}
		if !c.Type.Valid() {
			return fmt.Errorf("schema: column %q has unsupported type %q", c.Name, c.Type)
		}
		if c.Index < 0 {
			return fmt.Errorf("schema: column %q has negative index %d", c.Name, c.Index)
		}
		if i > 0 && s.Columns[i-1].Index >= c.Index {
			return fmt.Errorf("schema: column %q (index %d) is out of order", c.Name, c.Index)
		}
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("schema: duplicate column name %q", c.Name)
		}
		names[c.Name] = struct{}{}
	}
	return nil
}
