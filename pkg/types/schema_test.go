package types

import (
	"encoding/json"
	"testing"
)

func TestSchemaDescriptor_JSONFormat(t *testing.T) {
	s := SchemaDescriptor{Columns: []ColumnDescriptor{
		{Name: "UNITID", Type: Integer, Index: 0},
		{Name: "OPEID", Type: Text, Index: 1},
	}}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `[["UNITID","INTEGER",0],["OPEID","TEXT",1]]`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var back SchemaDescriptor
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(back.Columns) != 2 || back.Columns[1] != s.Columns[1] {
		t.Errorf("decoded %+v, want %+v", back.Columns, s.Columns)
	}
}

func TestSchemaDescriptor_EmptyEncodesAsArray(t *testing.T) {
	data, err := json.Marshal(SchemaDescriptor{})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("got %s, want []", data)
	}
}

func TestColumnDescriptor_UnmarshalRejectsWrongArity(t *testing.T) {
	var c ColumnDescriptor
	if err := json.Unmarshal([]byte(`["UNITID","INTEGER"]`), &c); err == nil {
		t.Error("expected error for two-element triple")
	}
	if err := json.Unmarshal([]byte(`{"name":"UNITID"}`), &c); err == nil {
		t.Error("expected error for object form")
	}
}

func TestSchemaDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cols    []ColumnDescriptor
		wantErr bool
	}{
		{"valid", []ColumnDescriptor{{"A", Integer, 0}, {"B", Real, 3}}, false},
		{"empty", nil, false},
		{"out of order", []ColumnDescriptor{{"A", Integer, 3}, {"B", Real, 1}}, true},
		{"duplicate index", []ColumnDescriptor{{"A", Integer, 1}, {"B", Real, 1}}, true},
		{"duplicate name", []ColumnDescriptor{{"A", Integer, 0}, {"A", Real, 1}}, true},
		{"bad type", []ColumnDescriptor{{"A", DataType("BLOB"), 0}}, true},
		{"empty name", []ColumnDescriptor{{"", Text, 0}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SchemaDescriptor{Columns: tt.cols}.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPartition_Split(t *testing.T) {
	s := SchemaDescriptor{Columns: []ColumnDescriptor{
		{"UNITID", Integer, 0},
		{"INSTNM", Text, 3},
		{"ZIP", Text, 6},
		{"ADM_RATE", Real, 36},
		{"SAT_AVG", Integer, 59},
	}}

	college, year := DefaultPartition().Split(s)
	if len(college) != 3 {
		t.Errorf("expected 3 college-level columns, got %d", len(college))
	}
	if len(year) != 2 || year[0].Name != "ADM_RATE" {
		t.Errorf("unexpected year-level columns: %+v", year)
	}
}

func TestYearRange(t *testing.T) {
	r := YearRange{Start: 1999, End: 2001}
	years := r.Years()
	if len(years) != 3 || years[0] != 1999 || years[2] != 2001 {
		t.Errorf("Years() = %v", years)
	}
	if !r.Contains(2000) || r.Contains(2002) {
		t.Error("Contains mismatch")
	}
	if (YearRange{Start: 2005, End: 2000}).Years() != nil {
		t.Error("inverted range should have no years")
	}
	if TableName(1999) != "1999" {
		t.Errorf("TableName(1999) = %q", TableName(1999))
	}
}
