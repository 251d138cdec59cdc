package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/pkg/types"
)

// writeFiles writes name -> content pairs into a temp directory.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func lines(rows ...string) string {
	return strings.Join(rows, "\n") + "\n"
}

func TestValidateSource(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"merged_2001_PP.csv": lines("A", "1"),
		"merged_1999_PP.csv": lines("A", "1"),
	})

	files, err := ValidateSource(filepath.Join(dir, "merged_*.csv"))
	if err != nil {
		t.Fatalf("ValidateSource failed: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "merged_1999_PP.csv" {
		t.Errorf("expected sorted matches, got %v", files)
	}
}

func TestValidateSource_EmptyPath(t *testing.T) {
	_, err := ValidateSource("")
	if !errors.Is(err, scerrors.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestValidateSource_NoMatches(t *testing.T) {
	_, err := ValidateSource(filepath.Join(t.TempDir(), "merged_*.csv"))
	if !errors.Is(err, scerrors.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestValidateSource_NonString(t *testing.T) {
	for _, bad := range []interface{}{5, []string{"path"}, nil} {
		if _, err := ValidateSource(bad); !errors.Is(err, scerrors.ErrInvalidInput) {
			t.Errorf("ValidateSource(%v): expected InvalidInput, got %v", bad, err)
		}
	}
}

func TestDecode_InfersTypesAndDropsEmptyColumns(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"merged_2000_PP.csv": lines(
			"UNITID,OPEID,INSTNM,CITY,STABBR,EMPTY,ZIP,ADM_RATE",
			`100654,00100200,"Alabama A & M University, Main",Normal,AL,NULL,35762,0.65`,
			`100663,00105200,University of Alabama at Birmingham,Birmingham,AL,PrivacySuppressed,35294-0110,NULL`,
			`100690,02503400,Amridge University,Montgomery,AL,NULL,36117,1`,
		),
	})

	schema, err := New(DefaultOptions()).DecodePattern(filepath.Join(dir, "*.csv"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	want := []types.ColumnDescriptor{
		{Name: "UNITID", Type: types.Integer, Index: 0},
		{Name: "OPEID", Type: types.Integer, Index: 1},
		{Name: "INSTNM", Type: types.Text, Index: 2},
		{Name: "CITY", Type: types.Text, Index: 3},
		{Name: "STABBR", Type: types.Text, Index: 4},
		{Name: "ZIP", Type: types.Text, Index: 6},
		{Name: "ADM_RATE", Type: types.Real, Index: 7},
	}
	if len(schema.Columns) != len(want) {
		t.Fatalf("got %d columns %+v, want %d", len(schema.Columns), schema.Columns, len(want))
	}
	for i := range want {
		if schema.Columns[i] != want[i] {
			t.Errorf("column %d = %+v, want %+v", i, schema.Columns[i], want[i])
		}
	}
}

func TestDecode_FirstOccurrenceWins(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		// Sorted first: column 1 is empty here, so 2001 decides its type.
		"merged_1999_PP.csv": lines("UNITID,SAT_AVG,NAME", "1,NULL,a", "2,NULL,b"),
		"merged_2001_PP.csv": lines("UNITID,SAT_AVG,NAME", "1,1100.5,a", "2,NULL,b"),
		// Sorted last: UNITID would now look like TEXT but is already claimed.
		"merged_2003_PP.csv": lines("UNITID,SAT_AVG,NAME", "x1,900,a"),
	})

	files := []string{
		filepath.Join(dir, "merged_2003_PP.csv"),
		filepath.Join(dir, "merged_1999_PP.csv"),
		filepath.Join(dir, "merged_2001_PP.csv"),
	}
	schema, err := New(DefaultOptions()).Decode(files)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got := map[string]types.DataType{}
	for _, c := range schema.Columns {
		got[c.Name] = c.Type
	}
	if got["UNITID"] != types.Integer {
		t.Errorf("UNITID = %s, want INTEGER", got["UNITID"])
	}
	if got["SAT_AVG"] != types.Real {
		t.Errorf("SAT_AVG = %s, want REAL", got["SAT_AVG"])
	}
	if files[0] != filepath.Join(dir, "merged_2003_PP.csv") {
		t.Error("Decode must not reorder the caller's slice")
	}
}

func TestDecode_DuplicateNameSkipped(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.csv": lines("ID,VAL,VAL", "1,2,3"),
	})
	schema, err := New(DefaultOptions()).DecodePattern(filepath.Join(dir, "*.csv"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(schema.Columns) != 2 || schema.Columns[1].Index != 1 {
		t.Errorf("expected first VAL to win, got %+v", schema.Columns)
	}
}

func TestDecode_ShortRowIsFatal(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.csv": lines("A,B,C", "1,2,3", "4,5"),
	})
	_, err := New(DefaultOptions()).DecodePattern(filepath.Join(dir, "*.csv"))
	if scerrors.GetCode(err) != scerrors.CodeMalformedRow {
		t.Errorf("expected MALFORMED_ROW, got %v", err)
	}
}

func TestDecode_CustomOverrides(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.csv": lines("A,B", "1,2"),
	})
	opts := DefaultOptions()
	opts.Overrides = []TypeOverride{{Index: 1, Type: types.Real, Reason: "test"}}

	schema, err := New(opts).DecodePattern(filepath.Join(dir, "*.csv"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if schema.Columns[1].Type != types.Real {
		t.Errorf("override not applied: %+v", schema.Columns[1])
	}
}

func TestDecode_Deterministic(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"merged_1997_PP.csv": lines("UNITID,NAME,ZIP,X", "1,a,01234,NULL", "2,b,02134,NULL"),
		"merged_1998_PP.csv": lines("UNITID,NAME,ZIP,X", "1,a,01234,0.5", "2,\"b, c\",02134,7"),
		"merged_1999_PP.csv": lines("UNITID,NAME,ZIP,X", "1,a,01234,3", "2,b,02134,PrivacySuppressed"),
	})
	pattern := filepath.Join(dir, "merged_*.csv")

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		schema, err := New(DefaultOptions()).DecodePattern(pattern)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		data, err := json.Marshal(schema)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		outputs = append(outputs, data)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Errorf("decode is not deterministic:\n%s\n%s", outputs[0], outputs[1])
	}
	want := `[["UNITID","INTEGER",0],["NAME","TEXT",1],["ZIP","INTEGER",2],["X","REAL",3]]`
	if string(outputs[0]) != want {
		t.Errorf("got %s, want %s", outputs[0], want)
	}
}

func TestSchemaFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp", "data_types.txt")
	s := types.SchemaDescriptor{Columns: []types.ColumnDescriptor{
		{Name: "UNITID", Type: types.Integer, Index: 0},
		{Name: "ZIP", Type: types.Text, Index: 6},
	}}

	if err := WriteSchema(path, s); err != nil {
		t.Fatalf("WriteSchema failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if bytes.Count(data, []byte("\n")) != 0 {
		t.Error("schema file should be a single line")
	}

	back, err := ReadSchema(path)
	if err != nil {
		t.Fatalf("ReadSchema failed: %v", err)
	}
	if len(back.Columns) != 2 || back.Columns[1] != s.Columns[1] {
		t.Errorf("got %+v", back.Columns)
	}
}

func TestReadSchema_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadSchema(filepath.Join(dir, "missing.txt")); !errors.Is(err, scerrors.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	bad := filepath.Join(dir, "bad.txt")
	os.WriteFile(bad, []byte(`[["A","INTEGER",2],["B","TEXT",1]]`), 0644)
	if _, err := ReadSchema(bad); !errors.Is(err, scerrors.ErrInvalidInput) {
		t.Errorf("expected InvalidInput for unsorted schema, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.txt")
	os.WriteFile(garbage, []byte(`not json`), 0644)
	if _, err := ReadSchema(garbage); !errors.Is(err, scerrors.ErrInvalidInput) {
		t.Errorf("expected InvalidInput for garbage, got %v", err)
	}
}

func TestWriteSchema_RejectsInvalid(t *testing.T) {
	s := types.SchemaDescriptor{Columns: []types.ColumnDescriptor{
		{Name: "A", Type: types.Integer, Index: 0},
		{Name: "A", Type: types.Integer, Index: 1},
	}}
	if err := WriteSchema(filepath.Join(t.TempDir(), "x.txt"), s); err == nil {
		t.Error("expected error for duplicate names")
	}
}
