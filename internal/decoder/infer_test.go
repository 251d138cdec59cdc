package decoder

import (
	"errors"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/pkg/types"
)

func TestReadValues(t *testing.T) {
	tests := []struct {
		entry []string
		want  ValueCounts
	}{
		{[]string{"Category", "5", "8"}, ValueCounts{Values: 2}},
		{[]string{"Category", "5.323", "PrivacySuppressed", "NULL"}, ValueCounts{Values: 1, Privacy: 1, Null: 1}},
		{[]string{"Category"}, ValueCounts{}},
		{[]string{"Category", "", "NULL", "NULL"}, ValueCounts{Values: 1, Null: 2}},
	}

	for _, tt := range tests {
		got, err := ReadValues(tt.entry)
		if err != nil {
			t.Fatalf("ReadValues(%q) failed: %v", tt.entry, err)
		}
		if got != tt.want {
			t.Errorf("ReadValues(%q) = %+v, want %+v", tt.entry, got, tt.want)
		}
	}
}

func TestReadValues_EmptyEntry(t *testing.T) {
	_, err := ReadValues(nil)
	if !errors.Is(err, scerrors.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name  string
		entry []string
		want  types.DataType
	}{
		{"integer", []string{"Category", "5", "2", "6", "873", "NULL"}, types.Integer},
		{"real", []string{"Category", "8.32", "7.2345", "NULL", "5"}, types.Real},
		{"text", []string{"Category", "8.32", "text", "5", "NULL"}, types.Text},
		{"negative integers", []string{"Category", "-4", "12"}, types.Integer},
		{"sentinels only", []string{"Category", "PrivacySuppressed", "NULL"}, types.Integer},
		{"empty string is text", []string{"Category", "5", ""}, types.Text},
		{"exponent is real", []string{"Category", "1e3", "2"}, types.Real},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InferType(tt.entry)
			if err != nil {
				t.Fatalf("InferType failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("InferType(%q) = %s, want %s", tt.entry, got, tt.want)
			}
		})
	}
}

func TestInferType_EmptyEntry(t *testing.T) {
	if _, err := InferType([]string{}); !errors.Is(err, scerrors.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestOverrideFor(t *testing.T) {
	typ, ok := overrideFor(DefaultOverrides, ZipColumnIndex)
	if !ok || typ != types.Text {
		t.Errorf("zip column override = (%s, %v), want (TEXT, true)", typ, ok)
	}
	if _, ok := overrideFor(DefaultOverrides, 0); ok {
		t.Error("column 0 should not be overridden")
	}
}

// TestProperty_InferTypeLadder checks the integer -> real -> text ladder on
// generated columns.
func TestProperty_InferTypeLadder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("integer columns infer INTEGER", prop.ForAll(
		func(values []int64) bool {
			entry := []string{"COL", "NULL"}
			for _, v := range values {
				entry = append(entry, strconv.FormatInt(v, 10))
			}
			got, err := InferType(entry)
			return err == nil && got == types.Integer
		},
		gen.SliceOf(gen.Int64()),
	))

	properties.Property("one fractional value makes the column REAL", prop.ForAll(
		func(values []int64, f float64) bool {
			entry := []string{"COL"}
			for _, v := range values {
				entry = append(entry, strconv.FormatInt(v, 10))
			}
			entry = append(entry, strconv.FormatFloat(f+0.5, 'f', 3, 64))
			got, err := InferType(entry)
			return err == nil && got == types.Real
		},
		gen.SliceOf(gen.Int64Range(-100000, 100000)),
		gen.Float64Range(0, 1000),
	))

	properties.Property("one alphabetic value makes the column TEXT", prop.ForAll(
		func(values []float64, word string) bool {
			entry := []string{"COL"}
			for _, v := range values {
				entry = append(entry, strconv.FormatFloat(v, 'g', -1, 64))
			}
			entry = append(entry, "x"+word)
			got, err := InferType(entry)
			return err == nil && got == types.Text
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
