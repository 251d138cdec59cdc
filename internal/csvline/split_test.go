package csvline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{`a,"b,c",d`, []string{"a", "b,c", "d"}},
		{"a,b,c\n", []string{"a", "b", "c"}},
		{"a,b,c\r\n", []string{"a", "b", "c"}},
		{`"Alabama A & M University","Normal, AL",35762`, []string{"Alabama A & M University", "Normal, AL", "35762"}},
		{`x,"one, two, three",y,"four,five"`, []string{"x", "one, two, three", "y", "four,five"}},
		{`a,,c`, []string{"a", "", "c"}},
		{`a,b,`, []string{"a", "b", ""}},
		{`a,"",c`, []string{"a", "", "c"}},
		{`a,b"c,d`, []string{"a", `b"c`, "d"}},
		{"", []string{""}},
	}

	for _, tt := range tests {
		got := Split(tt.line)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Split(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

// TestProperty_SplitQuotedFields checks that quoting any field keeps its
// commas intact and never changes the field count.
func TestProperty_SplitQuotedFields(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	field := gen.RegexMatch(`[a-zA-Z0-9 ,.-]{0,12}`)

	properties.Property("quoted fields round trip through Split", prop.ForAll(
		func(fields []string) bool {
			if len(fields) == 0 {
				return true
			}
			quoted := make([]string, len(fields))
			for i, f := range fields {
				quoted[i] = `"` + f + `"`
			}
			got := Split(strings.Join(quoted, ",") + "\n")
			return reflect.DeepEqual(got, fields)
		},
		gen.SliceOf(field),
	))

	properties.Property("unquoted comma-free fields split exactly", prop.ForAll(
		func(fields []string) bool {
			if len(fields) == 0 {
				return true
			}
			return reflect.DeepEqual(Split(strings.Join(fields, ",")), fields)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
