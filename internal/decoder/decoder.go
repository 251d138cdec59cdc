// Package decoder infers a column-to-SQL-type mapping from raw Scorecard files.
//
// Files are processed in lexicographic order. The first file in which a column
// index carries usable data fixes that column's name and type; later files
// never revisit it. The result is a types.SchemaDescriptor sorted by index.
package decoder

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"

	"github.com/sacline/collegescvis/internal/csvline"
	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/pkg/types"
)

// Options configures a Decoder.
type Options struct {
	// Encoding is applied uniformly to every raw file
	Encoding csvline.Encoding

	// Overrides pin column indices to fixed types
	Overrides []TypeOverride
}

// DefaultOptions returns the options used for the Scorecard merged releases.
func DefaultOptions() Options {
	return Options{
		Encoding:  csvline.Latin1,
		Overrides: DefaultOverrides,
	}
}

// Decoder derives a SchemaDescriptor from raw files.
type Decoder struct {
	opts Options
}

// New creates a decoder.
func New(opts Options) *Decoder {
	if opts.Encoding == "" {
		opts.Encoding = csvline.Latin1
	}
	return &Decoder{opts: opts}
}

// ValidateSource checks that pattern is a string glob matching at least one
// file and returns the matches in lexicographic order.
func ValidateSource(pattern interface{}) ([]string, error) {
	p, ok := pattern.(string)
	if !ok {
		return nil, scerrors.NewInvalidInput(fmt.Sprintf("data path is not a string (got %T)", pattern))
	}
	matches, err := filepath.Glob(p)
	if err != nil {
		return nil, scerrors.NewInvalidInput(fmt.Sprintf("malformed data path pattern %q: %v", p, err))
	}
	if len(matches) == 0 {
		return nil, scerrors.NewNotFound(fmt.Sprintf("no raw data files found for %q", p), nil)
	}
	sort.Strings(matches)
	return matches, nil
}

// DecodePattern validates pattern and decodes every matching file.
func (d *Decoder) DecodePattern(pattern interface{}) (types.SchemaDescriptor, error) {
	files, err := ValidateSource(pattern)
	if err != nil {
		return types.SchemaDescriptor{}, err
	}
	return d.Decode(files)
}

// Decode infers the schema of files. The input slice is not modified.
func (d *Decoder) Decode(files []string) (types.SchemaDescriptor, error) {
	ordered := append([]string(nil), files...)
	sort.Strings(ordered)

	var schema types.SchemaDescriptor
	claimed := make(map[int]bool)
	names := make(map[string]bool)

	for _, path := range ordered {
		found, err := d.decodeFile(path, claimed)
		if err != nil {
			return types.SchemaDescriptor{}, err
		}
		for _, col := range found {
			if names[col.Name] {
				continue
			}
			names[col.Name] = true
			claimed[col.Index] = true
			schema.Columns = append(schema.Columns, col)
		}
	}

	schema.Sort()
	return schema, nil
}

// decodeFile returns a descriptor for every unclaimed column of path that
// holds at least one usable value.
func (d *Decoder) decodeFile(path string, claimed map[int]bool) ([]types.ColumnDescriptor, error) {
	log.Printf("decoder: reading %s", path)

	r, err := csvline.Open(path, d.opts.Encoding)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header := r.Header()
	trackers := make([]*typeTracker, len(header))
	for i := range header {
		if !claimed[i] {
			trackers[i] = newTypeTracker()
		}
	}

	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) != len(header) {
			return nil, scerrors.NewDecodeError(scerrors.CodeMalformedRow,
				fmt.Sprintf("%s line %d has %d fields, header has %d", path, r.Line(), len(row), len(header)), nil).
				WithDetails(map[string]interface{}{"path": path, "line": r.Line()})
		}
		for i, v := range row {
			if t := trackers[i]; t != nil {
				t.observe(v)
			}
		}
	}

	var found []types.ColumnDescriptor
	for i, t := range trackers {
		if t == nil || !t.usable() {
			continue
		}
		if header[i] == "" {
			log.Printf("[WARN] decoder: %s column %d has data but no header name, skipping", path, i)
			continue
		}
		typ := t.result()
		if forced, ok := overrideFor(d.opts.Overrides, i); ok {
			typ = forced
		}
		found = append(found, types.ColumnDescriptor{Name: header[i], Type: typ, Index: i})
	}

	log.Printf("decoder: %d data types added to list from %s", len(found), filepath.Base(path))
	return found, nil
}
