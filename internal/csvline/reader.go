package csvline

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding selects how raw bytes are turned into text.
type Encoding string

const (
	// Latin1 maps every byte to one rune, so no file can fail to decode.
	Latin1 Encoding = "latin1"
	// UTF8 decodes UTF-8 and replaces invalid sequences.
	UTF8 Encoding = "utf8"
)

// maxLineBytes bounds a single raw row. Merged Scorecard rows run to
// roughly 1,700 fields.
const maxLineBytes = 16 * 1024 * 1024

// decoderFor returns the byte decoder for enc. In both modes a leading
// byte-order mark switches to the matching Unicode decoding and is stripped.
func decoderFor(enc Encoding) (transform.Transformer, error) {
	switch enc {
	case Latin1, "":
		return unicode.BOMOverride(charmap.ISO8859_1.NewDecoder()), nil
	case UTF8:
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("csvline: unsupported encoding %q", enc)
	}
}

// Reader yields split rows from a raw file. The first row is the header.
type Reader struct {
	path    string
	file    io.Closer
	scanner *bufio.Scanner
	header  []string
	line    int
}

// Open opens path and reads its header row.
func Open(path string, enc Encoding) (*Reader, error) {
	dec, err := decoderFor(enc)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvline: failed to open %s: %w", path, err)
	}

	r, err := NewReader(path, transform.NewReader(f, dec), f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader wraps an already-decoded text stream and reads its header row.
// closer may be nil.
func NewReader(name string, src io.Reader, closer io.Closer) (*Reader, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	r := &Reader{
		path:    name,
		file:    closer,
		scanner: scanner,
	}
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	fields, err := r.Next()
	if err == io.EOF {
		return fmt.Errorf("csvline: %s has no header row", r.path)
	}
	if err != nil {
		return err
	}
	r.header = fields
	return nil
}

// Header returns the header row.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next non-empty row, or io.EOF.
func (r *Reader) Next() ([]string, error) {
	for r.scanner.Scan() {
		r.line++
		text := r.scanner.Text()
		if text == "" || text == "\r" {
			continue
		}
		return Split(text), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("csvline: failed to read %s at line %d: %w", r.path, r.line+1, err)
	}
	return nil, io.EOF
}

// Line returns the 1-based number of the row most recently returned by Next.
func (r *Reader) Line() int {
	return r.line
}

// Path returns the name the reader was opened with.
func (r *Reader) Path() string {
	return r.path
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
