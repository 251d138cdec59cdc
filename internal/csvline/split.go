// Package csvline reads Scorecard raw files line by line.
//
// The raw releases are not RFC 4180 CSV: fields are split on commas, and a
// comma only survives as data when it sits between a matching pair of double
// quotes on the same line. The quotes themselves are dropped from the value.
package csvline

import "strings"

// Split breaks one raw line into fields. Commas between a matching pair of
// double quotes belong to the value; the quote characters are removed. A
// trailing unmatched quote is kept as a literal and protects nothing.
// Trailing CR/LF characters are trimmed before splitting.
func Split(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	if !strings.Contains(line, `"`) {
		return strings.Split(line, ",")
	}

	// Quotes after lastPaired have no closing partner.
	quotes := strings.Count(line, `"`)
	lastPaired := len(line)
	if quotes%2 == 1 {
		lastPaired = strings.LastIndex(line, `"`)
	}

	fields := make([]string, 0, strings.Count(line, ",")+1)
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && i < lastPaired:
			inQuote = !inQuote
		case c == ',' && !inQuote:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	fields = append(fields, b.String())
	return fields
}
