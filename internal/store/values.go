package store

import (
	"strconv"
	"strings"

	"github.com/sacline/collegescvis/internal/decoder"
	"github.com/sacline/collegescvis/pkg/types"
)

// coerceValue converts a raw cell to the value bound for a column of type typ.
// Sentinels become NULL. Numeric columns store the parsed number, or the raw
// text when a later file carries a value the decoder never saw.
func coerceValue(raw string, typ types.DataType) interface{} {
	if !decoder.IsUsable(raw) {
		return nil
	}
	switch typ {
	case types.Integer, types.Real:
		s := strings.TrimSpace(raw)
		if s == "" {
			return nil
		}
		if typ == types.Integer {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return v
			}
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return raw
	default:
		return raw
	}
}

// keyString normalizes a key value so that a raw cell and the stored College
// value compare equal ("00100" and 100 both become "100" for INTEGER keys).
func keyString(v interface{}) string {
	switch k := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(k, 10)
	case float64:
		if k == float64(int64(k)) {
			return strconv.FormatInt(int64(k), 10)
		}
		return strconv.FormatFloat(k, 'g', -1, 64)
	case []byte:
		return string(k)
	case string:
		return k
	default:
		return ""
	}
}
