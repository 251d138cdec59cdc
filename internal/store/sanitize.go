package store

import (
	"fmt"
	"strings"

	scerrors "github.com/sacline/collegescvis/internal/errors"
)

// unsafeChars may alter statement structure when interpolated into SQL.
const unsafeChars = `"';\/`

// Sanitize returns identifier unchanged if it is a string free of the
// characters " ' ; \ and /. Table names, column names and type names cannot
// be bound as parameters, so every one of them passes through here before it
// reaches SQL text.
func Sanitize(identifier interface{}) (string, error) {
	s, ok := identifier.(string)
	if !ok {
		return "", scerrors.NewInvalidInput(fmt.Sprintf("identifier is not a string (got %T)", identifier))
	}
	if i := strings.IndexAny(s, unsafeChars); i >= 0 {
		return "", scerrors.NewUnsafeIdentifier(fmt.Sprintf("identifier %q contains %q", s, s[i])).
			WithDetails(map[string]interface{}{"identifier": s, "position": i})
	}
	return s, nil
}

// QuoteIdent sanitizes name and wraps it in double quotes. Sanitize rejects
// embedded double quotes, so the result is always a single SQL identifier.
func QuoteIdent(name string) (string, error) {
	s, err := Sanitize(name)
	if err != nil {
		return "", err
	}
	return `"` + s + `"`, nil
}

// quoteIdents quotes every name, failing on the first unsafe one.
func quoteIdents(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := QuoteIdent(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}
