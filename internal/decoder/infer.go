package decoder

import (
	"strconv"
	"strings"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/pkg/types"
)

// Sentinel values mark a cell as carrying no usable data.
const (
	SentinelNull    = "NULL"
	SentinelPrivacy = "PrivacySuppressed"
)

// ZipColumnIndex is the raw position of the institution's postal code.
const ZipColumnIndex = 6

// IsUsable reports whether a raw cell holds data rather than a sentinel.
func IsUsable(value string) bool {
	return value != SentinelNull && value != SentinelPrivacy
}

// ValueCounts tallies the cells of one column.
type ValueCounts struct {
	Values  int
	Privacy int
	Null    int
}

// TypeRule accepts the raw values that can be stored as Type.
type TypeRule struct {
	Type    types.DataType
	Accepts func(value string) bool
}

// InferenceRules are tried in order; the first rule accepting every usable
// value of a column wins. A column no rule accepts is TEXT.
var InferenceRules = []TypeRule{
	{Type: types.Integer, Accepts: isIntegerLiteral},
	{Type: types.Real, Accepts: isRealLiteral},
}

// TypeOverride pins a raw column index to a fixed type regardless of its values.
type TypeOverride struct {
	Index  int
	Type   types.DataType
	Reason string
}

// DefaultOverrides lists the columns whose inferred type is never trusted.
var DefaultOverrides = []TypeOverride{
	{Index: ZipColumnIndex, Type: types.Text, Reason: "postal codes keep leading zeros and ZIP+4 forms"},
}

func isIntegerLiteral(v string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return err == nil
}

func isRealLiteral(v string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return err == nil
}

// typeTracker infers a column type incrementally, one value at a time.
type typeTracker struct {
	counts   ValueCounts
	rejected []bool
}

func newTypeTracker() *typeTracker {
	return &typeTracker{rejected: make([]bool, len(InferenceRules))}
}

func (t *typeTracker) observe(value string) {
	switch value {
	case SentinelNull:
		t.counts.Null++
		return
	case SentinelPrivacy:
		t.counts.Privacy++
		return
	}
	t.counts.Values++
	for i, rule := range InferenceRules {
		if !t.rejected[i] && !rule.Accepts(value) {
			t.rejected[i] = true
		}
	}
}

func (t *typeTracker) usable() bool {
	return t.counts.Values > 0
}

func (t *typeTracker) result() types.DataType {
	for i, rule := range InferenceRules {
		if !t.rejected[i] {
			return rule.Type
		}
	}
	return types.Text
}

func validateEntry(entry []string) error {
	if len(entry) == 0 {
		return scerrors.NewInvalidInput("scorecard entry is empty")
	}
	return nil
}

// ReadValues counts usable, privacy-suppressed and null cells of an entry.
// entry[0] is the column name and is not counted.
func ReadValues(entry []string) (ValueCounts, error) {
	if err := validateEntry(entry); err != nil {
		return ValueCounts{}, err
	}
	t := newTypeTracker()
	for _, v := range entry[1:] {
		t.observe(v)
	}
	return t.counts, nil
}

// InferType returns the storage class for an entry of the form
// [name, value1, value2, ...]. Sentinel values are ignored.
func InferType(entry []string) (types.DataType, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}
	t := newTypeTracker()
	for _, v := range entry[1:] {
		t.observe(v)
	}
	return t.result(), nil
}

// overrideFor returns the pinned type for a raw column index, if any.
func overrideFor(overrides []TypeOverride, index int) (types.DataType, bool) {
	for _, o := range overrides {
		if o.Index == index {
			return o.Type, true
		}
	}
	return "", false
}
