package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestScorecardError_Error(t *testing.T) {
	err := New(ErrCategoryValidation, CodeNotFound, "no raw data files found")
	expected := "[VALIDATION:NOT_FOUND] no raw data files found"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestScorecardError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := Wrap(ErrCategoryStore, CodeUnexpected, "open failed", cause)
	expected := "[STORE:UNEXPECTED] open failed: permission denied"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestScorecardError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewNotFound("schema file missing", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestScorecardError_Is(t *testing.T) {
	err1 := NewUnsafeIdentifier("column contains ;")
	err2 := NewUnsafeIdentifier("table contains /")
	err3 := NewInvalidInput("not a string")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
	if !errors.Is(err1, ErrUnsafeIdentifier) {
		t.Error("constructor output should match the sentinel")
	}
	if !errors.Is(fmt.Errorf("outer: %w", err3), ErrInvalidInput) {
		t.Error("wrapped error should still match the sentinel")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		fatal bool
	}{
		{nil, false},
		{NewStoreError(CodeStructureAlreadyExists, "duplicate column", nil), false},
		{NewStoreError(CodeMissingReferencedRow, "unknown college", nil), false},
		{NewInvalidInput("bad"), true},
		{NewNotFound("missing", nil), true},
		{NewUnsafeIdentifier("bad"), true},
		{NewDecodeError(CodeMalformedRow, "short row", nil), true},
		{fmt.Errorf("plain error"), true},
	}

	for _, tt := range tests {
		if IsFatal(tt.err) != tt.fatal {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, IsFatal(tt.err), tt.fatal)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := NewQueryError(CodeNotFound, "unknown metric")
	if GetCategory(err) != ErrCategoryQuery {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryQuery)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-ScorecardError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := NewDecodeError(CodeMalformedRow, "row too short", nil)
	if GetCode(err) != CodeMalformedRow {
		t.Errorf("got %q, want %q", GetCode(err), CodeMalformedRow)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-ScorecardError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewInvalidInput("bad year")
	detailed := err.WithDetails(map[string]interface{}{"year": 1850})

	if detailed.Details["year"] != 1850 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}
