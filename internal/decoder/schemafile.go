package decoder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/pkg/types"
)

// WriteSchema writes s to path as a single line of JSON triples.
func WriteSchema(path string, s types.SchemaDescriptor) error {
	if err := s.Validate(); err != nil {
		return scerrors.Wrap(scerrors.ErrCategoryValidation, scerrors.CodeInvalidInput, "refusing to write invalid schema", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("decoder: failed to encode schema: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("decoder: failed to create schema directory: %w", err)
		}
	}

	// Written to a sibling temp file, then renamed into place.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("decoder: failed to write schema: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("decoder: failed to finalize schema: %w", err)
	}
	return nil
}

// ReadSchema loads a schema written by WriteSchema.
func ReadSchema(path string) (types.SchemaDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.SchemaDescriptor{}, scerrors.NewNotFound(fmt.Sprintf("schema file %q does not exist", path), err)
		}
		return types.SchemaDescriptor{}, fmt.Errorf("decoder: failed to read schema: %w", err)
	}

	var s types.SchemaDescriptor
	if err := json.Unmarshal(data, &s); err != nil {
		return types.SchemaDescriptor{}, scerrors.Wrap(scerrors.ErrCategoryValidation, scerrors.CodeInvalidInput,
			fmt.Sprintf("schema file %q is malformed", path), err)
	}
	if err := s.Validate(); err != nil {
		return types.SchemaDescriptor{}, scerrors.Wrap(scerrors.ErrCategoryValidation, scerrors.CodeInvalidInput,
			fmt.Sprintf("schema file %q is inconsistent", path), err)
	}
	return s, nil
}
