// Package storage moves database snapshots to and from object storage.
package storage

import (
	"context"

	scerrors "github.com/sacline/collegescvis/internal/errors"
)

// ErrObjectNotFound is returned when a requested object does not exist. It
// also satisfies errors.Is(err, errors.ErrNotFound).
var ErrObjectNotFound = scerrors.NewNotFound("object not found", nil)

// ObjectStorage abstracts the object store holding published snapshots.
// Implementations are the local filesystem and S3.
type ObjectStorage interface {
	// Upload copies the local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to the local file, creating parent directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{PartSize: 5 * 1024 * 1024}
}

func uploadFailed(objectPath string, cause error) error {
	return scerrors.NewStorageError(scerrors.CodeUploadFailed, "upload of "+objectPath+" failed", cause)
}

func downloadFailed(objectPath string, cause error) error {
	return scerrors.NewStorageError(scerrors.CodeDownloadFailed, "download of "+objectPath+" failed", cause)
}
