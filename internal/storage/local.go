package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LocalStorage implements ObjectStorage on a directory tree.
type LocalStorage struct {
	basePath string
	mu       sync.RWMutex
	etags    map[string]string
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("storage: failed to create base directory: %w", err)
	}
	return &LocalStorage{
		basePath: basePath,
		etags:    make(map[string]string),
	}, nil
}

// Upload copies localPath into the tree and records its MD5 ETag.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return uploadFailed(objectPath, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return uploadFailed(objectPath, err)
	}
	defer src.Close()

	// Written beside the destination and renamed, so readers never see a partial object.
	tmp := destPath + ".part"
	dst, err := os.Create(tmp)
	if err != nil {
		return uploadFailed(objectPath, err)
	}

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(dst, hash), src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return uploadFailed(objectPath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return uploadFailed(objectPath, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return uploadFailed(objectPath, err)
	}

	l.mu.Lock()
	l.etags[objectPath] = hex.EncodeToString(hash.Sum(nil))
	l.mu.Unlock()
	return nil
}

// Download copies an object out of the tree.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return downloadFailed(objectPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return downloadFailed(objectPath, err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return downloadFailed(objectPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return downloadFailed(objectPath, err)
	}
	return nil
}

// Delete removes an object; a missing object is not an error.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: failed to delete %s: %w", objectPath, err)
	}
	l.mu.Lock()
	delete(l.etags, objectPath)
	l.mu.Unlock()
	return nil
}

// Exists reports whether an object exists.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(l.fullPath(objectPath)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ETag returns the MD5 of an object uploaded through this instance.
func (l *LocalStorage) ETag(objectPath string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	etag, ok := l.etags[objectPath]
	return etag, ok
}

// ListObjects returns object paths under prefix, slash-separated and sorted.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.Walk(l.fullPath(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || filepath.Ext(path) == ".part" {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list %s: %w", prefix, err)
	}
	sort.Strings(objects)
	return objects, nil
}

func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}
