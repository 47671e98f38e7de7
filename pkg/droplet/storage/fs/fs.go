// Package fs implements the droplet.BlobStore interface on the local
// filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dropletd/droplet/pkg/droplet"
)

// Backend stores objects as plain files under a base directory.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend.
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend.
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Backend{baseDir: config.BaseDir}, nil
}

// LocalPath returns the on-disk path for a key. Implements droplet.LocalFiler.
func (b *Backend) LocalPath(key string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(key))
}

// Upload writes the reader's bytes under key. The mime type is not stored
// separately; it is detected again on read.
func (b *Backend) Upload(ctx context.Context, key, mimeType string, reader io.Reader) error {
	filePath := b.LocalPath(key)

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return &droplet.StorageError{Backend: "fs", Key: key, Op: "upload", Err: err}
	}
	file, err := os.Create(filePath)
	if err != nil {
		return &droplet.StorageError{Backend: "fs", Key: key, Op: "upload", Err: err}
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		os.Remove(filePath)
		return &droplet.StorageError{Backend: "fs", Key: key, Op: "upload", Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(filePath)
		return &droplet.StorageError{Backend: "fs", Key: key, Op: "upload", Err: err}
	}
	return nil
}

// Download opens the bytes stored under key.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(b.LocalPath(key))
	if os.IsNotExist(err) {
		return nil, &droplet.StorageError{Backend: "fs", Key: key, Op: "download", Err: droplet.ErrResourceNotFound}
	} else if err != nil {
		return nil, &droplet.StorageError{Backend: "fs", Key: key, Op: "download", Err: err}
	}
	return file, nil
}

// Rename moves the object stored under oldKey to newKey.
func (b *Backend) Rename(ctx context.Context, oldKey, newKey string) error {
	oldPath := b.LocalPath(oldKey)
	newPath := b.LocalPath(newKey)

	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		return &droplet.StorageError{Backend: "fs", Key: oldKey, Op: "rename", Err: droplet.ErrResourceNotFound}
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return &droplet.StorageError{Backend: "fs", Key: newKey, Op: "rename", Err: err}
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return &droplet.StorageError{Backend: "fs", Key: oldKey, Op: "rename", Err: err}
	}
	b.cleanupEmptyDirectories(filepath.Dir(oldPath))
	return nil
}

// Delete removes the object stored under key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	filePath := b.LocalPath(key)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return &droplet.StorageError{Backend: "fs", Key: key, Op: "delete", Err: droplet.ErrResourceNotFound}
	}
	if err := os.Remove(filePath); err != nil {
		return &droplet.StorageError{Backend: "fs", Key: key, Op: "delete", Err: err}
	}
	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// Meta retrieves metadata for the object stored under key.
func (b *Backend) Meta(ctx context.Context, key string) (*droplet.ObjectMeta, error) {
	filePath := b.LocalPath(key)

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, &droplet.StorageError{Backend: "fs", Key: key, Op: "meta", Err: droplet.ErrResourceNotFound}
	} else if err != nil {
		return nil, &droplet.StorageError{Backend: "fs", Key: key, Op: "meta", Err: err}
	}

	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
		file.Close()
	}

	return &droplet.ObjectMeta{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir.
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
