// Package memory implements the droplet.BlobStore interface in process
// memory. Intended for tests and development.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/dropletd/droplet/pkg/droplet"
)

type object struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// Backend is an in-memory blob store.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates a new in-memory storage backend.
func New() *Backend {
	return &Backend{objects: make(map[string]object)}
}

func (b *Backend) Upload(ctx context.Context, key, mimeType string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return &droplet.StorageError{Backend: "memory", Key: key, Op: "upload", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = object{data: data, mimeType: mimeType, updatedAt: time.Now()}
	return nil
}

func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, &droplet.StorageError{Backend: "memory", Key: key, Op: "download", Err: droplet.ErrResourceNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) Rename(ctx context.Context, oldKey, newKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[oldKey]
	if !ok {
		return &droplet.StorageError{Backend: "memory", Key: oldKey, Op: "rename", Err: droplet.ErrResourceNotFound}
	}
	delete(b.objects, oldKey)
	b.objects[newKey] = obj
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; !ok {
		return &droplet.StorageError{Backend: "memory", Key: key, Op: "delete", Err: droplet.ErrResourceNotFound}
	}
	delete(b.objects, key)
	return nil
}

func (b *Backend) Meta(ctx context.Context, key string) (*droplet.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, &droplet.StorageError{Backend: "memory", Key: key, Op: "meta", Err: droplet.ErrResourceNotFound}
	}
	return &droplet.ObjectMeta{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.mimeType,
		UpdatedAt:   obj.updatedAt,
	}, nil
}
