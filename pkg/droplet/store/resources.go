// Package store provides the durable resource and credential tables.
//
// The file-backed stores keep the full table in memory and write a complete
// JSON snapshot after every mutation; a mutating call returns only after its
// snapshot is on disk. A postgres-backed variant exists for deployments that
// outgrow snapshot files.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dropletd/droplet/pkg/droplet"
)

// ResourceFile is a file-backed droplet.ResourceStore.
type ResourceFile struct {
	mu    sync.RWMutex
	path  string
	table map[string]*droplet.Resource
}

// OpenResourceFile loads the resource table from path, creating an empty
// table (and its snapshot) when the file does not exist.
func OpenResourceFile(path string) (*ResourceFile, error) {
	s := &ResourceFile{
		path:  path,
		table: make(map[string]*droplet.Resource),
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.persistLocked(); err != nil {
			return nil, fmt.Errorf("initialize resource table: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read resource table: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.table); err != nil {
			return nil, fmt.Errorf("parse resource table %s: %w", path, err)
		}
	}

	return s, nil
}

// Put inserts a new resource. The existence check and the insert share the
// write lock, so two concurrent commits of the same ID cannot both succeed.
func (s *ResourceFile) Put(ctx context.Context, res *droplet.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[res.ID]; ok {
		return fmt.Errorf("%w: %s", droplet.ErrIDConflict, res.ID)
	}
	cp := *res
	s.table[res.ID] = &cp
	return s.persistLocked()
}

func (s *ResourceFile) Get(ctx context.Context, id string) (*droplet.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.table[id]
	if !ok {
		return nil, droplet.ErrResourceNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *ResourceFile) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[id]; !ok {
		return droplet.ErrResourceNotFound
	}
	delete(s.table, id)
	return s.persistLocked()
}

// FindByStoredFilename scans the table for a matching stored filename.
// Linear, but the table is small by design.
func (s *ResourceFile) FindByStoredFilename(ctx context.Context, name string) (*droplet.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, res := range s.table {
		if res.StoredFilename == name {
			cp := *res
			return &cp, nil
		}
	}
	return nil, droplet.ErrResourceNotFound
}

func (s *ResourceFile) Has(ctx context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.table[id]
	return ok
}

// Len reports the number of live resources.
func (s *ResourceFile) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

// persistLocked writes the full table as one snapshot, atomically via a
// temp file rename. Callers hold the write lock (or exclusive ownership
// during Open).
func (s *ResourceFile) persistLocked() error {
	return writeSnapshot(s.path, s.table)
}

// writeSnapshot marshals v and atomically replaces path with it.
func writeSnapshot(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
