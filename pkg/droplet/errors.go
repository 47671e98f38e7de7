package droplet

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrResourceNotFound indicates an unknown resource ID or missing thumbnail.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the upload token is missing or not accepted.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownResource indicates a deletion request named a stored filename
	// with no matching resource.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrStorageWrite indicates the storage backend failed while the upload
	// body was being written. Fatal to the upload.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrIDSpaceExhausted indicates the identifier generator hit its retry
	// ceiling without finding a free ID. Fatal to the current upload only.
	ErrIDSpaceExhausted = errors.New("identifier space exhausted")

	// ErrIDConflict indicates a resource insert lost the race against a
	// concurrent upload that committed the same identifier first.
	ErrIDConflict = errors.New("identifier already committed")

	// ErrIdentityNotFound indicates a token with no identity record.
	ErrIdentityNotFound = errors.New("identity not found")
)

// StorageError represents an error related to blob storage operations.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// UploadError represents a failure of one stage of the ingestion pipeline.
type UploadError struct {
	Stage string
	Name  string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload stage %s failed for %s: %v", e.Stage, e.Name, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
