package droplet

import (
	"context"
	"io"
	"time"
)

// BlobStore defines the interface for storage backends holding resource
// bytes. Implementations exist for the local filesystem, S3-compatible
// object stores, and memory (tests).
type BlobStore interface {
	// Upload writes the reader's bytes under key.
	Upload(ctx context.Context, key, mimeType string, reader io.Reader) error

	// Download opens the bytes stored under key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Rename moves the bytes stored under oldKey to newKey.
	Rename(ctx context.Context, oldKey, newKey string) error

	// Delete removes the bytes stored under key.
	Delete(ctx context.Context, key string) error

	// Meta retrieves metadata for the object stored under key.
	Meta(ctx context.Context, key string) (*ObjectMeta, error)
}

// LocalFiler is implemented by blob stores whose objects live on the local
// filesystem. The delivery path uses it to serve files with byte-range
// support, and post-processors use it to avoid a temporary copy.
type LocalFiler interface {
	LocalPath(key string) string
}

// ObjectMeta contains metadata about an object in a blob store.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// ResourceStore holds resource metadata keyed by ID. Implementations persist
// a full durable snapshot after every mutation; Put and Remove return only
// after that snapshot is written.
type ResourceStore interface {
	// Put inserts a new resource. The insert is atomic with the uniqueness
	// check: if the ID is already live, Put fails with ErrIDConflict and the
	// existing entry is untouched.
	Put(ctx context.Context, res *Resource) error
	Get(ctx context.Context, id string) (*Resource, error)
	Remove(ctx context.Context, id string) error
	FindByStoredFilename(ctx context.Context, name string) (*Resource, error)
	Has(ctx context.Context, id string) bool
}

// CredentialStore holds token-to-identity records.
type CredentialStore interface {
	// Authenticate is a pure lookup; it never mutates the store.
	Authenticate(ctx context.Context, token string) (*Identity, bool)

	// RecordUpload increments the token's upload counter, registering a new
	// identity with a generated unique username when the token is unknown.
	// The store is persisted before RecordUpload returns.
	RecordUpload(ctx context.Context, token string) (*Identity, error)
}

// Thumbnailer derives a JPEG thumbnail from a local file.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path string) ([]byte, error)
}

// ColorExtractor derives a representative hex color from a local file.
type ColorExtractor interface {
	DominantColor(ctx context.Context, path string) (string, error)
}

// Notifier delivers upload notifications to an external channel. Delivery is
// best effort: callers log failures and never retry.
type Notifier interface {
	Send(ctx context.Context, target WebhookTarget, note UploadNote) error
}

// UploadNote is the payload handed to a Notifier after a commit.
type UploadNote struct {
	ResourceURL  string
	ThumbnailURL string
	DeleteURL    string
	OriginalName string
	Uploader     string
	Color        string
}
