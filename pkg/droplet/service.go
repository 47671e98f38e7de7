package droplet

import (
	"context"
	"io"
)

// Service is the resource ingestion and delivery engine.
type Service interface {
	// Upload runs the caller-visible part of the ingestion pipeline:
	// storage write, post-processing, identifier mint, and metadata commit.
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// FinishUpload dispatches the best-effort notification and records the
	// upload against the token. It runs after the response to the uploader
	// has been flushed and never produces a caller-visible failure.
	FinishUpload(ctx context.Context, result *UploadResult)

	// Resolve looks up a resource by public identifier. A trailing file
	// extension on id is stripped before the lookup.
	Resolve(ctx context.Context, id string) (*Resource, error)

	// Open streams the resource's bytes from its blob store.
	Open(ctx context.Context, res *Resource) (io.ReadCloser, *ObjectMeta, error)

	// LocalPath reports the on-disk path of the resource's bytes when the
	// backing store is the local filesystem.
	LocalPath(res *Resource) (string, bool)

	// Thumbnail opens the resource's thumbnail bytes.
	Thumbnail(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete removes a resource addressed by its stored filename: the byte
	// payload first, then the metadata entry.
	Delete(ctx context.Context, storedFilename string) (*Resource, error)

	// Accounting exposes the credential store for read-side callers.
	Authenticate(ctx context.Context, token string) (*Identity, bool)
}
