package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropletd/droplet/pkg/droplet"
	"github.com/dropletd/droplet/pkg/droplet/storage/memory"
)

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.Upload(ctx, "abc.png", "image/png", strings.NewReader("payload")))

	rc, err := b.Download(ctx, "abc.png")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownloadMissing(t *testing.T) {
	b := memory.New()
	_, err := b.Download(context.Background(), "missing")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.Upload(ctx, "staging/tmp.png", "image/png", strings.NewReader("bytes")))
	require.NoError(t, b.Rename(ctx, "staging/tmp.png", "final.png"))

	_, err := b.Download(ctx, "staging/tmp.png")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)

	rc, err := b.Download(ctx, "final.png")
	require.NoError(t, err)
	rc.Close()

	err = b.Rename(ctx, "nope", "other")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.Upload(ctx, "gone.png", "image/png", strings.NewReader("x")))
	require.NoError(t, b.Delete(ctx, "gone.png"))
	assert.ErrorIs(t, b.Delete(ctx, "gone.png"), droplet.ErrResourceNotFound)
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.Upload(ctx, "meta.bin", "application/octet-stream", strings.NewReader("12345")))

	meta, err := b.Meta(ctx, "meta.bin")
	require.NoError(t, err)
	assert.Equal(t, "meta.bin", meta.Key)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "application/octet-stream", meta.ContentType)
	assert.False(t, meta.UpdatedAt.IsZero())

	_, err = b.Meta(ctx, "missing")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)
}
