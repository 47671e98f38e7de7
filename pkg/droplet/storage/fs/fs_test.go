package fs_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropletd/droplet/pkg/droplet"
	"github.com/dropletd/droplet/pkg/droplet/storage/fs"
)

func newBackend(t *testing.T) (*fs.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := fs.New(fs.Config{BaseDir: dir})
	require.NoError(t, err)
	return b, dir
}

func TestNewRequiresBaseDir(t *testing.T) {
	_, err := fs.New(fs.Config{})
	assert.Error(t, err)
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	b, dir := newBackend(t)

	require.NoError(t, b.Upload(ctx, "2024-01/abc.png", "image/png", strings.NewReader("payload")))

	// The key maps onto a real file under the base directory.
	_, err := os.Stat(filepath.Join(dir, "2024-01", "abc.png"))
	require.NoError(t, err)

	rc, err := b.Download(ctx, "2024-01/abc.png")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownloadMissing(t *testing.T) {
	b, _ := newBackend(t)
	_, err := b.Download(context.Background(), "missing.png")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)

	var serr *droplet.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "fs", serr.Backend)
	assert.Equal(t, "download", serr.Op)
}

func TestRenameMovesAndCleansUp(t *testing.T) {
	ctx := context.Background()
	b, dir := newBackend(t)

	require.NoError(t, b.Upload(ctx, "staging/tmp-1.png", "image/png", strings.NewReader("bytes")))
	require.NoError(t, b.Rename(ctx, "staging/tmp-1.png", "final/abc.png"))

	_, err := b.Download(ctx, "staging/tmp-1.png")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)

	rc, err := b.Download(ctx, "final/abc.png")
	require.NoError(t, err)
	rc.Close()

	// The emptied staging directory is pruned.
	_, err = os.Stat(filepath.Join(dir, "staging"))
	assert.True(t, os.IsNotExist(err))

	err = b.Rename(ctx, "never-there.png", "elsewhere.png")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	b, _ := newBackend(t)

	require.NoError(t, b.Upload(ctx, "gone.png", "image/png", strings.NewReader("x")))
	require.NoError(t, b.Delete(ctx, "gone.png"))
	assert.ErrorIs(t, b.Delete(ctx, "gone.png"), droplet.ErrResourceNotFound)
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	b, _ := newBackend(t)

	require.NoError(t, b.Upload(ctx, "note.txt", "text/plain", strings.NewReader("hello world")))

	meta, err := b.Meta(ctx, "note.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), meta.Size)
	assert.Contains(t, meta.ContentType, "text/plain")
	assert.False(t, meta.UpdatedAt.IsZero())

	_, err = b.Meta(ctx, "missing.txt")
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)
}

func TestLocalPath(t *testing.T) {
	b, dir := newBackend(t)
	assert.Equal(t, filepath.Join(dir, "a", "b.png"), b.LocalPath("a/b.png"))
}
