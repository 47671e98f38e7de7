package droplet_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropletd/droplet/pkg/droplet"
	"github.com/dropletd/droplet/pkg/droplet/idgen"
	"github.com/dropletd/droplet/pkg/droplet/postprocess"
	"github.com/dropletd/droplet/pkg/droplet/store"
	"github.com/dropletd/droplet/pkg/droplet/storage/memory"
)

const aliceToken = "tok-alice"

type fakeNotifier struct {
	mu      sync.Mutex
	targets []droplet.WebhookTarget
	notes   []droplet.UploadNote
}

func (f *fakeNotifier) Send(ctx context.Context, target droplet.WebhookTarget, note droplet.UploadNote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	f.notes = append(f.notes, note)
	return nil
}

func seedAuthFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "auth.json")
	raw, err := json.Marshal(map[string]*droplet.Identity{
		aliceToken: {Token: aliceToken, Username: "alice"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func newTestService(t *testing.T, extra ...droplet.Option) (droplet.Service, *store.ResourceFile, *store.CredentialFile) {
	t.Helper()
	dir := t.TempDir()

	resources, err := store.OpenResourceFile(filepath.Join(dir, "resources.json"))
	require.NoError(t, err)
	credentials, err := store.OpenCredentialFile(seedAuthFile(t, dir), nil)
	require.NoError(t, err)

	options := []droplet.Option{
		droplet.WithBlobStore(memory.New()),
		droplet.WithResourceStore(resources),
		droplet.WithCredentialStore(credentials),
		droplet.WithGenerator(idgen.Generate),
		droplet.WithBaseURL("http://droplet.test"),
	}
	options = append(options, extra...)

	svc, err := droplet.New(options...)
	require.NoError(t, err)
	return svc, resources, credentials
}

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		MimeType:     "image/png",
		Body:         strings.NewReader("payload"),
	})
	require.NoError(t, err)

	res := result.Resource
	assert.Len(t, res.ID, 8)
	assert.Equal(t, res.ID+".png", res.StoredFilename)
	assert.Equal(t, "cat.png", res.OriginalName)
	assert.Equal(t, "image/png", res.MimeType)
	assert.Equal(t, int64(7), res.SizeBytes)
	assert.Equal(t, aliceToken, res.UploaderToken)

	assert.Equal(t, "http://droplet.test/"+res.ID+".png", result.ResourceURL)
	assert.Equal(t, "http://droplet.test/"+res.ID+"/thumbnail", result.ThumbnailURL)
	assert.Equal(t, "http://droplet.test/delete/"+res.StoredFilename, result.DeleteURL)

	// Resolvable with or without the extension.
	got, err := svc.Resolve(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)

	got, err = svc.Resolve(ctx, res.StoredFilename)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)

	rc, meta, err := svc.Open(ctx, got)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "image/png", meta.ContentType)
}

func TestUploadRejectsMissingToken(t *testing.T) {
	svc, resources, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), droplet.UploadRequest{
		OriginalName: "cat.png",
		Body:         strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, droplet.ErrUnauthorized)
	assert.Equal(t, 0, resources.Len())
}

func TestUploadRejectsUnknownTokenWithoutAutoRegister(t *testing.T) {
	svc, resources, _ := newTestService(t, droplet.WithAutoRegister(false))

	_, err := svc.Upload(context.Background(), droplet.UploadRequest{
		Token:        "tok-stranger",
		OriginalName: "cat.png",
		Body:         strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, droplet.ErrUnauthorized)
	// Rejection must leave no trace in the resource table.
	assert.Equal(t, 0, resources.Len())
}

func TestUploadAutoRegistersUnknownToken(t *testing.T) {
	ctx := context.Background()
	svc, _, credentials := newTestService(t)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        "tok-stranger",
		OriginalName: "cat.png",
		Body:         strings.NewReader("x"),
	})
	require.NoError(t, err)

	// Registration and accounting happen in the finish phase.
	_, ok := credentials.Authenticate(ctx, "tok-stranger")
	assert.False(t, ok)

	svc.FinishUpload(ctx, result)

	ident, ok := credentials.Authenticate(ctx, "tok-stranger")
	require.True(t, ok)
	assert.Contains(t, ident.Username, "user-")
	assert.Equal(t, int64(1), ident.UploadCount)
}

func TestFinishUploadNotifiesAndAccounts(t *testing.T) {
	ctx := context.Background()
	fn := &fakeNotifier{}
	svc, _, credentials := newTestService(t,
		droplet.WithNotifier(fn),
		droplet.WithDefaultWebhook(droplet.WebhookTarget{URL: "https://hooks.example/default"}),
	)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		MimeType:     "image/png",
		Body:         strings.NewReader("payload"),
	})
	require.NoError(t, err)

	svc.FinishUpload(ctx, result)

	require.Len(t, fn.notes, 1)
	assert.Equal(t, "https://hooks.example/default", fn.targets[0].URL)
	note := fn.notes[0]
	assert.Equal(t, result.ResourceURL, note.ResourceURL)
	assert.Equal(t, result.DeleteURL, note.DeleteURL)
	assert.Equal(t, "cat.png", note.OriginalName)
	assert.Equal(t, "alice", note.Uploader)

	ident, ok := credentials.Authenticate(ctx, aliceToken)
	require.True(t, ok)
	assert.Equal(t, int64(1), ident.UploadCount)
}

func TestFinishUploadPrefersRequestWebhook(t *testing.T) {
	ctx := context.Background()
	fn := &fakeNotifier{}
	svc, _, _ := newTestService(t,
		droplet.WithNotifier(fn),
		droplet.WithDefaultWebhook(droplet.WebhookTarget{URL: "https://hooks.example/default"}),
	)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		Body:         strings.NewReader("x"),
		Webhook:      &droplet.WebhookTarget{URL: "https://hooks.example/override", Username: "custom"},
	})
	require.NoError(t, err)

	svc.FinishUpload(ctx, result)

	require.Len(t, fn.targets, 1)
	assert.Equal(t, "https://hooks.example/override", fn.targets[0].URL)
	assert.Equal(t, "custom", fn.targets[0].Username)
}

func TestUploadImageGetsThumbnailAndColor(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t,
		droplet.WithThumbnailer(postprocess.NewThumbnailer()),
		droplet.WithColorExtractor(postprocess.NewColorExtractor()),
	)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "red.png",
		MimeType:     "image/png",
		Body:         bytes.NewReader(pngBytes(t, 64, 48, color.RGBA{R: 255, A: 255})),
	})
	require.NoError(t, err)

	res := result.Resource
	assert.Equal(t, res.ID+".jpg", res.ThumbnailKey)
	assert.Equal(t, "#ff0000", res.DominantColor)

	rc, err := svc.Thumbnail(ctx, res.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8}), "thumbnail should be a JPEG")
}

func TestUploadNonImageCommitsWithoutDerivedFields(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t,
		droplet.WithThumbnailer(postprocess.NewThumbnailer()),
		droplet.WithColorExtractor(postprocess.NewColorExtractor()),
	)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "notes.txt",
		MimeType:     "text/plain",
		Body:         strings.NewReader("just text"),
	})
	require.NoError(t, err)

	res := result.Resource
	assert.Empty(t, res.ThumbnailKey)
	assert.Empty(t, res.DominantColor)

	_, err = svc.Thumbnail(ctx, res.ID)
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)
}

func TestUploadOriginalStrategy(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "report final.pdf",
		Body:         strings.NewReader("pdf"),
		Strategy:     droplet.StrategyOriginal,
	})
	require.NoError(t, err)
	assert.Equal(t, "report-final", result.Resource.ID)

	// The stem is taken now; the deterministic strategy cannot retry.
	_, err = svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "report final.pdf",
		Body:         strings.NewReader("pdf"),
		Strategy:     droplet.StrategyOriginal,
	})
	assert.ErrorIs(t, err, droplet.ErrIDSpaceExhausted)
}

func TestUploadUnknownStrategyFallsBack(t *testing.T) {
	svc, _, _ := newTestService(t)

	result, err := svc.Upload(context.Background(), droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		Body:         strings.NewReader("x"),
		Strategy:     droplet.Strategy("bogus"),
	})
	require.NoError(t, err)
	assert.Len(t, result.Resource.ID, 8)
}

func TestUploadDatePartition(t *testing.T) {
	svc, _, _ := newTestService(t, droplet.WithDatePartition(true))

	result, err := svc.Upload(context.Background(), droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		Body:         strings.NewReader("x"),
	})
	require.NoError(t, err)

	prefix := time.Now().UTC().Format("2006-01") + "/"
	assert.True(t, strings.HasPrefix(result.Resource.StorageKey, prefix),
		"storage key %q should live under %q", result.Resource.StorageKey, prefix)
}

func TestUploadDomainOverride(t *testing.T) {
	svc, _, _ := newTestService(t)

	result, err := svc.Upload(context.Background(), droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		Body:         strings.NewReader("x"),
		Domain:       "https://i.example.com",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ResourceURL, "https://i.example.com/"))
	assert.True(t, strings.HasPrefix(result.DeleteURL, "https://i.example.com/delete/"))
}

// barrierGenerator holds the first two mints at a rendezvous so two
// concurrent uploads both observe the identifier as free before either
// commits. Later mints (conflict retries) pass straight through.
func barrierGenerator(mint func(droplet.GenerateRequest) (string, error)) func(droplet.GenerateRequest) (string, error) {
	var mu sync.Mutex
	calls := 0
	barrier := make(chan struct{})
	return func(req droplet.GenerateRequest) (string, error) {
		id, err := mint(req)
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 2 {
			if n == 2 {
				close(barrier)
			}
			<-barrier
		}
		return id, err
	}
}

func TestConcurrentUploadsCannotShareAnIdentifier(t *testing.T) {
	ctx := context.Background()
	svc, resources, _ := newTestService(t,
		droplet.WithGenerator(barrierGenerator(idgen.Generate)))

	type outcome struct {
		result *droplet.UploadResult
		err    error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := svc.Upload(ctx, droplet.UploadRequest{
				Token:        aliceToken,
				OriginalName: "report.pdf",
				Body:         strings.NewReader("pdf bytes"),
				Strategy:     droplet.StrategyOriginal,
			})
			results <- outcome{r, err}
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err == nil {
			wins++
			assert.Equal(t, "report", o.result.Resource.ID)
		} else {
			losses++
			assert.ErrorIs(t, o.err, droplet.ErrIDSpaceExhausted)
		}
	}
	// Exactly one commit may own the identifier; the deterministic strategy
	// cannot remint, so the loser fails instead of overwriting.
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.Equal(t, 1, resources.Len())
}

func TestUploadRemintsWhenInsertRaces(t *testing.T) {
	ctx := context.Background()
	// Force both uploads to mint the same identifier first; the insert loser
	// should remint and commit under a fresh one.
	gen := barrierGenerator(func(req droplet.GenerateRequest) (string, error) {
		return "clash", nil
	})
	wrapped := func(req droplet.GenerateRequest) (string, error) {
		id, err := gen(req)
		if req.Taken != nil && req.Taken(id) {
			// Conflict retry: fall back to the real generator.
			return idgen.Generate(req)
		}
		return id, err
	}
	svc, resources, _ := newTestService(t, droplet.WithGenerator(wrapped))

	results := make(chan error, 2)
	ids := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := svc.Upload(ctx, droplet.UploadRequest{
				Token:        aliceToken,
				OriginalName: "cat.png",
				Body:         strings.NewReader("x"),
			})
			if err == nil {
				ids <- r.Resource.ID
			}
			results <- err
		}()
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, <-results)
	}
	first, second := <-ids, <-ids
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, resources.Len())
}

type renameFailBlob struct {
	*memory.Backend
}

func (b *renameFailBlob) Rename(ctx context.Context, oldKey, newKey string) error {
	return errors.New("simulated rename failure")
}

func TestUploadRenameFailureLeavesNoMetadata(t *testing.T) {
	svc, resources, _ := newTestService(t,
		droplet.WithBlobStore(&renameFailBlob{memory.New()}))

	_, err := svc.Upload(context.Background(), droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		Body:         strings.NewReader("payload"),
	})
	require.ErrorIs(t, err, droplet.ErrStorageWrite)

	// The reserved identifier is released; no record points at bytes that
	// never arrived.
	assert.Equal(t, 0, resources.Len())
}

func TestDeleteByStoredFilename(t *testing.T) {
	ctx := context.Background()
	svc, resources, _ := newTestService(t)

	result, err := svc.Upload(ctx, droplet.UploadRequest{
		Token:        aliceToken,
		OriginalName: "cat.png",
		MimeType:     "image/png",
		Body:         strings.NewReader("payload"),
	})
	require.NoError(t, err)

	res, err := svc.Delete(ctx, result.Resource.StoredFilename)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", res.OriginalName)
	assert.Equal(t, 0, resources.Len())

	_, err = svc.Resolve(ctx, result.Resource.ID)
	assert.ErrorIs(t, err, droplet.ErrResourceNotFound)

	_, err = svc.Delete(ctx, result.Resource.StoredFilename)
	assert.ErrorIs(t, err, droplet.ErrUnknownResource)
}

func TestNewRequiresStores(t *testing.T) {
	_, err := droplet.New()
	assert.Error(t, err)

	_, err = droplet.New(droplet.WithBlobStore(memory.New()))
	assert.Error(t, err)
}
