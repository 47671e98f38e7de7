package droplet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface.
type service struct {
	blob        BlobStore
	thumbs      BlobStore
	resources   ResourceStore
	credentials CredentialStore

	thumbnailer Thumbnailer
	colors      ColorExtractor
	notifier    Notifier
	logger      *slog.Logger

	baseURL            string
	defaultStrategy    Strategy
	idLength           int
	gfyWords           int
	maxIDAttempts      int
	partitionByDate    bool
	autoRegister       bool
	postProcessTimeout time.Duration
	defaultWebhook     *WebhookTarget

	generate func(GenerateRequest) (string, error)
}

// GenerateRequest is handed to the identifier generator for each mint.
type GenerateRequest struct {
	Strategy     Strategy
	Length       int
	GfyWords     int
	OriginalName string
	Taken        func(id string) bool
	MaxAttempts  int
}

// WithGenerator sets the identifier generation function.
func WithGenerator(fn func(GenerateRequest) (string, error)) Option {
	return func(s *service) {
		s.generate = fn
	}
}

// New creates a new service instance with the given options.
func New(options ...Option) (Service, error) {
	s := &service{
		baseURL:            "http://localhost:8080",
		defaultStrategy:    StrategyRandom,
		idLength:           8,
		gfyWords:           2,
		maxIDAttempts:      100,
		autoRegister:       true,
		postProcessTimeout: 30 * time.Second,
	}

	for _, option := range options {
		option(s)
	}

	if s.resources == nil {
		return nil, fmt.Errorf("resource store is required")
	}
	if s.credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if s.blob == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.generate == nil {
		return nil, fmt.Errorf("identifier generator is required")
	}
	if s.thumbs == nil {
		s.thumbs = s.blob
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// Upload pipeline: store bytes, post-process, mint the identifier, commit
// metadata. Notification and accounting run later via FinishUpload.
func (s *service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	name := req.OriginalName
	if name == "" {
		name = "file"
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// Checked up front to avoid wasted storage work; re-checked at commit.
	if err := s.authorize(ctx, req.Token); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(name))
	stagingKey := path.Join("staging", uuid.NewString()+ext)

	counted := &countingReader{r: req.Body}
	if err := s.blob.Upload(ctx, stagingKey, mimeType, counted); err != nil {
		return nil, &UploadError{Stage: "store", Name: name, Err: fmt.Errorf("%w: %v", ErrStorageWrite, err)}
	}

	thumb, color := s.postProcess(ctx, stagingKey, name)

	// The identifier must never be committed for an unauthorized caller.
	if err := s.authorize(ctx, req.Token); err != nil {
		s.discardStaging(ctx, stagingKey)
		return nil, err
	}

	res, err := s.commitMetadata(ctx, req, name, ext, mimeType, counted.n, thumb, color)
	if err != nil {
		s.discardStaging(ctx, stagingKey)
		return nil, err
	}

	// The insert reserved the identifier; only now may the bytes take its
	// derived storage key.
	if err := s.blob.Rename(ctx, stagingKey, res.StorageKey); err != nil {
		s.rollbackCommit(ctx, res)
		s.discardStaging(ctx, stagingKey)
		return nil, &UploadError{Stage: "commit", Name: name, Err: fmt.Errorf("%w: %v", ErrStorageWrite, err)}
	}

	base := strings.TrimRight(s.baseURL, "/")
	if req.Domain != "" {
		base = strings.TrimRight(req.Domain, "/")
	}
	result := &UploadResult{
		Resource:     res,
		ResourceURL:  base + "/" + url.PathEscape(res.ID) + ext,
		ThumbnailURL: base + "/" + url.PathEscape(res.ID) + "/thumbnail",
		DeleteURL:    base + "/delete/" + url.PathEscape(res.StoredFilename),
		webhook:      req.Webhook,
		token:        req.Token,
	}

	s.logger.Info("upload committed",
		"id", res.ID,
		"name", name,
		"size", res.SizeBytes,
		"mime", mimeType,
		"key", res.StorageKey)

	return result, nil
}

// commitMetadata mints an identifier and inserts the resource record. The
// insert is the uniqueness point: losing the insert race to a concurrent
// upload yields ErrIDConflict and a fresh mint, up to the retry ceiling.
func (s *service) commitMetadata(ctx context.Context, req UploadRequest, name, ext, mimeType string, size int64, thumb []byte, color string) (*Resource, error) {
	for attempt := 0; attempt < s.maxIDAttempts; attempt++ {
		id, err := s.mintID(ctx, req, name)
		if err != nil {
			return nil, err
		}

		storedFilename := id + ext
		storageKey := storedFilename
		if s.partitionByDate {
			storageKey = path.Join(time.Now().UTC().Format("2006-01"), storedFilename)
		}

		thumbnailKey := ""
		if len(thumb) > 0 {
			thumbnailKey = id + ".jpg"
			if err := s.thumbs.Upload(ctx, thumbnailKey, "image/jpeg", bytes.NewReader(thumb)); err != nil {
				s.logger.Warn("thumbnail write failed", "id", id, "error", err)
				thumbnailKey = ""
			}
		}

		res := &Resource{
			ID:             id,
			OriginalName:   name,
			StoredFilename: storedFilename,
			StorageKey:     storageKey,
			MimeType:       mimeType,
			SizeBytes:      size,
			UploadedAt:     time.Now().UnixMilli(),
			UploaderToken:  req.Token,
			ThumbnailKey:   thumbnailKey,
			DominantColor:  color,
			Embed:          req.Embed,
		}

		err = s.resources.Put(ctx, res)
		if err == nil {
			return res, nil
		}
		if thumbnailKey != "" {
			if derr := s.thumbs.Delete(ctx, thumbnailKey); derr != nil && !errors.Is(derr, ErrResourceNotFound) {
				s.logger.Warn("thumbnail cleanup failed", "key", thumbnailKey, "error", derr)
			}
		}
		if !errors.Is(err, ErrIDConflict) {
			return nil, &UploadError{Stage: "commit", Name: name, Err: err}
		}
		s.logger.Warn("identifier commit raced, reminting", "id", id, "name", name)
	}
	return nil, ErrIDSpaceExhausted
}

// rollbackCommit undoes a metadata insert whose byte move failed, so no
// record points at bytes that never arrived.
func (s *service) rollbackCommit(ctx context.Context, res *Resource) {
	if err := s.resources.Remove(ctx, res.ID); err != nil {
		s.logger.Error("commit rollback failed", "id", res.ID, "error", err)
	}
	if res.ThumbnailKey != "" {
		if err := s.thumbs.Delete(ctx, res.ThumbnailKey); err != nil && !errors.Is(err, ErrResourceNotFound) {
			s.logger.Warn("thumbnail cleanup failed", "key", res.ThumbnailKey, "error", err)
		}
	}
}

// FinishUpload dispatches the webhook notification, then records the upload
// against the token. Failures are logged and never surfaced.
func (s *service) FinishUpload(ctx context.Context, result *UploadResult) {
	if result == nil || result.Resource == nil {
		return
	}

	target := s.defaultWebhook
	if result.webhook != nil && result.webhook.URL != "" {
		target = result.webhook
	}
	if s.notifier != nil && target != nil && target.URL != "" {
		uploader := ""
		if ident, ok := s.credentials.Authenticate(ctx, result.token); ok {
			uploader = ident.Username
		}
		color := result.Resource.Embed.Color
		if color == "" {
			color = result.Resource.DominantColor
		}
		note := UploadNote{
			ResourceURL:  result.ResourceURL,
			ThumbnailURL: result.ThumbnailURL,
			DeleteURL:    result.DeleteURL,
			OriginalName: result.Resource.OriginalName,
			Uploader:     uploader,
			Color:        color,
		}
		if err := s.notifier.Send(ctx, *target, note); err != nil {
			s.logger.Warn("upload notification failed", "id", result.Resource.ID, "error", err)
		}
	}

	if _, err := s.credentials.RecordUpload(ctx, result.token); err != nil {
		s.logger.Error("upload accounting failed", "id", result.Resource.ID, "error", err)
	}
}

func (s *service) Resolve(ctx context.Context, id string) (*Resource, error) {
	return s.resources.Get(ctx, stripExtension(id))
}

func (s *service) Open(ctx context.Context, res *Resource) (io.ReadCloser, *ObjectMeta, error) {
	rc, err := s.blob.Download(ctx, res.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	meta, err := s.blob.Meta(ctx, res.StorageKey)
	if err != nil {
		meta = &ObjectMeta{Key: res.StorageKey, Size: res.SizeBytes}
	}
	// The recorded mime type is authoritative; backends may only detect it.
	meta.ContentType = res.MimeType
	return rc, meta, nil
}

func (s *service) LocalPath(res *Resource) (string, bool) {
	lf, ok := s.blob.(LocalFiler)
	if !ok {
		return "", false
	}
	return lf.LocalPath(res.StorageKey), true
}

func (s *service) Thumbnail(ctx context.Context, id string) (io.ReadCloser, error) {
	res, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.ThumbnailKey == "" {
		return nil, ErrResourceNotFound
	}
	rc, err := s.thumbs.Download(ctx, res.ThumbnailKey)
	if err != nil {
		s.logger.Warn("thumbnail unreadable", "id", res.ID, "key", res.ThumbnailKey, "error", err)
		return nil, ErrResourceNotFound
	}
	return rc, nil
}

func (s *service) Delete(ctx context.Context, storedFilename string) (*Resource, error) {
	res, err := s.resources.FindByStoredFilename(ctx, storedFilename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, storedFilename)
	}

	if err := s.blob.Delete(ctx, res.StorageKey); err != nil && !errors.Is(err, ErrResourceNotFound) {
		return nil, err
	}
	if res.ThumbnailKey != "" {
		if err := s.thumbs.Delete(ctx, res.ThumbnailKey); err != nil && !errors.Is(err, ErrResourceNotFound) {
			s.logger.Warn("thumbnail delete failed", "id", res.ID, "error", err)
		}
	}

	if err := s.resources.Remove(ctx, res.ID); err != nil {
		return nil, err
	}

	s.logger.Info("resource deleted", "id", res.ID, "filename", storedFilename)
	return res, nil
}

func (s *service) Authenticate(ctx context.Context, token string) (*Identity, bool) {
	return s.credentials.Authenticate(ctx, token)
}

// authorize accepts a token when the credential store knows it, or when it
// is unknown but auto-registration is enabled. Missing tokens are rejected.
func (s *service) authorize(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	if _, ok := s.credentials.Authenticate(ctx, token); ok {
		return nil
	}
	if s.autoRegister {
		return nil
	}
	return ErrUnauthorized
}

func (s *service) mintID(ctx context.Context, req UploadRequest, name string) (string, error) {
	strategy := s.defaultStrategy
	if req.Strategy != "" {
		if req.Strategy.Valid() {
			strategy = req.Strategy
		} else {
			s.logger.Warn("unknown identifier strategy, using default", "strategy", string(req.Strategy))
		}
	}
	gfyWords := s.gfyWords
	if req.GfyWords > 0 {
		gfyWords = req.GfyWords
	}
	return s.generate(GenerateRequest{
		Strategy:     strategy,
		Length:       s.idLength,
		GfyWords:     gfyWords,
		OriginalName: name,
		MaxAttempts:  s.maxIDAttempts,
		Taken: func(id string) bool {
			return s.resources.Has(ctx, id)
		},
	})
}

// postProcess runs the thumbnail and dominant-color extractors concurrently
// over a local copy of the staged bytes. Failures are logged; the upload
// proceeds with the derived fields left empty.
func (s *service) postProcess(ctx context.Context, stagingKey, name string) (thumb []byte, color string) {
	if s.thumbnailer == nil && s.colors == nil {
		return nil, ""
	}

	localPath, cleanup, err := s.localCopy(ctx, stagingKey)
	if err != nil {
		s.logger.Warn("post-processing skipped, no local copy", "name", name, "error", err)
		return nil, ""
	}
	defer cleanup()

	pctx, cancel := context.WithTimeout(ctx, s.postProcessTimeout)
	defer cancel()

	var wg sync.WaitGroup
	if s.thumbnailer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.thumbnailer.Thumbnail(pctx, localPath)
			if err != nil {
				s.logger.Warn("thumbnail generation failed", "name", name, "error", err)
				return
			}
			thumb = b
		}()
	}
	if s.colors != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.colors.DominantColor(pctx, localPath)
			if err != nil {
				s.logger.Warn("color extraction failed", "name", name, "error", err)
				return
			}
			color = c
		}()
	}
	wg.Wait()
	return thumb, color
}

// localCopy returns a local filesystem path for the staged object. Remote
// backends are materialized into a temporary file; its cleanup runs on every
// path out of the upload.
func (s *service) localCopy(ctx context.Context, key string) (string, func(), error) {
	if lf, ok := s.blob.(LocalFiler); ok {
		return lf.LocalPath(key), func() {}, nil
	}

	rc, err := s.blob.Download(ctx, key)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "droplet-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func (s *service) discardStaging(ctx context.Context, key string) {
	if err := s.blob.Delete(ctx, key); err != nil {
		s.logger.Warn("staging cleanup failed", "key", key, "error", err)
	}
}

// stripExtension normalizes a path identifier by dropping a trailing file
// extension. The stored stem, not the extension, is the lookup key.
func stripExtension(id string) string {
	if i := strings.LastIndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
