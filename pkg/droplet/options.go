package droplet

import (
	"log/slog"
	"time"
)

// Option represents a functional option for configuring the service.
type Option func(*service)

// WithBlobStore sets the blob store holding resource payloads.
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blob = store
	}
}

// WithThumbnailStore sets the blob store holding thumbnails. When unset,
// thumbnails share the resource blob store.
func WithThumbnailStore(store BlobStore) Option {
	return func(s *service) {
		s.thumbs = store
	}
}

// WithResourceStore sets the resource metadata store.
func WithResourceStore(store ResourceStore) Option {
	return func(s *service) {
		s.resources = store
	}
}

// WithCredentialStore sets the credential store.
func WithCredentialStore(store CredentialStore) Option {
	return func(s *service) {
		s.credentials = store
	}
}

// WithThumbnailer sets the thumbnail post-processor.
func WithThumbnailer(t Thumbnailer) Option {
	return func(s *service) {
		s.thumbnailer = t
	}
}

// WithColorExtractor sets the dominant-color post-processor.
func WithColorExtractor(c ColorExtractor) Option {
	return func(s *service) {
		s.colors = c
	}
}

// WithNotifier sets the upload notifier.
func WithNotifier(n Notifier) Option {
	return func(s *service) {
		s.notifier = n
	}
}

// WithBaseURL sets the public base URL used when building resource,
// thumbnail, and deletion URLs.
func WithBaseURL(base string) Option {
	return func(s *service) {
		s.baseURL = base
	}
}

// WithIDStrategy sets the default identifier strategy and its parameters.
func WithIDStrategy(strategy Strategy, length, gfyWords int) Option {
	return func(s *service) {
		if strategy.Valid() {
			s.defaultStrategy = strategy
		}
		if length > 0 {
			s.idLength = length
		}
		if gfyWords > 0 {
			s.gfyWords = gfyWords
		}
	}
}

// WithMaxIDAttempts bounds collision retries during identifier minting.
func WithMaxIDAttempts(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.maxIDAttempts = n
		}
	}
}

// WithDatePartition stores payloads under a YYYY-MM subdirectory.
func WithDatePartition(enabled bool) Option {
	return func(s *service) {
		s.partitionByDate = enabled
	}
}

// WithAutoRegister controls whether tokens unknown to the credential store
// are accepted and registered on first upload. When disabled, unknown tokens
// are rejected before any identifier is consumed.
func WithAutoRegister(enabled bool) Option {
	return func(s *service) {
		s.autoRegister = enabled
	}
}

// WithPostProcessTimeout bounds thumbnail and color extraction per upload.
func WithPostProcessTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.postProcessTimeout = d
		}
	}
}

// WithDefaultWebhook sets the notification target used when an upload
// carries no per-request webhook override.
func WithDefaultWebhook(target WebhookTarget) Option {
	return func(s *service) {
		s.defaultWebhook = &target
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}
