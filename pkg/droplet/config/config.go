// Package config loads server configuration from the environment and
// assembles the droplet service from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/dropletd/droplet/pkg/droplet"
	"github.com/dropletd/droplet/pkg/droplet/idgen"
	"github.com/dropletd/droplet/pkg/droplet/notify"
	"github.com/dropletd/droplet/pkg/droplet/postprocess"
	"github.com/dropletd/droplet/pkg/droplet/store"
	fsstorage "github.com/dropletd/droplet/pkg/droplet/storage/fs"
	memorystorage "github.com/dropletd/droplet/pkg/droplet/storage/memory"
	s3storage "github.com/dropletd/droplet/pkg/droplet/storage/s3"
)

// ServerConfig represents server configuration for the droplet service.
type ServerConfig struct {
	Port      string `env:"PORT" env-default:"8080"`
	PublicURL string `env:"PUBLIC_URL" env-default:"http://localhost:8080"`
	DataDir   string `env:"DATA_DIR" env-default:"./data"`

	// Identifier generation
	IDStrategy    string `env:"ID_STRATEGY" env-default:"random"`
	IDLength      int    `env:"ID_LENGTH" env-default:"8"`
	GfyWords      int    `env:"GFY_WORDS" env-default:"2"`
	MaxIDAttempts int    `env:"MAX_ID_ATTEMPTS" env-default:"100"`

	// Upload behavior
	AutoRegister       bool `env:"AUTO_REGISTER" env-default:"true"`
	PartitionByDate    bool `env:"PARTITION_BY_DATE" env-default:"false"`
	PostProcessTimeout int  `env:"POST_PROCESS_TIMEOUT_SECONDS" env-default:"30"`

	// Storage backend: "fs", "s3", or "memory"
	StorageDriver string `env:"STORAGE_DRIVER" env-default:"fs"`
	UploadDir     string `env:"UPLOAD_DIR"`
	ThumbnailDir  string `env:"THUMBNAIL_DIR"`

	S3Region          string `env:"S3_REGION" env-default:"us-east-1"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	S3CreateBucket    bool   `env:"S3_CREATE_BUCKET_IF_NOT_EXIST" env-default:"false"`

	// Metadata store: "file" (JSON snapshots) or "postgres"
	StoreDriver    string `env:"STORE_DRIVER" env-default:"file"`
	DatabaseURL    string `env:"DATABASE_URL"`
	ResourceFile   string `env:"RESOURCE_FILE"`
	CredentialFile string `env:"CREDENTIAL_FILE"`

	// Default notification target; per-request webhook headers override it.
	WebhookURL      string `env:"WEBHOOK_URL"`
	WebhookUsername string `env:"WEBHOOK_USERNAME"`
	WebhookAvatar   string `env:"WEBHOOK_AVATAR"`
	WebhookTimeout  int    `env:"WEBHOOK_TIMEOUT_SECONDS" env-default:"10"`
}

// Load reads configuration from the environment and applies derived
// defaults.
func Load() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(cfg.DataDir, "uploads")
	}
	if cfg.ThumbnailDir == "" {
		cfg.ThumbnailDir = filepath.Join(cfg.DataDir, "thumbnails")
	}
	if cfg.ResourceFile == "" {
		cfg.ResourceFile = filepath.Join(cfg.DataDir, "resources.json")
	}
	if cfg.CredentialFile == "" {
		cfg.CredentialFile = filepath.Join(cfg.DataDir, "auth.json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if !droplet.Strategy(c.IDStrategy).Valid() {
		return fmt.Errorf("unknown identifier strategy %q", c.IDStrategy)
	}
	switch c.StorageDriver {
	case "fs", "memory":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.StoreDriver {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	return nil
}

// App bundles the built service with the background pieces the process owns.
type App struct {
	Service     droplet.Service
	Credentials droplet.CredentialStore

	cancel  context.CancelFunc
	closers []func()
}

// Close stops the credential watcher and releases database resources.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, fn := range a.closers {
		fn()
	}
}

// Build creates the service instance from the server configuration. The
// file-backed credential store gets a filesystem watcher so external edits
// are picked up without a restart.
func (c *ServerConfig) Build(logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blob, err := c.buildBlobStore()
	if err != nil {
		return nil, fmt.Errorf("build storage backend: %w", err)
	}
	thumbs, err := c.buildThumbnailStore()
	if err != nil {
		return nil, fmt.Errorf("build thumbnail storage: %w", err)
	}

	app := &App{}

	var resources droplet.ResourceStore
	var credentials droplet.CredentialStore
	switch c.StoreDriver {
	case "postgres":
		pg, err := store.NewPostgres(context.Background(), c.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("build postgres store: %w", err)
		}
		app.closers = append(app.closers, pg.Close)
		resources, credentials = pg, pg
	default:
		rf, err := store.OpenResourceFile(c.ResourceFile)
		if err != nil {
			return nil, fmt.Errorf("open resource table: %w", err)
		}
		cf, err := store.OpenCredentialFile(c.CredentialFile, logger)
		if err != nil {
			return nil, fmt.Errorf("open credential table: %w", err)
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		app.cancel = cancel
		go func() {
			if err := cf.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("credential watcher stopped", "error", err)
			}
		}()
		resources, credentials = rf, cf
	}
	app.Credentials = credentials

	options := []droplet.Option{
		droplet.WithBlobStore(blob),
		droplet.WithThumbnailStore(thumbs),
		droplet.WithResourceStore(resources),
		droplet.WithCredentialStore(credentials),
		droplet.WithGenerator(idgen.Generate),
		droplet.WithThumbnailer(postprocess.NewThumbnailer()),
		droplet.WithColorExtractor(postprocess.NewColorExtractor()),
		droplet.WithNotifier(notify.NewDiscord(time.Duration(c.WebhookTimeout) * time.Second)),
		droplet.WithBaseURL(c.PublicURL),
		droplet.WithIDStrategy(droplet.Strategy(c.IDStrategy), c.IDLength, c.GfyWords),
		droplet.WithMaxIDAttempts(c.MaxIDAttempts),
		droplet.WithDatePartition(c.PartitionByDate),
		droplet.WithAutoRegister(c.AutoRegister),
		droplet.WithPostProcessTimeout(time.Duration(c.PostProcessTimeout) * time.Second),
		droplet.WithLogger(logger),
	}
	if c.WebhookURL != "" {
		options = append(options, droplet.WithDefaultWebhook(droplet.WebhookTarget{
			URL:      c.WebhookURL,
			Username: c.WebhookUsername,
			Avatar:   c.WebhookAvatar,
		}))
	}

	svc, err := droplet.New(options...)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Service = svc
	return app, nil
}

func (c *ServerConfig) buildBlobStore() (droplet.BlobStore, error) {
	switch c.StorageDriver {
	case "memory":
		return memorystorage.New(), nil
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3Region,
			Bucket:                 c.S3Bucket,
			AccessKeyID:            c.S3AccessKeyID,
			SecretAccessKey:        c.S3SecretAccessKey,
			Endpoint:               c.S3Endpoint,
			UsePathStyle:           c.S3UsePathStyle,
			CreateBucketIfNotExist: c.S3CreateBucket,
		})
	default:
		return fsstorage.New(fsstorage.Config{BaseDir: c.UploadDir})
	}
}

// buildThumbnailStore keeps thumbnails on local disk even when payloads are
// remote; they are small and served straight from this process.
func (c *ServerConfig) buildThumbnailStore() (droplet.BlobStore, error) {
	if c.StorageDriver == "memory" {
		return memorystorage.New(), nil
	}
	return fsstorage.New(fsstorage.Config{BaseDir: c.ThumbnailDir})
}
