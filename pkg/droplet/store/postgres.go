package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropletd/droplet/pkg/droplet"
)

// Postgres backs the resource and credential tables with a database instead
// of snapshot files. Mutations are per-row writes; the file stores' external
// hot-reload contract does not apply here.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects to databaseURL and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	p := &Postgres{pool: pool, logger: logger}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns the pool.
func NewPostgresWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS resources (
    id              text PRIMARY KEY,
    original_name   text NOT NULL,
    stored_filename text NOT NULL,
    storage_key     text NOT NULL,
    mime_type       text NOT NULL,
    size_bytes      bigint NOT NULL,
    uploaded_at     bigint NOT NULL,
    uploader_token  text NOT NULL,
    thumbnail_key   text NOT NULL DEFAULT '',
    dominant_color  text NOT NULL DEFAULT '',
    embed           jsonb NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS resources_stored_filename_idx ON resources (stored_filename);

CREATE TABLE IF NOT EXISTS identities (
    token        text PRIMARY KEY,
    username     text NOT NULL UNIQUE,
    upload_count bigint NOT NULL DEFAULT 0
);`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Resource operations

// Put inserts a new resource. A plain insert keeps the uniqueness check and
// the commit in one statement; losing the race surfaces as ErrIDConflict.
func (p *Postgres) Put(ctx context.Context, res *droplet.Resource) error {
	const q = `
INSERT INTO resources
    (id, original_name, stored_filename, storage_key, mime_type, size_bytes,
     uploaded_at, uploader_token, thumbnail_key, dominant_color, embed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := p.pool.Exec(ctx, q,
		res.ID, res.OriginalName, res.StoredFilename, res.StorageKey,
		res.MimeType, res.SizeBytes, res.UploadedAt, res.UploaderToken,
		res.ThumbnailKey, res.DominantColor, res.Embed)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", droplet.ErrIDConflict, res.ID)
		}
		return fmt.Errorf("put resource %s: %w", res.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*droplet.Resource, error) {
	const q = `
SELECT id, original_name, stored_filename, storage_key, mime_type, size_bytes,
       uploaded_at, uploader_token, thumbnail_key, dominant_color, embed
FROM resources WHERE id = $1`
	return p.scanResource(p.pool.QueryRow(ctx, q, id))
}

func (p *Postgres) Remove(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove resource %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return droplet.ErrResourceNotFound
	}
	return nil
}

func (p *Postgres) FindByStoredFilename(ctx context.Context, name string) (*droplet.Resource, error) {
	const q = `
SELECT id, original_name, stored_filename, storage_key, mime_type, size_bytes,
       uploaded_at, uploader_token, thumbnail_key, dominant_color, embed
FROM resources WHERE stored_filename = $1 LIMIT 1`
	return p.scanResource(p.pool.QueryRow(ctx, q, name))
}

func (p *Postgres) Has(ctx context.Context, id string) bool {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM resources WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		// Treat lookup failure as taken so minting retries another ID
		// instead of risking a duplicate.
		p.logger.Error("resource existence check failed", "id", id, "error", err)
		return true
	}
	return exists
}

func (p *Postgres) scanResource(row pgx.Row) (*droplet.Resource, error) {
	var res droplet.Resource
	err := row.Scan(&res.ID, &res.OriginalName, &res.StoredFilename, &res.StorageKey,
		&res.MimeType, &res.SizeBytes, &res.UploadedAt, &res.UploaderToken,
		&res.ThumbnailKey, &res.DominantColor, &res.Embed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, droplet.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	return &res, nil
}

// Credential operations

func (p *Postgres) Authenticate(ctx context.Context, token string) (*droplet.Identity, bool) {
	var ident droplet.Identity
	err := p.pool.QueryRow(ctx,
		`SELECT token, username, upload_count FROM identities WHERE token = $1`, token).
		Scan(&ident.Token, &ident.Username, &ident.UploadCount)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			p.logger.Error("identity lookup failed", "error", err)
		}
		return nil, false
	}
	return &ident, true
}

func (p *Postgres) RecordUpload(ctx context.Context, token string) (*droplet.Identity, error) {
	if token == "" {
		return nil, droplet.ErrUnauthorized
	}

	for attempt := 0; attempt < usernameAttempts; attempt++ {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, err
		}
		username := "user-" + hex.EncodeToString(b[:])

		const q = `
INSERT INTO identities (token, username, upload_count)
VALUES ($1, $2, 1)
ON CONFLICT (token) DO UPDATE SET upload_count = identities.upload_count + 1
RETURNING token, username, upload_count`
		var ident droplet.Identity
		err := p.pool.QueryRow(ctx, q, token, username).
			Scan(&ident.Token, &ident.Username, &ident.UploadCount)
		if err == nil {
			return &ident, nil
		}
		if isUniqueViolation(err) {
			// Generated username collided with an existing identity.
			continue
		}
		return nil, fmt.Errorf("record upload: %w", err)
	}
	return nil, droplet.ErrIDSpaceExhausted
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
