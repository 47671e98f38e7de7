package droplet

// Strategy is the domain type for resource identifier generation strategies.
type Strategy string

// Identifier strategy constants (typed).
const (
	StrategyRandom    Strategy = "random"
	StrategyGfycat    Strategy = "gfycat"
	StrategyZeroWidth Strategy = "zws"
	StrategyOriginal  Strategy = "original"
)

// Valid reports whether s names a known identifier strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRandom, StrategyGfycat, StrategyZeroWidth, StrategyOriginal:
		return true
	}
	return false
}

// EmbedOverrides carries the per-upload OpenGraph fields used when a
// resource is rendered as an embed document for crawlers. Every field is
// independently optional; empty fields fall back to service defaults.
type EmbedOverrides struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	AuthorURL   string `json:"author_url,omitempty"`
	Provider    string `json:"provider,omitempty"`
	ProviderURL string `json:"provider_url,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Resource represents one uploaded file: its byte payload location plus the
// metadata needed to serve it back. It is addressed by ID, a short opaque
// string derived from the stored filename's stem.
type Resource struct {
	ID             string         `json:"id"`
	OriginalName   string         `json:"original_name"`
	StoredFilename string         `json:"stored_filename"`
	StorageKey     string         `json:"storage_key"`
	MimeType       string         `json:"mime_type"`
	SizeBytes      int64          `json:"size_bytes"`
	UploadedAt     int64          `json:"uploaded_at"` // unix millis
	UploaderToken  string         `json:"uploader_token"`
	ThumbnailKey   string         `json:"thumbnail_key,omitempty"`
	DominantColor  string         `json:"dominant_color,omitempty"`
	Embed          EmbedOverrides `json:"embed,omitempty"`
}

// IsVideo reports whether the resource's mime type indicates video content.
func (r *Resource) IsVideo() bool {
	return len(r.MimeType) >= 6 && r.MimeType[:6] == "video/"
}

// IsImage reports whether the resource's mime type indicates image content.
func (r *Resource) IsImage() bool {
	return len(r.MimeType) >= 6 && r.MimeType[:6] == "image/"
}

// Identity is one upload credential: an opaque token, its unique display
// name, and a monotonically non-decreasing upload counter.
type Identity struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	UploadCount int64  `json:"upload_count"`
}

// WebhookTarget describes where an upload notification is delivered and how
// the sender presents itself.
type WebhookTarget struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}
