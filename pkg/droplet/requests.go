package droplet

import "io"

// UploadRequest carries one upload through the ingestion pipeline.
type UploadRequest struct {
	Token        string
	OriginalName string
	MimeType     string
	Body         io.Reader

	// Strategy overrides the configured default when non-empty.
	Strategy Strategy
	// GfyWords overrides the word count for the gfycat strategy when > 0.
	GfyWords int
	// Domain overrides the configured public base URL when non-empty.
	Domain string

	Embed   EmbedOverrides
	Webhook *WebhookTarget
}

// UploadResult is returned once a resource is committed. The caller renders
// it to the client, then hands it back to FinishUpload for notification and
// accounting.
type UploadResult struct {
	Resource     *Resource
	ResourceURL  string
	ThumbnailURL string
	DeleteURL    string

	webhook *WebhookTarget
	token   string
}
