package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/dropletd/droplet/pkg/droplet"
)

// botMarkers classify crawler and messenger user agents that should get an
// embed document instead of raw bytes.
var botMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"discord",
	"telegram",
	"whatsapp",
	"slack",
	"facebookexternalhit",
	"skypeuripreview",
	"pinterest",
	"embedly",
	"vkshare",
}

// IsBot reports whether the user agent belongs to an automated crawler.
func IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

const defaultProvider = "droplet"

var embedTemplate = template.Must(template.New("embed").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta property="og:title" content="{{.Title}}">
{{- if .Description}}
<meta property="og:description" content="{{.Description}}">
{{- end}}
<meta property="og:site_name" content="{{.Provider}}">
<meta property="og:url" content="{{.ResourceURL}}">
{{- if .IsVideo}}
<meta property="og:type" content="video.other">
<meta property="og:video" content="{{.ResourceURL}}">
<meta property="og:video:type" content="{{.MimeType}}">
<meta name="twitter:card" content="player">
{{- else}}
<meta property="og:type" content="website">
<meta property="og:image" content="{{.ImageURL}}">
<meta name="twitter:card" content="summary_large_image">
<meta name="twitter:image" content="{{.ImageURL}}">
{{- end}}
{{- if .Color}}
<meta name="theme-color" content="{{.Color}}">
{{- end}}
<link rel="alternate" type="application/json+oembed" href="{{.OEmbedURL}}" title="{{.Title}}">
</head>
<body></body>
</html>
`))

type embedData struct {
	Title       string
	Description string
	Provider    string
	ResourceURL string
	ImageURL    string
	OEmbedURL   string
	MimeType    string
	Color       string
	IsVideo     bool
}

// renderEmbed writes the crawler-facing embed document for a resource.
// Override fields fall back to sensible defaults derived from the resource.
func (h *Handler) renderEmbed(w http.ResponseWriter, r *http.Request, res *droplet.Resource) {
	resourceURL := h.resourceURL(res)

	data := embedData{
		Title:       res.Embed.Title,
		Description: res.Embed.Description,
		Provider:    res.Embed.Provider,
		ResourceURL: resourceURL,
		ImageURL:    resourceURL,
		OEmbedURL:   h.baseURL + "/" + res.ID + "/oembed.json",
		MimeType:    res.MimeType,
		Color:       res.Embed.Color,
		IsVideo:     res.IsVideo(),
	}
	if data.Title == "" {
		data.Title = res.OriginalName
	}
	if data.Provider == "" {
		data.Provider = defaultProvider
	}
	if data.Color == "" {
		data.Color = res.DominantColor
	}
	if res.ThumbnailKey != "" {
		data.ImageURL = h.thumbnailURL(res)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := embedTemplate.Execute(w, data); err != nil {
		h.logger.Error("embed render failed", "id", res.ID, "error", err)
	}
}

// OEmbedDocument is the fixed-shape oEmbed response.
type OEmbedDocument struct {
	Version      string `json:"version"`
	Type         string `json:"type"`
	Title        string `json:"title,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorURL    string `json:"author_url,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	ProviderURL  string `json:"provider_url,omitempty"`
}

// OEmbed serves the oEmbed metadata document for a resource.
func (h *Handler) OEmbed(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	docType := "link"
	switch {
	case res.IsVideo():
		docType = "video"
	case res.IsImage():
		docType = "photo"
	}

	provider := res.Embed.Provider
	if provider == "" {
		provider = defaultProvider
	}

	render.JSON(w, r, OEmbedDocument{
		Version:      "1.0",
		Type:         docType,
		Title:        res.Embed.Title,
		AuthorName:   res.Embed.Author,
		AuthorURL:    res.Embed.AuthorURL,
		ProviderName: provider,
		ProviderURL:  res.Embed.ProviderURL,
	})
}
