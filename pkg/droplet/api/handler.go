// Package api exposes the droplet service over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/dropletd/droplet/pkg/droplet"
)

// Handler wires the droplet service into chi routes.
type Handler struct {
	svc     droplet.Service
	baseURL string
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler. baseURL is the public URL the
// service is reachable at; it feeds canonical URLs in embed documents.
func NewHandler(svc droplet.Service, baseURL string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:     svc,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Routes returns the service router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Post("/", h.Upload)
	r.Get("/delete/{filename}", h.Delete)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Retrieve)
		r.Get("/thumbnail", h.Thumbnail)
		r.Get("/oembed.json", h.OEmbed)
	})
	return r
}

// UploadResponse is the JSON body returned to a successful uploader.
type UploadResponse struct {
	Resource  string `json:"resource"`
	Thumbnail string `json:"thumbnail"`
	Delete    string `json:"delete"`
}

// Upload accepts a multipart upload and runs the ingestion pipeline. The
// response is flushed before notification and accounting run.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	req := droplet.UploadRequest{
		Token:        bearerToken(r),
		OriginalName: header.Filename,
		MimeType:     uploadMimeType(header.Header.Get("Content-Type"), header.Filename),
		Body:         file,
		Strategy:     droplet.Strategy(r.Header.Get("x-ass-access")),
		Domain:       normalizeDomain(r.Header.Get("x-ass-domain")),
		Embed: droplet.EmbedOverrides{
			Title:       r.Header.Get("x-ass-og-title"),
			Description: r.Header.Get("x-ass-og-description"),
			Author:      r.Header.Get("x-ass-og-author"),
			AuthorURL:   r.Header.Get("x-ass-og-author-url"),
			Provider:    r.Header.Get("x-ass-og-provider"),
			ProviderURL: r.Header.Get("x-ass-og-provider-url"),
			Color:       r.Header.Get("x-ass-og-color"),
		},
	}
	if v := r.Header.Get("x-ass-gfycat"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.GfyWords = n
		}
	}
	if whURL := r.Header.Get("x-ass-webhook-url"); whURL != "" {
		req.Webhook = &droplet.WebhookTarget{
			URL:      whURL,
			Username: r.Header.Get("x-ass-webhook-username"),
			Avatar:   r.Header.Get("x-ass-webhook-avatar"),
		}
	}

	result, err := h.svc.Upload(r.Context(), req)
	if err != nil {
		h.uploadError(w, header.Filename, err)
		return
	}

	render.JSON(w, r, UploadResponse{
		Resource:  result.ResourceURL,
		Thumbnail: result.ThumbnailURL,
		Delete:    result.DeleteURL,
	})

	// Notification and accounting run after the response is committed and
	// must survive the request context.
	go h.svc.FinishUpload(context.WithoutCancel(r.Context()), result)
}

func (h *Handler) uploadError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, droplet.ErrUnauthorized) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	// Everything else (storage write, exhausted identifier space, store
	// failures) is a server-side fault.
	h.logger.Error("upload failed", "name", name, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Retrieve serves a resource: an embed document for crawlers, raw bytes for
// everyone else.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if IsBot(r.UserAgent()) {
		h.renderEmbed(w, r, res)
		return
	}

	// Local payloads are served with byte-range support.
	if path, ok := h.svc.LocalPath(res); ok {
		f, err := os.Open(path)
		if err != nil {
			h.logger.Error("resource payload unreadable", "id", res.ID, "error", err)
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			h.logger.Error("resource payload unreadable", "id", res.ID, "error", err)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", res.MimeType)
		http.ServeContent(w, r, res.StoredFilename, info.ModTime(), f)
		return
	}

	rc, meta, err := h.svc.Open(r.Context(), res)
	if err != nil {
		h.logger.Error("resource payload unreadable", "id", res.ID, "error", err)
		http.NotFound(w, r)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("resource stream interrupted", "id", res.ID, "error", err)
	}
}

// Thumbnail serves the resource's JPEG thumbnail.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	rc, err := h.svc.Thumbnail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("thumbnail stream interrupted", "error", err)
	}
}

// Delete removes a resource addressed by its stored filename.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	res, err := h.svc.Delete(r.Context(), filename)
	if err != nil {
		if errors.Is(err, droplet.ErrUnknownResource) {
			http.Error(w, "unknown resource", http.StatusBadRequest)
			return
		}
		h.logger.Error("delete failed", "filename", filename, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("deleted " + res.OriginalName + "\n"))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "healthy"})
}

// resourceURL builds the canonical public URL for a resource.
func (h *Handler) resourceURL(res *droplet.Resource) string {
	ext := filepath.Ext(res.StoredFilename)
	return h.baseURL + "/" + url.PathEscape(res.ID) + ext
}

func (h *Handler) thumbnailURL(res *droplet.Resource) string {
	return h.baseURL + "/" + url.PathEscape(res.ID) + "/thumbnail"
}

// bearerToken extracts the upload credential from the Authorization header.
// ShareX-style clients send the raw token without a scheme prefix.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return auth
}

func uploadMimeType(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// normalizeDomain turns a bare host override into a full base URL.
func normalizeDomain(domain string) string {
	if domain == "" || strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}
