// Package postprocess derives auxiliary artifacts from uploaded files:
// a JPEG thumbnail and a representative color. Both operate on a local
// file and are safe to run concurrently over the same path.
package postprocess

import (
	"bytes"
	"context"

	"github.com/disintegration/imaging"
)

// ImageThumbnailer renders JPEG thumbnails for raster image uploads.
// Non-image inputs fail decoding; the caller treats that as a recoverable
// condition and commits the resource without a thumbnail.
type ImageThumbnailer struct {
	MaxSize int // bounding box edge in pixels
	Quality int // JPEG quality 1-100
}

// NewThumbnailer returns a thumbnailer with the default bounding box.
func NewThumbnailer() *ImageThumbnailer {
	return &ImageThumbnailer{MaxSize: 256, Quality: 80}
}

// Thumbnail renders the file at path into a JPEG fitting the bounding box.
func (t *ImageThumbnailer) Thumbnail(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, t.MaxSize, t.MaxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(t.Quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
