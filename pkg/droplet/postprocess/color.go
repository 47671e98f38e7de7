package postprocess

import (
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

// ImageColorExtractor picks a representative color from a raster image by
// bucketing a downsampled copy and averaging the most populated bucket.
type ImageColorExtractor struct{}

// NewColorExtractor returns an extractor with default sampling.
func NewColorExtractor() *ImageColorExtractor {
	return &ImageColorExtractor{}
}

const sampleEdge = 64

// DominantColor returns the image's dominant color as "#rrggbb".
func (e *ImageColorExtractor) DominantColor(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := imaging.Open(path)
	if err != nil {
		return "", err
	}
	sample := imaging.Resize(img, sampleEdge, sampleEdge, imaging.Box)

	// 4 bits per channel: coarse enough that gradients land in one bucket.
	type bucket struct {
		count   int
		r, g, b uint64
	}
	buckets := make(map[uint16]*bucket)

	bounds := sample.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := sample.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			r8, g8, b8 := uint8(r>>8), uint8(g>>8), uint8(b>>8)
			key := uint16(r8>>4)<<8 | uint16(g8>>4)<<4 | uint16(b8>>4)
			bk := buckets[key]
			if bk == nil {
				bk = &bucket{}
				buckets[key] = bk
			}
			bk.count++
			bk.r += uint64(r8)
			bk.g += uint64(g8)
			bk.b += uint64(b8)
		}
	}

	var best *bucket
	for _, bk := range buckets {
		if best == nil || bk.count > best.count {
			best = bk
		}
	}
	if best == nil {
		return "", fmt.Errorf("image %s has no opaque pixels", path)
	}

	n := uint64(best.count)
	return fmt.Sprintf("#%02x%02x%02x", best.r/n, best.g/n, best.b/n), nil
}
