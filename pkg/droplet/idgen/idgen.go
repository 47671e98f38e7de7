// Package idgen produces collision-free public resource identifiers.
//
// Four strategies are supported: fixed-length alphanumeric, gfycat-style
// word triplets, zero-width (invisible) identifiers, and reuse of the
// uploaded filename's stem. Collision checking is delegated to the caller
// through the Taken callback; minting retries up to a bounded ceiling.
package idgen

import (
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/dropletd/droplet/pkg/droplet"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// zeroWidthRunes are the code points composing invisible identifiers.
var zeroWidthRunes = []rune{'\u200b', '\u200c', '\u200d', '\u2060'}

const defaultMaxAttempts = 100

// Generate mints an identifier under the requested strategy, regenerating
// on collision until the attempt ceiling is hit.
func Generate(req droplet.GenerateRequest) (string, error) {
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	for i := 0; i < attempts; i++ {
		id := mint(req)
		if id == "" {
			break
		}
		if req.Taken == nil || !req.Taken(id) {
			return id, nil
		}
		if req.Strategy == droplet.StrategyOriginal {
			// Deterministic strategy; retrying cannot free the stem.
			break
		}
	}
	return "", droplet.ErrIDSpaceExhausted
}

func mint(req droplet.GenerateRequest) string {
	length := req.Length
	if length <= 0 {
		length = 8
	}

	switch req.Strategy {
	case droplet.StrategyGfycat:
		words := req.GfyWords
		if words <= 0 {
			words = 2
		}
		return gfycat(words)
	case droplet.StrategyZeroWidth:
		return zeroWidth(length)
	case droplet.StrategyOriginal:
		return sanitizeStem(req.OriginalName)
	default:
		return random(length)
	}
}

func random(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumeric[rand.IntN(len(alphanumeric))]
	}
	return string(b)
}

// gfycat composes n capitalized adjectives followed by one animal name.
func gfycat(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(adjectives[rand.IntN(len(adjectives))])
	}
	sb.WriteString(animals[rand.IntN(len(animals))])
	return sb.String()
}

func zeroWidth(length int) string {
	runes := make([]rune, length)
	for i := range runes {
		runes[i] = zeroWidthRunes[rand.IntN(len(zeroWidthRunes))]
	}
	return string(runes)
}

// sanitizeStem reduces an uploaded filename to a URL-safe identifier stem.
// Dots are replaced so extension stripping on retrieval cannot truncate it.
func sanitizeStem(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var sb strings.Builder
	sb.Grow(len(stem))
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	return strings.Trim(sb.String(), "-")
}
