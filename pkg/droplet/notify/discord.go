// Package notify delivers upload notifications to Discord-compatible
// webhooks. Delivery is best effort: the pipeline logs failures and never
// retries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dropletd/droplet/pkg/droplet"
)

const defaultUsername = "droplet"

// Discord posts embed payloads to a webhook URL.
type Discord struct {
	client *http.Client
}

// NewDiscord returns a notifier whose requests are bounded by timeout.
func NewDiscord(timeout time.Duration) *Discord {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discord{client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds"`
}

type embed struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url"`
	Color       int             `json:"color,omitempty"`
	Thumbnail   *embedThumbnail `json:"thumbnail,omitempty"`
	Footer      *embedFooter    `json:"footer,omitempty"`
}

type embedThumbnail struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// Send posts one upload notification. A non-2xx response is an error.
func (d *Discord) Send(ctx context.Context, target droplet.WebhookTarget, note droplet.UploadNote) error {
	username := target.Username
	if username == "" {
		username = defaultUsername
	}

	e := embed{
		Title:       note.OriginalName,
		Description: fmt.Sprintf("[view](%s) • [delete](%s)", note.ResourceURL, note.DeleteURL),
		URL:         note.ResourceURL,
		Color:       hexToColor(note.Color),
	}
	if note.ThumbnailURL != "" {
		e.Thumbnail = &embedThumbnail{URL: note.ThumbnailURL}
	}
	if note.Uploader != "" {
		e.Footer = &embedFooter{Text: "uploaded by " + note.Uploader}
	}

	body, err := json.Marshal(webhookPayload{
		Username:  username,
		AvatarURL: target.Avatar,
		Embeds:    []embed{e},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// hexToColor converts "#rrggbb" to the integer form Discord expects.
// Unparseable input yields zero, which Discord treats as default.
func hexToColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0
	}
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
