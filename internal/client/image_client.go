package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/topicreel/api/internal/config"
	"github.com/topicreel/api/internal/model"
)

// ThumbnailGenerator defines the interface for thumbnail image generation.
type ThumbnailGenerator interface {
	GenerateThumbnail(ctx context.Context, topic string, style model.StyleConfig) (string, error)
	IsConfigured() bool
}

// PollinationsClient implements ThumbnailGenerator against the
// Pollinations prompt-to-image endpoint. The generated image is written to
// the local output directory; the caller decides whether to push it to
// object storage.
type PollinationsClient struct {
	httpClient *http.Client
	baseURL    string
	outputDir  string
}

// NewPollinationsClient creates a new image generation client
func NewPollinationsClient(cfg *config.ThumbnailConfig) *PollinationsClient {
	return &PollinationsClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:   cfg.BaseURL,
		outputDir: cfg.OutputDir,
	}
}

var stylePrompts = map[model.ThumbnailStyle]string{
	model.ThumbnailStyleBold:      "bold high-contrast colors, large dramatic composition",
	model.ThumbnailStyleMinimal:   "minimalist flat design, single subject, lots of negative space",
	model.ThumbnailStyleVibrant:   "vibrant saturated colors, energetic composition",
	model.ThumbnailStyleCinematic: "cinematic lighting, shallow depth of field, film still",
}

// GenerateThumbnail renders a thumbnail image for the topic and returns a
// reference to it. Without a configured endpoint it returns a mock
// reference.
func (c *PollinationsClient) GenerateThumbnail(ctx context.Context, topic string, style model.StyleConfig) (string, error) {
	if !c.IsConfigured() {
		return fmt.Sprintf("mock://thumbnail/%s.jpg", uuid.New().String()), nil
	}

	prompt := fmt.Sprintf("youtube thumbnail for a video about %s, %s, no text", topic, stylePrompts[style.Style])
	endpoint := fmt.Sprintf("%s/prompt/%s?width=%d&height=%d&nologo=true",
		c.baseURL, url.PathEscape(prompt), style.Width, style.Height)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &APIError{Service: "pollinations", StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outPath := filepath.Join(c.outputDir, fmt.Sprintf("thumb-%s.jpg", uuid.New().String()))
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create thumbnail file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return outPath, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *PollinationsClient) IsConfigured() bool {
	return c.baseURL != ""
}
