package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"encoding/json"

	"github.com/topicreel/api/internal/config"
	"github.com/topicreel/api/internal/model"
)

// VisualSearcher defines the interface for visual asset search.
type VisualSearcher interface {
	FindVisuals(ctx context.Context, keywords []string, count int) ([]model.VisualAsset, error)
	IsConfigured() bool
}

// PexelsClient implements VisualSearcher against the Pexels photo and
// video search APIs.
type PexelsClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewPexelsClient creates a new Pexels search client
func NewPexelsClient(cfg *config.PexelsConfig) *PexelsClient {
	return &PexelsClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

type pexelsPhotoResponse struct {
	Photos []struct {
		ID  int64 `json:"id"`
		Src struct {
			Large2x string `json:"large2x"`
			Large   string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

type pexelsVideoResponse struct {
	Videos []struct {
		ID         int64   `json:"id"`
		Duration   float64 `json:"duration"`
		VideoFiles []struct {
			Link    string `json:"link"`
			Quality string `json:"quality"`
		} `json:"video_files"`
	} `json:"videos"`
}

// FindVisuals searches Pexels for assets matching the keywords, mixing
// video clips and photos, in API return order. Without an API key it
// returns mock image assets.
func (c *PexelsClient) FindVisuals(ctx context.Context, keywords []string, count int) ([]model.VisualAsset, error) {
	if count <= 0 {
		return nil, fmt.Errorf("asset count must be positive, got %d", count)
	}
	if !c.IsConfigured() {
		return mockVisuals(keywords, count), nil
	}

	query := strings.Join(keywords, " ")

	// Video clips carry a scene better than stills, so ask for up to half
	// the budget in clips and fill the rest with photos.
	videoCount := count / 2
	var assets []model.VisualAsset

	if videoCount > 0 {
		videos, err := c.searchVideos(ctx, query, videoCount)
		if err != nil {
			return nil, err
		}
		assets = append(assets, videos...)
	}

	photos, err := c.searchPhotos(ctx, query, count-len(assets))
	if err != nil {
		return nil, err
	}
	assets = append(assets, photos...)

	return assets, nil
}

func (c *PexelsClient) searchPhotos(ctx context.Context, query string, count int) ([]model.VisualAsset, error) {
	if count <= 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/v1/search?query=%s&per_page=%d&orientation=portrait",
		c.baseURL, url.QueryEscape(query), count)

	var result pexelsPhotoResponse
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	var assets []model.VisualAsset
	for _, p := range result.Photos {
		ref := p.Src.Large2x
		if ref == "" {
			ref = p.Src.Large
		}
		if ref == "" {
			continue
		}
		assets = append(assets, model.VisualAsset{
			Kind:      model.VisualKindImage,
			SourceRef: ref,
		})
	}
	return assets, nil
}

func (c *PexelsClient) searchVideos(ctx context.Context, query string, count int) ([]model.VisualAsset, error) {
	endpoint := fmt.Sprintf("%s/videos/search?query=%s&per_page=%d&orientation=portrait",
		c.baseURL, url.QueryEscape(query), count)

	var result pexelsVideoResponse
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	var assets []model.VisualAsset
	for _, v := range result.Videos {
		var link string
		for _, f := range v.VideoFiles {
			if f.Quality == "hd" {
				link = f.Link
				break
			}
		}
		if link == "" && len(v.VideoFiles) > 0 {
			link = v.VideoFiles[0].Link
		}
		if link == "" {
			continue
		}
		assets = append(assets, model.VisualAsset{
			Kind:                  model.VisualKindVideo,
			SourceRef:             link,
			NativeDurationSeconds: v.Duration,
		})
	}
	return assets, nil
}

func (c *PexelsClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Service: "pexels", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *PexelsClient) IsConfigured() bool {
	return c.apiKey != ""
}

func mockVisuals(keywords []string, count int) []model.VisualAsset {
	tag := "topic"
	if len(keywords) > 0 {
		tag = keywords[0]
	}
	assets := make([]model.VisualAsset, count)
	for i := range assets {
		assets[i] = model.VisualAsset{
			Kind:      model.VisualKindImage,
			SourceRef: fmt.Sprintf("mock://visual/%s-%d.jpg", tag, i),
		}
	}
	return assets
}
