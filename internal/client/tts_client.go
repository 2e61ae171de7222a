package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/topicreel/api/internal/config"
)

// SpeechSynthesizer defines the interface for text-to-speech synthesis.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*SynthesisResult, error)
	IsConfigured() bool
}

// SynthesisResult is the outcome of synthesizing one chunk of text.
type SynthesisResult struct {
	AudioRef        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// TTSClient implements SpeechSynthesizer against the speech-synthesis
// microservice.
type TTSClient struct {
	httpClient *http.Client
	baseURL    string
	voiceID    string
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// NewTTSClient creates a new speech synthesis client
func NewTTSClient(cfg *config.TTSConfig) *TTSClient {
	return &TTSClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
		voiceID: cfg.VoiceID,
	}
}

// Synthesize converts one chunk of text into speech and returns a reference
// to the produced audio plus its measured duration. Without a configured
// service it returns a mock result with a duration estimated at natural
// speaking pace.
func (c *TTSClient) Synthesize(ctx context.Context, text, voiceID string) (*SynthesisResult, error) {
	if voiceID == "" {
		voiceID = c.voiceID
	}
	if !c.IsConfigured() {
		return mockSynthesis(text), nil
	}

	reqBody := synthesizeRequest{Text: text, VoiceID: voiceID}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Service: "tts", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result SynthesisResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// HealthCheck checks if the speech service is available
func (c *TTSClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TTSClient) IsConfigured() bool {
	return c.baseURL != ""
}

// mockSynthesis estimates duration at 150 words per minute.
func mockSynthesis(text string) *SynthesisResult {
	words := len(strings.Fields(text))
	return &SynthesisResult{
		AudioRef:        fmt.Sprintf("mock://audio/%s.mp3", uuid.New().String()),
		DurationSeconds: float64(words) / 150.0 * 60.0,
	}
}
