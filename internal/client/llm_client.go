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

	"github.com/topicreel/api/internal/config"
)

// ScriptGenerator defines the interface for narration script generation.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic string, targetWords int) (string, error)
	IsConfigured() bool
}

// GroqClient handles communication with the Groq chat-completions API.
type GroqClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

const scriptSystemPrompt = `You are a scriptwriter for short narrated videos on faceless channels.
Write an engaging spoken-word script on the given topic: a strong hook in the
first sentence, clear factual body, and a closing line that invites comments.
Respond with ONLY the narration text - no headings, no scene directions, no
markdown.`

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.LLMConfig) *GroqClient {
	return &GroqClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// GenerateScript produces a narration script of roughly targetWords words.
// Without an API key it returns a deterministic mock script so the pipeline
// stays runnable in development.
func (c *GroqClient) GenerateScript(ctx context.Context, topic string, targetWords int) (string, error) {
	if !c.IsConfigured() {
		return mockScript(topic, targetWords), nil
	}

	userPrompt := fmt.Sprintf("Topic: %s\nTarget length: about %d words.", topic, targetWords)
	return c.chatCompletion(ctx, scriptSystemPrompt, userPrompt)
}

func (c *GroqClient) chatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Service: "groq", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}

func mockScript(topic string, targetWords int) string {
	sentence := fmt.Sprintf("Here is something most people never learn about %s.", topic)
	body := fmt.Sprintf("Let's take a closer look at %s and why it matters more than you think.", topic)

	var sb strings.Builder
	sb.WriteString(sentence)
	words := len(strings.Fields(sentence))
	for words < targetWords {
		sb.WriteString(" ")
		sb.WriteString(body)
		words += len(strings.Fields(body))
	}
	return sb.String()
}
