package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/docforge/docforge/internal/faults"
)

// Client sends a prompt to the external assistant and returns raw text.
// No structure is assumed; callers parse the response themselves.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Config holds the configuration for the HTTP assistant client
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"` // seconds
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// HTTPClient talks to any OpenAI-compatible chat completion endpoint.
// Thread-safe for concurrent use.
type HTTPClient struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

func NewHTTPClient(config *Config) (*HTTPClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &HTTPClient{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// Complete sends one prompt and returns the assistant's text content.
// Transport failures and 5xx responses surface as UpstreamUnavailable.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: req.UserMessage})

	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.maxTokens(req),
		Temperature: c.temperature(req),
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/chat/completions", req.Workspace, request)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", faults.New(faults.ErrEmptyGeneration, "no choices in assistant response")
	}

	return response.Choices[0].Message.Content, nil
}

func (c *HTTPClient) makeRequest(ctx context.Context, method, path, workspace string, payload interface{}) (*ChatResponse, error) {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if workspace != "" {
		req.Header.Set("X-Workspace", workspace)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, faults.Wrap(err, faults.ErrUpstreamUnavailable, "assistant request timed out")
		}
		return nil, faults.Wrap(err, faults.ErrUpstreamUnavailable, "assistant request failed")
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(err, faults.ErrUpstreamUnavailable, "failed to read assistant response")
	}

	if resp.StatusCode >= 500 {
		return nil, faults.Newf(faults.ErrUpstreamUnavailable, "assistant returned status %d", resp.StatusCode).
			WithContext("body", truncate(string(responseBody), 512))
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(responseBody, &chatResponse); err != nil {
		return nil, fmt.Errorf("failed to parse assistant response: %w", err)
	}

	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return &chatResponse, chatResponse.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &chatResponse, fmt.Errorf("assistant request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	return &chatResponse, nil
}

func (c *HTTPClient) maxTokens(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return c.config.MaxTokens
}

func (c *HTTPClient) temperature(req CompletionRequest) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return c.config.Temperature
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
