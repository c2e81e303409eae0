// Package textgen wraps an OpenAI-compatible chat completions endpoint and
// builds the insight synthesis and script writing steps on top of it. Both
// steps are stateless transformations; all durable state stays in the
// pipeline's persistence layer.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/providers"
)

const providerName = "textgen"

// Prompt is one chat completion request.
type Prompt struct {
	System     string
	User       string
	JSONOutput bool
	MaxTokens  int
}

// Generator produces one completion for a prompt. Implementations must be
// safe for concurrent use.
type Generator interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
	Model() string
}

// Client is the production Generator over an OpenAI-compatible API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

// NewClient creates a text generation client from configuration.
func NewClient(cfg config.TextGen) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model identifier, recorded on generated
// artifacts for the audit trail.
func (c *Client) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion request and returns the raw assistant
// message content.
func (c *Client) Complete(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]chatMessage, 0, 2)

	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}

	messages = append(messages, chatMessage{Role: "user", Content: prompt.User})

	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   prompt.MaxTokens,
	}

	if prompt.JSONOutput {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", providers.NewTransportError(providerName, "Complete", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return "", providers.NewError(providerName, "Complete", resp.StatusCode, strings.TrimSpace(string(message)))
	}

	var completion chatResponse

	err = json.NewDecoder(resp.Body).Decode(&completion)
	if err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if completion.Error != nil {
		return "", providers.NewError(providerName, "Complete", resp.StatusCode, completion.Error.Message)
	}

	if len(completion.Choices) == 0 {
		return "", providers.NewError(providerName, "Complete", resp.StatusCode, "completion returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}
