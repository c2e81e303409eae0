// Package videogen wraps the avatar video rendering provider. Rendering is
// asynchronous on the provider side: Submit returns a task id immediately and
// Status is polled until the render reaches a terminal state. The polling
// schedule and wall-clock cap live in the pipeline, not here.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/providers"
)

const providerName = "videogen"

// Render states reported by the provider. Anything else is treated as still
// in flight.
const (
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Submission describes one render request.
type Submission struct {
	Script      string
	AvatarID    string
	VoiceID     string
	AspectRatio string
}

// TaskStatus is one poll result.
type TaskStatus struct {
	State           string
	VideoURL        string
	ThumbnailURL    string
	DurationSeconds float64
	Error           string
}

// Terminal reports whether the provider will make no further progress.
func (s TaskStatus) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// Renderer is the provider capability the pipeline consumes.
type Renderer interface {
	Submit(ctx context.Context, sub Submission) (string, error)
	Status(ctx context.Context, taskID string) (*TaskStatus, error)
}

// Client is the production Renderer over the provider's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a video generation client from configuration.
func NewClient(cfg config.VideoGen) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	VideoInputs []videoInput `json:"video_inputs"`
	Dimension   dimension    `json:"dimension"`
}

type videoInput struct {
	Character character `json:"character"`
	Voice     voice     `json:"voice"`
}

type character struct {
	Type     string `json:"type"`
	AvatarID string `json:"avatar_id"`
}

type voice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id"`
}

type dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type generateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
	Error *providerError `json:"error"`
}

type statusResponse struct {
	Data struct {
		Status       string  `json:"status"`
		VideoURL     string  `json:"video_url"`
		ThumbnailURL string  `json:"thumbnail_url"`
		Duration     float64 `json:"duration"`
		Error        *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
	Error *providerError `json:"error"`
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Submit sends one render request and returns the provider's task id.
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	payload := generateRequest{
		VideoInputs: []videoInput{
			{
				Character: character{Type: "avatar", AvatarID: sub.AvatarID},
				Voice:     voice{Type: "text", InputText: sub.Script, VoiceID: sub.VoiceID},
			},
		},
		Dimension: aspectDimension(sub.AspectRatio),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/video/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create render request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", providers.NewTransportError(providerName, "Submit", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return "", providers.NewError(providerName, "Submit", resp.StatusCode, strings.TrimSpace(string(message)))
	}

	var generated generateResponse

	err = json.NewDecoder(resp.Body).Decode(&generated)
	if err != nil {
		return "", fmt.Errorf("failed to decode render response: %w", err)
	}

	if generated.Error != nil {
		return "", providers.NewError(providerName, "Submit", resp.StatusCode, generated.Error.Message)
	}

	if generated.Data.VideoID == "" {
		return "", providers.NewError(providerName, "Submit", resp.StatusCode, "render accepted without a task id")
	}

	return generated.Data.VideoID, nil
}

// Status polls one render task.
func (c *Client) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	params := url.Values{}
	params.Set("video_id", taskID)

	endpoint := c.baseURL + "/v1/video_status.get?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(providerName, "Status", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, providers.NewError(providerName, "Status", resp.StatusCode, strings.TrimSpace(string(message)))
	}

	var polled statusResponse

	err = json.NewDecoder(resp.Body).Decode(&polled)
	if err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	if polled.Error != nil {
		return nil, providers.NewError(providerName, "Status", resp.StatusCode, polled.Error.Message)
	}

	status := &TaskStatus{
		State:           normalizeState(polled.Data.Status),
		VideoURL:        polled.Data.VideoURL,
		ThumbnailURL:    polled.Data.ThumbnailURL,
		DurationSeconds: polled.Data.Duration,
	}

	if polled.Data.Error != nil {
		status.Error = polled.Data.Error.Message
	}

	return status, nil
}

// normalizeState maps the provider's status vocabulary onto ours. Queued and
// waiting renders count as processing: submitted, not terminal.
func normalizeState(state string) string {
	switch state {
	case StateCompleted, StateFailed:
		return state
	default:
		return StateProcessing
	}
}

// aspectDimension maps an aspect ratio onto provider pixel dimensions.
// Vertical 9:16 is the default because short-form targets want portrait.
func aspectDimension(ratio string) dimension {
	switch ratio {
	case "16:9":
		return dimension{Width: 1920, Height: 1080}
	case "1:1":
		return dimension{Width: 1080, Height: 1080}
	default:
		return dimension{Width: 1080, Height: 1920}
	}
}
