package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
)

// Instagram publishes reels through the Graph API's two-step container flow:
// create a media container pointing at the mirrored URL, then publish it.
type Instagram struct {
	baseURL     string
	userID      string
	accessToken string
	client      *http.Client
}

// NewInstagram creates the Instagram adapter from configuration.
func NewInstagram(cfg config.Social) *Instagram {
	return &Instagram{
		baseURL:     strings.TrimSuffix(cfg.InstagramBaseURL, "/"),
		userID:      cfg.InstagramUserID,
		accessToken: cfg.InstagramAccessToken,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Platform returns the platform name this adapter serves.
func (i *Instagram) Platform() string {
	return models.PlatformInstagram
}

type instagramIDResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish creates a reel container from the mirrored URL, then publishes it.
func (i *Instagram) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	container, err := i.createContainer(ctx, req)
	if err != nil {
		return nil, err
	}

	mediaID, err := i.publishContainer(ctx, container)
	if err != nil {
		return nil, err
	}

	return &PublishResult{PlatformRef: mediaID}, nil
}

func (i *Instagram) createContainer(ctx context.Context, req PublishRequest) (string, error) {
	payload := map[string]any{
		"media_type":   "REELS",
		"video_url":    req.VideoURL,
		"caption":      TrimCaption(models.PlatformInstagram, req.Caption),
		"access_token": i.accessToken,
	}

	created, err := i.post(ctx, "Publish", fmt.Sprintf("%s/%s/media", i.baseURL, i.userID), payload)
	if err != nil {
		return "", err
	}

	if created.ID == "" {
		return "", providers.NewError(models.PlatformInstagram, "Publish", http.StatusOK, "no container id returned")
	}

	return created.ID, nil
}

func (i *Instagram) publishContainer(ctx context.Context, containerID string) (string, error) {
	payload := map[string]any{
		"creation_id":  containerID,
		"access_token": i.accessToken,
	}

	published, err := i.post(ctx, "Publish", fmt.Sprintf("%s/%s/media_publish", i.baseURL, i.userID), payload)
	if err != nil {
		return "", err
	}

	if published.ID == "" {
		return "", providers.NewError(models.PlatformInstagram, "Publish", http.StatusOK, "no media id returned")
	}

	return published.ID, nil
}

func (i *Instagram) post(ctx context.Context, op, endpoint string, payload map[string]any) (*instagramIDResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instagram payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create instagram request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.PlatformInstagram, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded instagramIDResponse

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode instagram response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := resp.Status
		if decoded.Error != nil {
			message = decoded.Error.Message
		}

		return nil, providers.NewError(models.PlatformInstagram, op, resp.StatusCode, message)
	}

	return &decoded, nil
}

type instagramMediaResponse struct {
	LikeCount     int64 `json:"like_count"`
	CommentsCount int64 `json:"comments_count"`
	Error         *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Engagement reads counters from the media node. The node only exposes likes
// and comments; plays and shares require the insights product and stay zero.
func (i *Instagram) Engagement(ctx context.Context, platformRef string) (*models.Engagement, error) {
	params := url.Values{}
	params.Set("fields", "like_count,comments_count")
	params.Set("access_token", i.accessToken)

	endpoint := fmt.Sprintf("%s/%s?%s", i.baseURL, platformRef, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create instagram request: %w", err)
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.PlatformInstagram, "Engagement", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var media instagramMediaResponse

	err = json.NewDecoder(resp.Body).Decode(&media)
	if err != nil {
		return nil, fmt.Errorf("failed to decode instagram media response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := resp.Status
		if media.Error != nil {
			message = media.Error.Message
		}

		return nil, providers.NewError(models.PlatformInstagram, "Engagement", resp.StatusCode, message)
	}

	return &models.Engagement{
		Likes:    media.LikeCount,
		Comments: media.CommentsCount,
	}, nil
}
