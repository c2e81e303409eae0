package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
)

// TikTok publishes through the direct-post content API. The video transfers
// by URL pull, so the platform fetches the mirrored file itself.
type TikTok struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewTikTok creates the TikTok adapter from configuration.
func NewTikTok(cfg config.Social) *TikTok {
	return &TikTok{
		baseURL:     strings.TrimSuffix(cfg.TikTokBaseURL, "/"),
		accessToken: cfg.TikTokAccessToken,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Platform returns the platform name this adapter serves.
func (t *TikTok) Platform() string {
	return models.PlatformTikTok
}

type tiktokPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type tiktokSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type tiktokUploadRequest struct {
	PostInfo   tiktokPostInfo   `json:"post_info"`
	SourceInfo tiktokSourceInfo `json:"source_info"`
}

type tiktokUploadResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

type tiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e tiktokError) ok() bool {
	return e.Code == "" || e.Code == "ok"
}

// Publish initializes a direct video post pulled from the mirrored URL.
func (t *TikTok) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	payload := tiktokUploadRequest{
		PostInfo: tiktokPostInfo{
			Title:                 TrimCaption(models.PlatformTikTok, req.Caption),
			PrivacyLevel:          "PUBLIC_TO_EVERYONE",
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: tiktokSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: req.VideoURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tiktok post: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v2/post/publish/video/init/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create tiktok request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+t.accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.PlatformTikTok, "Publish", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var uploaded tiktokUploadResponse

	err = json.NewDecoder(resp.Body).Decode(&uploaded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tiktok response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !uploaded.Error.ok() {
		return nil, providers.NewError(models.PlatformTikTok, "Publish", resp.StatusCode, uploaded.Error.Message)
	}

	if uploaded.Data.PublishID == "" {
		return nil, providers.NewError(models.PlatformTikTok, "Publish", resp.StatusCode, "post accepted without a publish id")
	}

	return &PublishResult{PlatformRef: uploaded.Data.PublishID}, nil
}

type tiktokQueryRequest struct {
	Filters struct {
		VideoIDs []string `json:"video_ids"`
	} `json:"filters"`
}

type tiktokQueryResponse struct {
	Data struct {
		Videos []struct {
			ID           string `json:"id"`
			ViewCount    int64  `json:"view_count"`
			LikeCount    int64  `json:"like_count"`
			CommentCount int64  `json:"comment_count"`
			ShareCount   int64  `json:"share_count"`
		} `json:"videos"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

// Engagement reads the current counters for one published video.
func (t *TikTok) Engagement(ctx context.Context, platformRef string) (*models.Engagement, error) {
	var payload tiktokQueryRequest
	payload.Filters.VideoIDs = []string{platformRef}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tiktok query: %w", err)
	}

	endpoint := t.baseURL + "/v2/video/query/?fields=id,view_count,like_count,comment_count,share_count"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create tiktok query: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+t.accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.PlatformTikTok, "Engagement", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var queried tiktokQueryResponse

	err = json.NewDecoder(resp.Body).Decode(&queried)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tiktok query response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !queried.Error.ok() {
		return nil, providers.NewError(models.PlatformTikTok, "Engagement", resp.StatusCode, queried.Error.Message)
	}

	for _, video := range queried.Data.Videos {
		if video.ID == platformRef {
			return &models.Engagement{
				Views:    video.ViewCount,
				Likes:    video.LikeCount,
				Comments: video.CommentCount,
				Shares:   video.ShareCount,
			}, nil
		}
	}

	return nil, providers.NewError(models.PlatformTikTok, "Engagement", http.StatusNotFound, "video not found on platform")
}
