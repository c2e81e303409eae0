package social

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
)

// YouTube uploads shorts through the Data API. Unlike the pull-based
// platforms, YouTube requires the bytes, so the mirrored file is downloaded
// to a temp file and streamed into the resumable upload.
type YouTube struct {
	oauth    *oauth2.Config
	refresh  string
	download *http.Client
}

// NewYouTube creates the YouTube adapter from configuration.
func NewYouTube(cfg config.Social) *YouTube {
	return &YouTube{
		oauth: &oauth2.Config{
			ClientID:     cfg.YouTubeClientID,
			ClientSecret: cfg.YouTubeClientSecret,
			Scopes: []string{
				"https://www.googleapis.com/auth/youtube.upload",
				"https://www.googleapis.com/auth/youtube.readonly",
			},
			Endpoint: google.Endpoint,
		},
		refresh:  cfg.YouTubeRefreshToken,
		download: &http.Client{},
	}
}

// Platform returns the platform name this adapter serves.
func (y *YouTube) Platform() string {
	return models.PlatformYouTube
}

func (y *YouTube) service(ctx context.Context) (*youtube.Service, error) {
	source := y.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: y.refresh})

	service, err := youtube.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, source)))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	return service, nil
}

// Publish downloads the mirrored video and uploads it as a public short.
func (y *YouTube) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	service, err := y.service(ctx)
	if err != nil {
		return nil, err
	}

	tempPath, err := y.fetchVideo(ctx, req.VideoURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tempPath) }()

	file, err := os.Open(tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open downloaded video: %w", err)
	}
	defer func() { _ = file.Close() }()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: TrimCaption(models.PlatformYouTube, req.Caption),
			CategoryId:  "28",
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "public"},
	}

	uploaded, err := service.Videos.Insert([]string{"snippet", "status"}, video).Media(file).Context(ctx).Do()
	if err != nil {
		return nil, providers.NewTransportError(models.PlatformYouTube, "Publish", err)
	}

	return &PublishResult{
		PlatformRef: uploaded.Id,
		PostURL:     "https://youtu.be/" + uploaded.Id,
	}, nil
}

// fetchVideo pulls the mirrored file to a temp path for the upload call.
func (y *YouTube) fetchVideo(ctx context.Context, videoURL string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := y.download.Do(httpReq)
	if err != nil {
		return "", providers.NewTransportError(models.PlatformYouTube, "Publish", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", providers.NewError(models.PlatformYouTube, "Publish", resp.StatusCode, "mirrored video not retrievable")
	}

	tempFile, err := os.CreateTemp("", "pipecast-upload-*.mp4")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = tempFile.Close() }()

	_, err = io.Copy(tempFile, resp.Body)
	if err != nil {
		_ = os.Remove(tempFile.Name())

		return "", fmt.Errorf("failed to buffer video for upload: %w", err)
	}

	return tempFile.Name(), nil
}

// Engagement reads the public statistics for one uploaded video.
func (y *YouTube) Engagement(ctx context.Context, platformRef string) (*models.Engagement, error) {
	service, err := y.service(ctx)
	if err != nil {
		return nil, err
	}

	listed, err := service.Videos.List([]string{"statistics"}).Id(platformRef).Context(ctx).Do()
	if err != nil {
		return nil, providers.NewTransportError(models.PlatformYouTube, "Engagement", err)
	}

	if len(listed.Items) == 0 {
		return nil, providers.NewError(models.PlatformYouTube, "Engagement", http.StatusNotFound, "video not found on platform")
	}

	stats := listed.Items[0].Statistics
	if stats == nil {
		return &models.Engagement{}, nil
	}

	return &models.Engagement{
		Views:    int64(stats.ViewCount),
		Likes:    int64(stats.LikeCount),
		Comments: int64(stats.CommentCount),
	}, nil
}
