// Package social implements the per-platform delivery adapters for the
// publish stage. Each adapter posts one rendered video (or text post) to its
// platform and can later re-read engagement counters for the refresh job.
// Platforms fail independently; classification of failures goes through the
// providers error contract so the dispatcher can tell transient from
// permanent.
package social

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/models"
)

// PublishRequest carries everything one adapter needs to deliver a post.
// VideoURL points at the mirrored copy, never the render provider's expiring
// URL.
type PublishRequest struct {
	ExecutionID string
	Title       string
	Caption     string
	VideoURL    string
}

// PublishResult identifies the created post on the platform.
type PublishResult struct {
	PlatformRef string
	PostURL     string
}

// Publisher is one platform delivery adapter.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
	Engagement(ctx context.Context, platformRef string) (*models.Engagement, error)
}

// Registry resolves platform names to configured adapters. Platforms without
// credentials are simply absent; dispatching to them is a permanent per-target
// failure, not a crash.
type Registry struct {
	publishers map[string]Publisher
}

// NewRegistry indexes the given publishers by platform name.
func NewRegistry(publishers ...Publisher) *Registry {
	indexed := make(map[string]Publisher, len(publishers))
	for _, publisher := range publishers {
		indexed[publisher.Platform()] = publisher
	}

	return &Registry{publishers: indexed}
}

// DefaultRegistry wires every platform adapter whose credentials are present.
func DefaultRegistry(cfg config.Social) *Registry {
	publishers := make([]Publisher, 0, 3)

	if cfg.TikTokAccessToken != "" {
		publishers = append(publishers, NewTikTok(cfg))
	}

	if cfg.YouTubeRefreshToken != "" || cfg.YouTubeClientID != "" {
		publishers = append(publishers, NewYouTube(cfg))
	}

	if cfg.InstagramAccessToken != "" && cfg.InstagramUserID != "" {
		publishers = append(publishers, NewInstagram(cfg))
	}

	return NewRegistry(publishers...)
}

// Get returns the adapter for a platform name.
func (r *Registry) Get(platform string) (Publisher, error) {
	publisher, ok := r.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("platform %s is not configured", platform)
	}

	return publisher, nil
}

// Platforms lists the configured platform names, sorted for stable output.
func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.publishers))
	for platform := range r.publishers {
		platforms = append(platforms, platform)
	}

	sort.Strings(platforms)

	return platforms
}

// CaptionLimit returns the platform's caption length ceiling in runes.
func CaptionLimit(platform string) int {
	switch platform {
	case models.PlatformYouTube:
		return models.CaptionLimitYouTube
	case models.PlatformInstagram:
		return models.CaptionLimitInstagram
	default:
		return models.CaptionLimitTikTok
	}
}

// TrimCaption cuts a caption to the platform ceiling on a rune boundary.
// Platforms count characters, not bytes, so the limit is applied to runes.
func TrimCaption(platform, caption string) string {
	limit := CaptionLimit(platform)
	if utf8.RuneCountInString(caption) <= limit {
		return caption
	}

	runes := []rune(caption)

	return string(runes[:limit])
}
