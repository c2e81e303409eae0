// Package config loads provider and storage settings from the environment.
// Core process knobs (database URL, event bus, ports) stay on CLI flags; this
// package covers the credential-heavy provider stack those flags would bloat.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Research holds per-source endpoints for the collection stage. Keys are
// optional because some sources are public.
type Research struct {
	DevForumBaseURL     string `validate:"required,url"`
	TechNewsBaseURL     string `validate:"required,url"`
	TechNewsAPIKey      string
	RepoTrendsBaseURL   string `validate:"required,url"`
	RepoTrendsToken     string
	SearchTrendsBaseURL string `validate:"required,url"`
	SearchTrendsAPIKey  string
	Timeout             time.Duration `validate:"min=1s"`
}

// TextGen points at an OpenAI-compatible chat completions endpoint used for
// insight synthesis and script writing.
type TextGen struct {
	BaseURL     string `validate:"required,url"`
	APIKey      string `validate:"required"`
	Model       string `validate:"required"`
	Temperature float64
	Timeout     time.Duration `validate:"min=1s"`
}

// VideoGen configures the avatar video rendering provider and the polling
// policy for its asynchronous tasks.
type VideoGen struct {
	BaseURL         string `validate:"required,url"`
	APIKey          string `validate:"required"`
	DefaultAvatarID string
	DefaultVoiceID  string
	PollInterval    time.Duration `validate:"min=5s"`
	MaxRenderTime   time.Duration `validate:"min=1m"`
	Timeout         time.Duration `validate:"min=1s"`
}

// Social carries the delivery credentials for each publishing platform.
// Empty credentials disable the platform adapter at startup.
type Social struct {
	TikTokAccessToken    string
	TikTokBaseURL        string
	YouTubeClientID      string
	YouTubeClientSecret  string
	YouTubeRefreshToken  string
	InstagramAccessToken string
	InstagramUserID      string
	InstagramBaseURL     string
}

// R2 configures the Cloudflare R2 bucket rendered videos are mirrored into
// before publishing, so platform uploads never depend on the render
// provider's expiring URLs.
type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicBase string
}

// Config is the full provider-side configuration for API and worker
// processes.
type Config struct {
	Research Research
	TextGen  TextGen
	VideoGen VideoGen
	Social   Social
	R2       R2

	EngagementRefreshEvery time.Duration
	EngagementBatchSize    int
}

// Load reads the environment and applies defaults. Call Validate before
// handing the result to a worker.
func Load() *Config {
	return &Config{
		Research: Research{
			DevForumBaseURL:     getEnv("RESEARCH_DEVFORUM_URL", "https://dev.to/api"),
			TechNewsBaseURL:     getEnv("RESEARCH_TECHNEWS_URL", "https://hn.algolia.com/api/v1"),
			TechNewsAPIKey:      getEnv("RESEARCH_TECHNEWS_API_KEY", ""),
			RepoTrendsBaseURL:   getEnv("RESEARCH_REPOTRENDS_URL", "https://api.github.com"),
			RepoTrendsToken:     getEnv("RESEARCH_REPOTRENDS_TOKEN", ""),
			SearchTrendsBaseURL: getEnv("RESEARCH_SEARCHTRENDS_URL", "https://serpapi.com"),
			SearchTrendsAPIKey:  getEnv("RESEARCH_SEARCHTRENDS_API_KEY", ""),
			Timeout:             getEnvDuration("RESEARCH_TIMEOUT", 30*time.Second),
		},
		TextGen: TextGen{
			BaseURL:     getEnv("TEXTGEN_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("TEXTGEN_API_KEY", ""),
			Model:       getEnv("TEXTGEN_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("TEXTGEN_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("TEXTGEN_TIMEOUT", 120*time.Second),
		},
		VideoGen: VideoGen{
			BaseURL:         getEnv("VIDEOGEN_BASE_URL", "https://api.heygen.com"),
			APIKey:          getEnv("VIDEOGEN_API_KEY", ""),
			DefaultAvatarID: getEnv("VIDEOGEN_DEFAULT_AVATAR_ID", ""),
			DefaultVoiceID:  getEnv("VIDEOGEN_DEFAULT_VOICE_ID", ""),
			PollInterval:    getEnvDuration("VIDEOGEN_POLL_INTERVAL", 30*time.Second),
			MaxRenderTime:   getEnvDuration("VIDEOGEN_MAX_RENDER_TIME", 30*time.Minute),
			Timeout:         getEnvDuration("VIDEOGEN_TIMEOUT", 30*time.Second),
		},
		Social: Social{
			TikTokAccessToken:    getEnv("TIKTOK_ACCESS_TOKEN", ""),
			TikTokBaseURL:        getEnv("TIKTOK_BASE_URL", "https://open.tiktokapis.com"),
			YouTubeClientID:      getEnv("YOUTUBE_CLIENT_ID", ""),
			YouTubeClientSecret:  getEnv("YOUTUBE_CLIENT_SECRET", ""),
			YouTubeRefreshToken:  getEnv("YOUTUBE_REFRESH_TOKEN", ""),
			InstagramAccessToken: getEnv("INSTAGRAM_ACCESS_TOKEN", ""),
			InstagramUserID:      getEnv("INSTAGRAM_USER_ID", ""),
			InstagramBaseURL:     getEnv("INSTAGRAM_BASE_URL", "https://graph.facebook.com/v21.0"),
		},
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicBase: getEnv("R2_PUBLIC_BASE", ""),
		},
		EngagementRefreshEvery: getEnvDuration("ENGAGEMENT_REFRESH_EVERY", time.Hour),
		EngagementBatchSize:    getEnvInt("ENGAGEMENT_BATCH_SIZE", 50),
	}
}

// Validate checks structural constraints on the loaded configuration.
func (c *Config) Validate() error {
	validate := validator.New()

	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid provider configuration: %w", err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}
