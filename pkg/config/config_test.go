package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "https://dev.to/api", cfg.Research.DevForumBaseURL)
	assert.Equal(t, 30*time.Second, cfg.VideoGen.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.VideoGen.MaxRenderTime)
	assert.Equal(t, time.Hour, cfg.EngagementRefreshEvery)
	assert.Equal(t, 50, cfg.EngagementBatchSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TEXTGEN_MODEL", "llama-3.1-70b")
	t.Setenv("VIDEOGEN_POLL_INTERVAL", "10s")
	t.Setenv("ENGAGEMENT_BATCH_SIZE", "200")
	t.Setenv("TEXTGEN_TEMPERATURE", "0.2")

	cfg := Load()

	assert.Equal(t, "llama-3.1-70b", cfg.TextGen.Model)
	assert.Equal(t, 10*time.Second, cfg.VideoGen.PollInterval)
	assert.Equal(t, 200, cfg.EngagementBatchSize)
	assert.InDelta(t, 0.2, cfg.TextGen.Temperature, 0.0001)
}

func TestLoad_MalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("VIDEOGEN_POLL_INTERVAL", "soon")
	t.Setenv("ENGAGEMENT_BATCH_SIZE", "many")

	cfg := Load()

	assert.Equal(t, 30*time.Second, cfg.VideoGen.PollInterval)
	assert.Equal(t, 50, cfg.EngagementBatchSize)
}

func TestValidate(t *testing.T) {
	t.Setenv("TEXTGEN_API_KEY", "sk-test")
	t.Setenv("VIDEOGEN_API_KEY", "vg-test")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	cfg.TextGen.BaseURL = "not a url"
	assert.Error(t, cfg.Validate())
}
