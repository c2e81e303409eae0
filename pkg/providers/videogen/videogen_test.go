package videogen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/providers"
	"github.com/pipecast/pipecast/pkg/providers/videogen"
)

func newTestClient(baseURL string) *videogen.Client {
	return videogen.NewClient(config.VideoGen{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
}

func TestClient_Submit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/video/generate", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		inputs, ok := payload["video_inputs"].([]any)
		require.True(t, ok)
		require.Len(t, inputs, 1)

		input := inputs[0].(map[string]any)
		character := input["character"].(map[string]any)
		voice := input["voice"].(map[string]any)

		assert.Equal(t, "avatar", character["type"])
		assert.Equal(t, "av-1", character["avatar_id"])
		assert.Equal(t, "Sixty seconds on goroutine leaks.", voice["input_text"])
		assert.Equal(t, "vo-1", voice["voice_id"])

		dim := payload["dimension"].(map[string]any)
		assert.EqualValues(t, 1080, dim["width"])
		assert.EqualValues(t, 1920, dim["height"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"video_id": "task-abc"},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	taskID, err := client.Submit(context.Background(), videogen.Submission{
		Script:      "Sixty seconds on goroutine leaks.",
		AvatarID:    "av-1",
		VoiceID:     "vo-1",
		AspectRatio: "9:16",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-abc", taskID)
}

func TestClient_SubmitRejectsMissingTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Submit(context.Background(), videogen.Submission{Script: "hello"})
	require.Error(t, err)
	assert.False(t, providers.IsTransient(err))
}

func TestClient_SubmitTransientOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "render farm unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Submit(context.Background(), videogen.Submission{Script: "hello"})
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
}

func TestClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/video_status.get", r.URL.Path)
		assert.Equal(t, "task-abc", r.URL.Query().Get("video_id"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status":        "completed",
				"video_url":     "https://cdn.example.com/task-abc.mp4",
				"thumbnail_url": "https://cdn.example.com/task-abc.jpg",
				"duration":      58.4,
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	status, err := client.Status(context.Background(), "task-abc")
	require.NoError(t, err)

	assert.Equal(t, videogen.StateCompleted, status.State)
	assert.True(t, status.Terminal())
	assert.Equal(t, "https://cdn.example.com/task-abc.mp4", status.VideoURL)
	assert.Equal(t, "https://cdn.example.com/task-abc.jpg", status.ThumbnailURL)
	assert.InDelta(t, 58.4, status.DurationSeconds, 0.001)
}

func TestClient_StatusNormalizesUnknownStates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"status": "waiting"},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	status, err := client.Status(context.Background(), "task-abc")
	require.NoError(t, err)

	assert.Equal(t, videogen.StateProcessing, status.State)
	assert.False(t, status.Terminal())
}

func TestClient_StatusSurfacesRenderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status": "failed",
				"error":  map[string]any{"message": "avatar asset missing"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	status, err := client.Status(context.Background(), "task-abc")
	require.NoError(t, err)

	assert.Equal(t, videogen.StateFailed, status.State)
	assert.True(t, status.Terminal())
	assert.Equal(t, "avatar asset missing", status.Error)
}

func TestClient_StatusTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := videogen.NewClient(config.VideoGen{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 20 * time.Millisecond,
	})

	_, err := client.Status(context.Background(), "task-abc")
	require.Error(t, err)
	assert.True(t, providers.IsTimeout(err))
}
