package research_test

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
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
	"github.com/pipecast/pipecast/pkg/providers/research"
)

func testConfig(serverURL string) config.Research {
	return config.Research{
		DevForumBaseURL:     serverURL,
		TechNewsBaseURL:     serverURL,
		RepoTrendsBaseURL:   serverURL,
		RepoTrendsToken:     "ghp-test",
		SearchTrendsBaseURL: serverURL,
		SearchTrendsAPIKey:  "serp-test",
		Timeout:             5 * time.Second,
	}
}

func TestRegistry_ResolvesAllSources(t *testing.T) {
	registry := research.DefaultRegistry(testConfig("http://localhost"))

	assert.Equal(t, []string{
		models.SourceDevForum,
		models.SourceRepoTrends,
		models.SourceSearchTrends,
		models.SourceTechNews,
	}, registry.Sources())

	for _, source := range registry.Sources() {
		collector, err := registry.Get(source)
		require.NoError(t, err)
		assert.Equal(t, source, collector.Source())
	}
}

func TestRegistry_UnknownSource(t *testing.T) {
	registry := research.DefaultRegistry(testConfig("http://localhost"))

	_, err := registry.Get("usenet")
	assert.ErrorContains(t, err, "unknown research source")
}

func TestDevForum_Collect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/articles", request.URL.Path)
		assert.Equal(t, "rustbackend", request.URL.Query().Get("tag"))
		assert.Equal(t, "2", request.URL.Query().Get("per_page"))
		assert.Equal(t, "7", request.URL.Query().Get("top"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`[
			{"title": "Rust in production", "url": "https://example.dev/a", "description": "notes",
			 "positive_reactions_count": 42, "comments_count": 7,
			 "published_at": "2026-08-20T10:00:00Z", "user": {"name": "ada"}},
			{"title": "Async pitfalls", "url": "https://example.dev/b", "user": {"name": "lin"}},
			{"title": "Over the cap", "url": "https://example.dev/c", "user": {"name": "sam"}}
		]`))
	}))
	defer server.Close()

	collector := research.NewDevForum(testConfig(server.URL), server.Client())

	items, err := collector.Collect(context.Background(), research.Request{
		Query:    "Rust Backend",
		MaxItems: 2,
		Depth:    models.DepthQuick,
	})

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Rust in production", items[0].Title)
	assert.Equal(t, "ada", items[0].Author)
	assert.Equal(t, 42, items[0].Score)
	assert.Equal(t, 7, items[0].Comments)
	assert.Equal(t, 2026, items[0].PublishedAt.Year())
}

func TestTechNews_Collect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/search", request.URL.Path)
		assert.Equal(t, "rust adoption", request.URL.Query().Get("query"))
		assert.Equal(t, "story", request.URL.Query().Get("tags"))

		writer.Header().Set("Content-Type", "application/json")

		payload := map[string]any{
			"hits": []map[string]any{
				{"title": "Why we moved to Rust", "url": "https://news.example/1", "author": "pg",
					"points": 310, "num_comments": 120, "created_at": "2026-08-01T08:00:00Z"},
			},
		}
		_ = json.NewEncoder(writer).Encode(payload)
	}))
	defer server.Close()

	collector := research.NewTechNews(testConfig(server.URL), server.Client())

	items, err := collector.Collect(context.Background(), research.Request{
		Query:    "rust adoption",
		MaxItems: 10,
		Depth:    models.DepthStandard,
	})

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Why we moved to Rust", items[0].Title)
	assert.Equal(t, 310, items[0].Score)
}

func TestTechNews_QuickDepthUsesRecencyEndpoint(t *testing.T) {
	var requestedPath string

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestedPath = request.URL.Path

		_, _ = writer.Write([]byte(`{"hits": []}`))
	}))
	defer server.Close()

	collector := research.NewTechNews(testConfig(server.URL), server.Client())

	_, err := collector.Collect(context.Background(), research.Request{
		Query:    "zig",
		MaxItems: 5,
		Depth:    models.DepthQuick,
	})

	require.NoError(t, err)
	assert.Equal(t, "/search_by_date", requestedPath)
}

func TestRepoTrends_Collect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/search/repositories", request.URL.Path)
		assert.Equal(t, "Bearer ghp-test", request.Header.Get("Authorization"))
		assert.Contains(t, request.URL.Query().Get("q"), "created:>")
		assert.Equal(t, "stars", request.URL.Query().Get("sort"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{
			"items": [
				{"full_name": "acme/fastapi-rs", "html_url": "https://github.example/acme/fastapi-rs",
				 "description": "Rust web framework", "stargazers_count": 900, "open_issues_count": 12,
				 "created_at": "2026-07-15T00:00:00Z", "owner": {"login": "acme"}}
			]
		}`))
	}))
	defer server.Close()

	collector := research.NewRepoTrends(testConfig(server.URL), server.Client())

	items, err := collector.Collect(context.Background(), research.Request{
		Query:    "rust web",
		MaxItems: 5,
		Depth:    models.DepthComprehensive,
	})

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "acme/fastapi-rs", items[0].Title)
	assert.Equal(t, "acme", items[0].Author)
	assert.Equal(t, 900, items[0].Score)
}

func TestSearchTrends_Collect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/search.json", request.URL.Path)
		assert.Equal(t, "google_news", request.URL.Query().Get("engine"))
		assert.Equal(t, "serp-test", request.URL.Query().Get("api_key"))
		assert.Equal(t, "qdr:w", request.URL.Query().Get("tbs"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{
			"news_results": [
				{"position": 1, "title": "Rust tops survey", "link": "https://search.example/1",
				 "snippet": "again", "source": {"name": "The Register"}},
				{"position": 2, "title": "Go vs Rust", "link": "https://search.example/2",
				 "snippet": "rematch", "source": {"name": "InfoQ"}}
			]
		}`))
	}))
	defer server.Close()

	collector := research.NewSearchTrends(testConfig(server.URL), server.Client())

	items, err := collector.Collect(context.Background(), research.Request{
		Query:    "rust",
		MaxItems: 10,
		Depth:    models.DepthQuick,
	})

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "The Register", items[0].Author)
	assert.Greater(t, items[0].Score, items[1].Score, "earlier positions rank higher")
}

func TestCollect_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		http.Error(writer, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	collector := research.NewTechNews(testConfig(server.URL), server.Client())

	_, err := collector.Collect(context.Background(), research.Request{Query: "x", MaxItems: 1, Depth: models.DepthQuick})

	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
	assert.Equal(t, models.SourceTechNews, providers.Name(err))
}

func TestCollect_ClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		http.Error(writer, "invalid key", http.StatusUnauthorized)
	}))
	defer server.Close()

	collector := research.NewSearchTrends(testConfig(server.URL), server.Client())

	_, err := collector.Collect(context.Background(), research.Request{Query: "x", MaxItems: 1, Depth: models.DepthQuick})

	require.Error(t, err)
	assert.False(t, providers.IsTransient(err))
}

func TestCollect_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-request.Context().Done():
		case <-time.After(2 * time.Second):
		}

		_, _ = writer.Write([]byte(`[]`))
	}))
	defer server.Close()

	collector := research.NewDevForum(testConfig(server.URL), server.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := collector.Collect(ctx, research.Request{Query: "x", MaxItems: 1, Depth: models.DepthQuick})

	require.Error(t, err)
	assert.True(t, providers.IsTimeout(err))
}
