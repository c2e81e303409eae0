package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
)

// TechNews collects stories from the tech news aggregator's search API.
// Quick depth ranks by recency; deeper runs rank by relevance and widen the
// creation window.
type TechNews struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTechNews creates the tech news adapter.
func NewTechNews(cfg config.Research, client *http.Client) *TechNews {
	return &TechNews{
		baseURL: strings.TrimSuffix(cfg.TechNewsBaseURL, "/"),
		apiKey:  cfg.TechNewsAPIKey,
		client:  client,
	}
}

func (t *TechNews) Source() string {
	return models.SourceTechNews
}

type techNewsResponse struct {
	Hits []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Author      string `json:"author"`
		Points      int    `json:"points"`
		NumComments int    `json:"num_comments"`
		StoryText   string `json:"story_text"`
		CreatedAt   string `json:"created_at"`
	} `json:"hits"`
}

func (t *TechNews) Collect(ctx context.Context, req Request) ([]models.RawItem, error) {
	endpoint := "/search"
	if req.Depth == models.DepthQuick {
		endpoint = "/search_by_date"
	}

	cutoff := time.Now().Add(-freshnessWindow(req.Depth)).Unix()

	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("tags", "story")
	params.Set("hitsPerPage", strconv.Itoa(req.MaxItems))
	params.Set("numericFilters", fmt.Sprintf("created_at_i>%d", cutoff))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create technews request: %w", err)
	}

	if t.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.SourceTechNews, "Collect", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.NewError(models.SourceTechNews, "Collect", resp.StatusCode, readErrorBody(resp))
	}

	var payload techNewsResponse

	err = json.NewDecoder(resp.Body).Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode technews response: %w", err)
	}

	items := make([]models.RawItem, 0, len(payload.Hits))

	for _, hit := range payload.Hits {
		items = append(items, models.RawItem{
			Title:       hit.Title,
			URL:         hit.URL,
			Author:      hit.Author,
			Score:       hit.Points,
			Comments:    hit.NumComments,
			Summary:     hit.StoryText,
			PublishedAt: parseTimeString(hit.CreatedAt),
		})
	}

	return capItems(items, req.MaxItems), nil
}
