package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
)

// SearchTrends collects news results from the search engine results API,
// capturing what general search surfaces for the topic right now.
type SearchTrends struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSearchTrends creates the search trends adapter.
func NewSearchTrends(cfg config.Research, client *http.Client) *SearchTrends {
	return &SearchTrends{
		baseURL: strings.TrimSuffix(cfg.SearchTrendsBaseURL, "/"),
		apiKey:  cfg.SearchTrendsAPIKey,
		client:  client,
	}
}

func (s *SearchTrends) Source() string {
	return models.SourceSearchTrends
}

type searchTrendsResponse struct {
	NewsResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Date     string `json:"date"`
		Source   struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"news_results"`
}

// depthPeriods maps analysis depth onto the engine's time filter.
var depthPeriods = map[string]string{
	models.DepthQuick:         "qdr:w",
	models.DepthStandard:      "qdr:m",
	models.DepthComprehensive: "qdr:y",
}

func (s *SearchTrends) Collect(ctx context.Context, req Request) ([]models.RawItem, error) {
	period, ok := depthPeriods[req.Depth]
	if !ok {
		period = depthPeriods[models.DepthStandard]
	}

	params := url.Values{}
	params.Set("engine", "google_news")
	params.Set("q", req.Query)
	params.Set("num", strconv.Itoa(req.MaxItems))
	params.Set("tbs", period)

	if s.apiKey != "" {
		params.Set("api_key", s.apiKey)
	}

	endpoint := fmt.Sprintf("%s/search.json?%s", s.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create searchtrends request: %w", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.SourceSearchTrends, "Collect", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.NewError(models.SourceSearchTrends, "Collect", resp.StatusCode, readErrorBody(resp))
	}

	var payload searchTrendsResponse

	err = json.NewDecoder(resp.Body).Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode searchtrends response: %w", err)
	}

	items := make([]models.RawItem, 0, len(payload.NewsResults))

	for _, result := range payload.NewsResults {
		items = append(items, models.RawItem{
			Title:   result.Title,
			URL:     result.Link,
			Author:  result.Source.Name,
			Score:   len(payload.NewsResults) - result.Position,
			Summary: result.Snippet,
		})
	}

	return capItems(items, req.MaxItems), nil
}
