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

// RepoTrends collects trending repositories matching the topic. Trending is
// approximated as most-starred repositories created inside the depth window.
type RepoTrends struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRepoTrends creates the repository trends adapter.
func NewRepoTrends(cfg config.Research, client *http.Client) *RepoTrends {
	return &RepoTrends{
		baseURL: strings.TrimSuffix(cfg.RepoTrendsBaseURL, "/"),
		token:   cfg.RepoTrendsToken,
		client:  client,
	}
}

func (r *RepoTrends) Source() string {
	return models.SourceRepoTrends
}

type repoSearchResponse struct {
	Items []struct {
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Description string `json:"description"`
		Stargazers  int    `json:"stargazers_count"`
		OpenIssues  int    `json:"open_issues_count"`
		CreatedAt   string `json:"created_at"`
		Owner       struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"items"`
}

func (r *RepoTrends) Collect(ctx context.Context, req Request) ([]models.RawItem, error) {
	since := time.Now().Add(-freshnessWindow(req.Depth)).Format("2006-01-02")

	params := url.Values{}
	params.Set("q", fmt.Sprintf("%s created:>%s", req.Query, since))
	params.Set("sort", "stars")
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(req.MaxItems))

	endpoint := fmt.Sprintf("%s/search/repositories?%s", r.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create repotrends request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/vnd.github+json")

	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.SourceRepoTrends, "Collect", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.NewError(models.SourceRepoTrends, "Collect", resp.StatusCode, readErrorBody(resp))
	}

	var payload repoSearchResponse

	err = json.NewDecoder(resp.Body).Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode repotrends response: %w", err)
	}

	items := make([]models.RawItem, 0, len(payload.Items))

	for _, repo := range payload.Items {
		items = append(items, models.RawItem{
			Title:       repo.FullName,
			URL:         repo.HTMLURL,
			Author:      repo.Owner.Login,
			Score:       repo.Stargazers,
			Comments:    repo.OpenIssues,
			Summary:     repo.Description,
			PublishedAt: parseTimeString(repo.CreatedAt),
		})
	}

	return capItems(items, req.MaxItems), nil
}
