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

// DevForum collects developer community articles. The query is matched as a
// tag, which is how the upstream API indexes topics.
type DevForum struct {
	baseURL string
	client  *http.Client
}

// NewDevForum creates the developer forum adapter.
func NewDevForum(cfg config.Research, client *http.Client) *DevForum {
	return &DevForum{
		baseURL: strings.TrimSuffix(cfg.DevForumBaseURL, "/"),
		client:  client,
	}
}

func (d *DevForum) Source() string {
	return models.SourceDevForum
}

type devForumArticle struct {
	Title             string `json:"title"`
	URL               string `json:"url"`
	Description       string `json:"description"`
	PositiveReactions int    `json:"positive_reactions_count"`
	CommentsCount     int    `json:"comments_count"`
	PublishedAt       string `json:"published_at"`
	User              struct {
		Name string `json:"name"`
	} `json:"user"`
}

func (d *DevForum) Collect(ctx context.Context, req Request) ([]models.RawItem, error) {
	lookbackDays := int(freshnessWindow(req.Depth).Hours() / 24)

	params := url.Values{}
	params.Set("tag", tagify(req.Query))
	params.Set("per_page", strconv.Itoa(req.MaxItems))
	params.Set("top", strconv.Itoa(lookbackDays))

	endpoint := fmt.Sprintf("%s/articles?%s", d.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create devforum request: %w", err)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(models.SourceDevForum, "Collect", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.NewError(models.SourceDevForum, "Collect", resp.StatusCode, readErrorBody(resp))
	}

	var articles []devForumArticle

	err = json.NewDecoder(resp.Body).Decode(&articles)
	if err != nil {
		return nil, fmt.Errorf("failed to decode devforum response: %w", err)
	}

	items := make([]models.RawItem, 0, len(articles))

	for _, article := range articles {
		items = append(items, models.RawItem{
			Title:       article.Title,
			URL:         article.URL,
			Author:      article.User.Name,
			Score:       article.PositiveReactions,
			Comments:    article.CommentsCount,
			Summary:     article.Description,
			PublishedAt: parseTimeString(article.PublishedAt),
		})
	}

	return capItems(items, req.MaxItems), nil
}

// tagify turns a free-text topic into the upstream tag form: lowercase,
// spaces dropped.
func tagify(query string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(query)), " ", "")
}

func parseTimeString(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}

	return parsed
}
