// Package research implements the source adapters for the collection stage.
// Every adapter maps one upstream API into the provider-neutral RawItem shape
// and classifies failures through the providers error contract. Adapters do
// not retry; that policy belongs to the pipeline.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/models"
)

// Request carries the collection parameters for one source run. Depth is
// passed through to the upstream query unmodified in meaning; each adapter
// maps it onto whatever freshness or ranking knob its API exposes.
type Request struct {
	Query    string
	MaxItems int
	Depth    string
}

// Collector is one research source adapter.
type Collector interface {
	Source() string
	Collect(ctx context.Context, req Request) ([]models.RawItem, error)
}

// Registry resolves source names to adapters.
type Registry struct {
	collectors map[string]Collector
}

// NewRegistry indexes the given collectors by source name.
func NewRegistry(collectors ...Collector) *Registry {
	indexed := make(map[string]Collector, len(collectors))
	for _, collector := range collectors {
		indexed[collector.Source()] = collector
	}

	return &Registry{collectors: indexed}
}

// DefaultRegistry wires the four production adapters against a shared HTTP
// client bounded by the configured research timeout.
func DefaultRegistry(cfg config.Research) *Registry {
	client := &http.Client{Timeout: cfg.Timeout}

	return NewRegistry(
		NewDevForum(cfg, client),
		NewTechNews(cfg, client),
		NewRepoTrends(cfg, client),
		NewSearchTrends(cfg, client),
	)
}

// Get returns the adapter for a source name.
func (r *Registry) Get(source string) (Collector, error) {
	collector, ok := r.collectors[source]
	if !ok {
		return nil, fmt.Errorf("unknown research source: %s", source)
	}

	return collector, nil
}

// Sources lists the registered source names, sorted for stable output.
func (r *Registry) Sources() []string {
	sources := make([]string, 0, len(r.collectors))
	for source := range r.collectors {
		sources = append(sources, source)
	}

	sort.Strings(sources)

	return sources
}

// freshnessWindow maps analysis depth onto a lookback period. Deeper analysis
// digs further back; quick runs stay on this week's conversation.
func freshnessWindow(depth string) time.Duration {
	switch depth {
	case models.DepthQuick:
		return 7 * 24 * time.Hour
	case models.DepthComprehensive:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

func capItems(items []models.RawItem, maxItems int) []models.RawItem {
	if maxItems > 0 && len(items) > maxItems {
		return items[:maxItems]
	}

	return items
}

// readErrorBody pulls a bounded slice of an error response for diagnostics.
func readErrorBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return resp.Status
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return resp.Status
	}

	return trimmed
}
