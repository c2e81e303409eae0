package models

import "time"

// ResearchSessionStatus tracks a single source collection run.
type ResearchSessionStatus string

const (
	ResearchSessionStatusPending   ResearchSessionStatus = "pending"
	ResearchSessionStatusRunning   ResearchSessionStatus = "running"
	ResearchSessionStatusCompleted ResearchSessionStatus = "completed"
	ResearchSessionStatusFailed    ResearchSessionStatus = "failed"
)

// Research source identifiers. Each names one upstream provider adapter.
const (
	SourceDevForum     = "devforum"
	SourceTechNews     = "technews"
	SourceRepoTrends   = "repotrends"
	SourceSearchTrends = "searchtrends"
)

// Analysis depth levels accepted by research providers and the synthesizer.
const (
	DepthQuick         = "quick"
	DepthStandard      = "standard"
	DepthComprehensive = "comprehensive"
)

// RawItem is one collected document in provider-neutral shape. Source
// adapters map their upstream payloads into this before persistence.
type RawItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Author      string    `json:"author,omitempty"`
	Score       int       `json:"score,omitempty"`
	Comments    int       `json:"comments,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// ResearchInsights is the synthesized output of the analysis stage. The same
// aggregate is written to every completed session of the workflow so each
// session row is a self-contained audit record.
type ResearchInsights struct {
	Summary      string   `json:"summary"`
	KeyThemes    []string `json:"key_themes"`
	Angles       []string `json:"angles"`
	Keywords     []string `json:"keywords,omitempty"`
	Sentiment    string   `json:"sentiment,omitempty"`
	QualityScore float64  `json:"quality_score,omitempty"`
}

// ResearchSession records one source collection run. Sessions created by a
// workflow carry its execution id; standalone sessions requested directly
// through the API leave it nil. A completed session is immutable.
type ResearchSession struct {
	ID            string                `json:"id"`
	ExecutionID   *string               `json:"execution_id,omitempty"`
	Source        string                `json:"source"          validate:"required,oneof=devforum technews repotrends searchtrends"`
	Query         string                `json:"query"           validate:"required,min=2"`
	MaxItems      int                   `json:"max_items"       validate:"min=1,max=100"`
	AnalysisDepth string                `json:"analysis_depth"  validate:"oneof=quick standard comprehensive"`
	Status        ResearchSessionStatus `json:"status"`
	ResultsCount  int                   `json:"results_count"`
	RawData       []RawItem             `json:"raw_data,omitempty"`
	Insights      *ResearchInsights     `json:"insights,omitempty"`
	ErrorMessage  string                `json:"error_message,omitempty"`
	StartedAt     *time.Time            `json:"started_at,omitempty"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}
