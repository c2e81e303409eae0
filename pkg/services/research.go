package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/pipecast/pipecast/pkg/eventbus"
	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// Research runs standalone collection sessions that are not attached to a
// workflow. Reconnaissance before committing to a full run, mostly.
type Research struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

// NewResearch creates a new research service.
func NewResearch(persist persistence.Persistence, eventBus eventbus.EventPublisher, logger *slog.Logger) *Research {
	return &Research{
		persistence: persist,
		eventBus:    eventBus,
		logger:      logger.With("module", "services"),
	}
}

// StartResearchRequest creates one standalone research session.
type StartResearchRequest struct {
	Source        string
	Query         string
	MaxItems      int
	AnalysisDepth string
}

// Start persists a pending session and asks a worker to collect it. The
// session stays unattached: ExecutionID remains nil for its whole life.
func (r *Research) Start(ctx context.Context, req StartResearchRequest) (*models.ResearchSession, error) {
	err := r.validateStartRequest(&req)
	if err != nil {
		return nil, err
	}

	session := &models.ResearchSession{
		Source:        req.Source,
		Query:         req.Query,
		MaxItems:      req.MaxItems,
		AnalysisDepth: req.AnalysisDepth,
		Status:        models.ResearchSessionStatusPending,
	}

	err = r.persistence.ResearchRepository().Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create research session: %w", err)
	}

	event := events.ResearchRequested{
		BaseEvent: events.NewBaseEvent(events.ResearchRequestedEvent, ""),
		SessionID: session.ID,
	}

	err = r.eventBus.Publish(ctx, session.ID, event)
	if err != nil {
		return nil, fmt.Errorf("session %s created but request announcement failed: %w", session.ID, err)
	}

	r.logger.InfoContext(ctx, "Standalone research requested",
		"session_id", session.ID, "source", req.Source, "query", req.Query)

	return session, nil
}

func (r *Research) validateStartRequest(req *StartResearchRequest) error {
	if !slices.Contains(knownSources, req.Source) {
		return NewValidationError("Start", "UNKNOWN_SOURCE",
			fmt.Sprintf("unknown source %q, allowed: %s", req.Source, strings.Join(knownSources, ", ")),
			ErrInvalidRequest)
	}

	req.Query = strings.TrimSpace(req.Query)
	if len(req.Query) < 2 {
		return NewValidationError("Start", "QUERY_REQUIRED", "query must be at least 2 characters", ErrInvalidRequest)
	}

	if req.MaxItems == 0 {
		req.MaxItems = 20
	}

	if req.MaxItems < 1 || req.MaxItems > 100 {
		return NewValidationError("Start", "INVALID_MAX_ITEMS", "max_items must be between 1 and 100", ErrInvalidRequest)
	}

	if req.AnalysisDepth == "" {
		req.AnalysisDepth = models.DepthStandard
	}

	depths := []string{models.DepthQuick, models.DepthStandard, models.DepthComprehensive}
	if !slices.Contains(depths, req.AnalysisDepth) {
		return NewValidationError("Start", "INVALID_DEPTH",
			fmt.Sprintf("analysis_depth must be one of %s", strings.Join(depths, ", ")),
			ErrInvalidRequest)
	}

	return nil
}

// FetchByID retrieves a research session by its ID.
func (r *Research) FetchByID(ctx context.Context, id string) (*models.ResearchSession, error) {
	session, err := r.persistence.ResearchRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if session == nil {
		return nil, fmt.Errorf("research session %s: %w", id, ErrSessionNotFound)
	}

	return session, nil
}
