package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/providers"
	"github.com/pipecast/pipecast/pkg/providers/research"
)

// RunResearch executes the collection stage: one session per configured
// source, collected in order. A source failure is absorbed as long as at
// least one source delivers; when every source fails the workflow fails with
// a message naming them. Sessions and the transition to analyzing are
// persisted in one transaction, then the analysis stage is announced.
func (e *Engine) RunResearch(ctx context.Context, executionID string) error {
	ctx, span := e.startStageSpan(ctx, events.StageResearch, executionID)
	defer span.End()

	execution, claimed, err := e.claimStage(ctx, executionID,
		models.WorkflowStatusPending, models.WorkflowStatusResearching)
	if err != nil || !claimed {
		return err
	}

	logger := e.logger.With("execution_id", executionID, "stage", events.StageResearch)
	logger.InfoContext(ctx, "Collecting research", "topic", execution.Config.Topic, "sources", execution.Config.Sources)

	sessions := make([]*models.ResearchSession, 0, len(execution.Config.Sources))
	failures := make([]string, 0)
	transientOnly := true
	succeeded := 0

	for _, source := range execution.Config.Sources {
		session := e.newWorkflowSession(execution, source)

		items, collectErr := e.collectSource(ctx, session)
		if collectErr != nil {
			if !providers.IsTransient(collectErr) {
				transientOnly = false
			}

			failures = append(failures, fmt.Sprintf("%s: %v", source, collectErr))
			now := time.Now().UTC()
			session.Status = models.ResearchSessionStatusFailed
			session.ErrorMessage = collectErr.Error()
			session.CompletedAt = &now

			logger.WarnContext(ctx, "Research source failed", "source", source, "error", collectErr)
		} else {
			session.Status = models.ResearchSessionStatusRunning
			session.RawData = items
			session.ResultsCount = len(items)
			succeeded++

			logger.InfoContext(ctx, "Research source collected", "source", source, "items", len(items))
		}

		sessions = append(sessions, session)
	}

	if succeeded == 0 {
		cause := fmt.Errorf("all research sources failed: %s", strings.Join(failures, "; "))
		otelhelper.SetError(span, cause)

		if transientOnly {
			// Nothing durable was written; redelivery retries the whole stage.
			return newStageError(events.StageResearch, executionID, cause)
		}

		return e.failExecution(ctx, executionID, events.StageResearch, cause)
	}

	err = e.persistence.ResearchRepository().SaveCollectionResults(ctx, execution, sessions, models.WorkflowStatusAnalyzing)
	if discarded, saveErr := e.discardIfStale(ctx, executionID, err); discarded || saveErr != nil {
		return saveErr
	}

	return e.emitStage(ctx, execution, events.StageAnalysis)
}

func (e *Engine) newWorkflowSession(execution *models.WorkflowExecution, source string) *models.ResearchSession {
	now := time.Now().UTC()
	maxItems := execution.Config.MaxItems

	if maxItems == 0 {
		maxItems = 20
	}

	depth := execution.Config.AnalysisDepth
	if depth == "" {
		depth = models.DepthStandard
	}

	return &models.ResearchSession{
		ExecutionID:   &execution.ID,
		Source:        source,
		Query:         execution.Config.Topic,
		MaxItems:      maxItems,
		AnalysisDepth: depth,
		Status:        models.ResearchSessionStatusPending,
		StartedAt:     &now,
	}
}

// collectSource runs one source adapter under its own span.
func (e *Engine) collectSource(ctx context.Context, session *models.ResearchSession) ([]models.RawItem, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "research.collect",
		attribute.String(otelhelper.SourceKey, session.Source),
	)
	defer span.End()

	collector, err := e.collectors.Get(session.Source)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	items, err := collector.Collect(ctx, research.Request{
		Query:    session.Query,
		MaxItems: session.MaxItems,
		Depth:    session.AnalysisDepth,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return items, nil
}

// RunStandaloneResearch executes a session requested directly through the
// API, outside any workflow. The session is its own audit record: running
// while collecting, then completed with data or failed with the cause.
func (e *Engine) RunStandaloneResearch(ctx context.Context, sessionID string) error {
	ctx, span := e.startStageSpan(ctx, events.StageResearch, "")
	defer span.End()

	session, err := e.persistence.ResearchRepository().GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load research session %s: %w", sessionID, err)
	}

	if session == nil {
		e.logger.WarnContext(ctx, "Research event for unknown session", "session_id", sessionID)

		return nil
	}

	if session.Status == models.ResearchSessionStatusCompleted || session.Status == models.ResearchSessionStatusFailed {
		return nil
	}

	now := time.Now().UTC()
	session.Status = models.ResearchSessionStatusRunning
	session.StartedAt = &now

	err = e.persistence.ResearchRepository().Update(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to mark session %s running: %w", sessionID, err)
	}

	items, collectErr := e.collectSource(ctx, session)

	finished := time.Now().UTC()
	session.CompletedAt = &finished

	if collectErr != nil {
		if providers.IsTransient(collectErr) {
			return newStageError(events.StageResearch, sessionID, collectErr)
		}

		session.Status = models.ResearchSessionStatusFailed
		session.ErrorMessage = collectErr.Error()
		otelhelper.SetError(span, collectErr)
	} else {
		session.Status = models.ResearchSessionStatusCompleted
		session.RawData = items
		session.ResultsCount = len(items)
	}

	err = e.persistence.ResearchRepository().Update(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to save session %s results: %w", sessionID, err)
	}

	return nil
}
