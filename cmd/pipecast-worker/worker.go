// Package main provides the PipeCast stage worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipecast/pipecast/pkg/eventbus"
	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/pipeline"
	"github.com/pipecast/pipecast/pkg/stagelock"
)

// stageLockTTL bounds how long a crashed worker can shadow a stage before
// another delivery may claim it.
const stageLockTTL = 10 * time.Minute

// WorkerManager subscribes to stage events and drives the pipeline engine.
// Stage claims are version-guarded in the store; the advisory lock only keeps
// duplicate deliveries from hitting providers in parallel.
type WorkerManager struct {
	id       string
	logger   *slog.Logger
	eventBus eventbus.EventBus
	engine   *pipeline.Engine
	locker   stagelock.Locker
}

func NewWorkerManager(
	id string,
	eventBus eventbus.EventBus,
	engine *pipeline.Engine,
	locker stagelock.Locker,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "pipecast-worker"),
		eventBus: eventBus,
		engine:   engine,
		locker:   locker,
	}
}

// Start registers the event handlers and blocks until the process receives
// an interrupt or termination signal.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.WorkflowStageAvailableEvent, w.handleStageAvailable)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.ResearchRequestedEvent, w.handleResearchRequested)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleStageAvailable(ctx context.Context, event any) error {
	stageEvent, ok := event.(*events.WorkflowStageAvailable)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkflowStageAvailable")

		return nil
	}

	logger := w.logger.With(
		"execution_id", stageEvent.ExecutionID,
		"stage", stageEvent.Stage,
		"event_id", stageEvent.ID,
	)
	logger.InfoContext(ctx, "Processing stage available event")

	run, err := w.stageRunner(stageEvent.Stage)
	if err != nil {
		// Unknown stages are never going to become runnable, so don't ask
		// the bus to redeliver them.
		logger.ErrorContext(ctx, "Dropping stage event", "error", err)

		return nil
	}

	lease, acquired, err := w.locker.Acquire(ctx, stageEvent.ExecutionID, stageEvent.Stage, stageLockTTL)
	if err != nil {
		return err
	}

	if !acquired {
		logger.InfoContext(ctx, "Stage held by another worker, skipping")

		return nil
	}

	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.WarnContext(ctx, "Failed to release stage lock", "error", err)
		}
	}()

	err = run(ctx, stageEvent.ExecutionID)
	if err != nil {
		logger.ErrorContext(ctx, "Stage execution failed", "error", err)

		return err
	}

	return nil
}

func (w *WorkerManager) stageRunner(stage string) (func(context.Context, string) error, error) {
	switch stage {
	case events.StageResearch:
		return w.engine.RunResearch, nil
	case events.StageAnalysis:
		return w.engine.RunAnalysis, nil
	case events.StageScript:
		return w.engine.RunScript, nil
	case events.StageVideo:
		return w.engine.RunVideo, nil
	case events.StagePublish:
		return w.engine.RunPublish, nil
	default:
		return nil, fmt.Errorf("no runner for stage %q", stage)
	}
}

func (w *WorkerManager) handleResearchRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ResearchRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ResearchRequested")

		return nil
	}

	logger := w.logger.With("session_id", requested.SessionID, "event_id", requested.ID)
	logger.InfoContext(ctx, "Processing standalone research request")

	err := w.engine.RunStandaloneResearch(ctx, requested.SessionID)
	if err != nil {
		logger.ErrorContext(ctx, "Standalone research failed", "error", err)

		return err
	}

	return nil
}
