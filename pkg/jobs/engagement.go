// Package jobs hosts the worker's periodic maintenance work.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/providers/social"
)

const refreshConcurrency = 4

// EngagementRefresher periodically re-reads engagement counters for published
// records. Refreshes are advisory: a failed fetch is logged and retried on
// the next tick, and nothing here ever touches workflow state.
type EngagementRefresher struct {
	persistence persistence.Persistence
	publishers  *social.Registry
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	cron        *cron.Cron
}

func NewEngagementRefresher(
	persist persistence.Persistence,
	publishers *social.Registry,
	logger *slog.Logger,
	interval time.Duration,
	batchSize int,
) *EngagementRefresher {
	if interval <= 0 {
		interval = time.Hour
	}

	if batchSize <= 0 {
		batchSize = 50
	}

	return &EngagementRefresher{
		persistence: persist,
		publishers:  publishers,
		logger:      logger.With("module", "engagement_refresher"),
		interval:    interval,
		batchSize:   batchSize,
	}
}

// Start schedules the refresh loop. The first pass runs one interval after
// start; callers that want an immediate pass use RunOnce.
func (r *EngagementRefresher) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc("@every "+r.interval.String(), func() {
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Engagement refresh pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule engagement refresh: %w", err)
	}

	r.cron.Start()
	r.logger.Info("Engagement refresher started", "interval", r.interval, "batch_size", r.batchSize)

	return nil
}

// Stop halts the schedule and waits for an in-flight pass to finish.
func (r *EngagementRefresher) Stop() {
	if r.cron == nil {
		return
	}

	<-r.cron.Stop().Done()
}

// RunOnce refreshes one batch of stale records with bounded concurrency.
func (r *EngagementRefresher) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.interval)

	records, err := r.persistence.PublicationRepository().ListForEngagementRefresh(ctx, cutoff, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list records for engagement refresh: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated int
	)

	sem := make(chan struct{}, refreshConcurrency)

	for _, record := range records {
		wg.Add(1)

		go func(record *models.PublicationRecord) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if r.refreshOne(ctx, record) {
				mu.Lock()
				updated++
				mu.Unlock()
			}
		}(record)
	}

	wg.Wait()

	r.logger.Info("Engagement refresh pass finished", "due", len(records), "updated", updated)

	return nil
}

// refreshOne reads current counters for a single published record.
func (r *EngagementRefresher) refreshOne(ctx context.Context, record *models.PublicationRecord) bool {
	logger := r.logger.With("publication_id", record.ID, "platform", record.Platform)

	if record.PlatformRef == "" {
		logger.Debug("Skipping engagement refresh, record has no platform reference")

		return false
	}

	publisher, err := r.publishers.Get(record.Platform)
	if err != nil {
		logger.Debug("Skipping engagement refresh, platform not configured")

		return false
	}

	engagement, err := publisher.Engagement(ctx, record.PlatformRef)
	if err != nil {
		logger.Warn("Failed to fetch engagement counters", "error", err)

		return false
	}

	err = r.persistence.PublicationRepository().UpdateEngagement(ctx, record.ID, *engagement, time.Now().UTC())
	if err != nil {
		logger.Error("Failed to store engagement counters", "error", err)

		return false
	}

	return true
}
