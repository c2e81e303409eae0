package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// PublicationRepository stores per-platform delivery records in memory.
type PublicationRepository struct {
	store *store
}

func (r *PublicationRepository) Upsert(_ context.Context, record *models.PublicationRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	for _, existing := range r.store.publications {
		if existing.ExecutionID == record.ExecutionID && existing.Platform == record.Platform {
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
			record.Engagement = existing.Engagement
			record.EngagementRefreshedAt = existing.EngagementRefreshedAt
			record.UpdatedAt = now

			r.store.publications[record.ID] = clonePublication(record)

			return nil
		}
	}

	if record.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		record.ID = id
	}

	if record.Status == "" {
		record.Status = models.PublicationStatusPending
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	r.store.publications[record.ID] = clonePublication(record)

	return nil
}

func (r *PublicationRepository) GetByID(_ context.Context, id string) (*models.PublicationRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.publications[id]
	if !ok {
		return nil, nil
	}

	return clonePublication(stored), nil
}

func (r *PublicationRepository) ListByExecution(_ context.Context, executionID string) ([]*models.PublicationRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	records := make([]*models.PublicationRecord, 0)

	for _, record := range r.store.publications {
		if record.ExecutionID == executionID {
			records = append(records, clonePublication(record))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Platform < records[j].Platform
	})

	return records, nil
}

func (r *PublicationRepository) ListForEngagementRefresh(_ context.Context, refreshedBefore time.Time, limit int) ([]*models.PublicationRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	due := make([]*models.PublicationRecord, 0)

	for _, record := range r.store.publications {
		if record.Status != models.PublicationStatusPublished {
			continue
		}

		if record.EngagementRefreshedAt == nil || record.EngagementRefreshedAt.Before(refreshedBefore) {
			due = append(due, clonePublication(record))
		}
	}

	// Never refreshed rows first, then oldest refresh first
	sort.Slice(due, func(i, j int) bool {
		left, right := due[i].EngagementRefreshedAt, due[j].EngagementRefreshedAt

		switch {
		case left == nil && right == nil:
			return due[i].ID < due[j].ID
		case left == nil:
			return true
		case right == nil:
			return false
		default:
			return left.Before(*right)
		}
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *PublicationRepository) UpdateEngagement(_ context.Context, id string, engagement models.Engagement, refreshedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.publications[id]
	if !ok {
		return fmt.Errorf("publication %s: %w", id, persistence.ErrPublicationNotFound)
	}

	stored.Engagement = engagement
	stored.EngagementRefreshedAt = &refreshedAt
	stored.UpdatedAt = time.Now().UTC()

	return nil
}
