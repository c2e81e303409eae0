package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// PublicationRepository handles publication record database operations.
type PublicationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPublicationRepository creates a new publication record repository.
func NewPublicationRepository(db *sql.DB, logger *slog.Logger) *PublicationRepository {
	return &PublicationRepository{db: db, logger: logger}
}

const publicationColumns = `
			id
		  , execution_id
		  , platform
		  , status
		  , platform_ref
		  , post_url
		  , caption
		  , error_message
		  , views
		  , likes
		  , comments
		  , shares
		  , engagement_refreshed_at
		  , published_at
		  , created_at
		  , updated_at
`

// Upsert writes the delivery outcome for one execution+platform pair. Retried
// dispatches land on the existing row, so the record always reflects the
// latest attempt. The record ID is refreshed from the stored row.
func (r *PublicationRepository) Upsert(ctx context.Context, record *models.PublicationRecord) error {
	now := time.Now().UTC()

	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate publication ID: %w", err)
		}

		record.ID = id.String()
	}

	if record.Status == "" {
		record.Status = models.PublicationStatusPending
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	query := `
		INSERT INTO publication_records (id, execution_id, platform, status, platform_ref,
			post_url, caption, error_message, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id, platform) DO UPDATE SET
			status = EXCLUDED.status,
			platform_ref = EXCLUDED.platform_ref,
			post_url = EXCLUDED.post_url,
			caption = EXCLUDED.caption,
			error_message = EXCLUDED.error_message,
			published_at = EXCLUDED.published_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		record.ID,
		record.ExecutionID,
		record.Platform,
		record.Status,
		nullableString(record.PlatformRef),
		nullableString(record.PostURL),
		nullableString(record.Caption),
		nullableString(record.ErrorMessage),
		record.PublishedAt,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&record.ID)
	if err != nil {
		return persistence.NewExecutionError("UpsertPublication", record.ExecutionID, err)
	}

	return nil
}

// GetByID returns a publication record by its ID, or (nil, nil) when none
// matches.
func (r *PublicationRepository) GetByID(ctx context.Context, id string) (*models.PublicationRecord, error) {
	query := `
		SELECT` + publicationColumns + `
		FROM publication_records
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	record, err := scanPublication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan publication record: %w", err)
	}

	return record, nil
}

// ListByExecution returns all publication records for an execution ordered by
// platform name for stable output.
func (r *PublicationRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.PublicationRecord, error) {
	query := `
		SELECT` + publicationColumns + `
		FROM publication_records
		WHERE execution_id = $1
		ORDER BY platform
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list publication records: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var records []*models.PublicationRecord

	for rows.Next() {
		record, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication record: %w", err)
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// ListForEngagementRefresh returns published records whose counters were last
// refreshed before the cutoff, never-refreshed rows first.
func (r *PublicationRepository) ListForEngagementRefresh(ctx context.Context, refreshedBefore time.Time, limit int) ([]*models.PublicationRecord, error) {
	query := `
		SELECT` + publicationColumns + `
		FROM publication_records
		WHERE status = 'published'
			AND (engagement_refreshed_at IS NULL OR engagement_refreshed_at < $1)
		ORDER BY engagement_refreshed_at ASC NULLS FIRST
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, refreshedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications for engagement refresh: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var records []*models.PublicationRecord

	for rows.Next() {
		record, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication record: %w", err)
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// UpdateEngagement stores freshly collected counters and stamps the refresh
// time.
func (r *PublicationRepository) UpdateEngagement(ctx context.Context, id string, engagement models.Engagement, refreshedAt time.Time) error {
	query := `
		UPDATE publication_records
		SET views = $1, likes = $2, comments = $3, shares = $4,
			engagement_refreshed_at = $5, updated_at = NOW()
		WHERE id = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		engagement.Views,
		engagement.Likes,
		engagement.Comments,
		engagement.Shares,
		refreshedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update engagement for publication %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("publication %s: %w", id, persistence.ErrPublicationNotFound)
	}

	return nil
}

func scanPublication(scanner interface {
	Scan(dest ...any) error
}) (*models.PublicationRecord, error) {
	var (
		record                        models.PublicationRecord
		platformRef, postURL, caption sql.NullString
		errorMessage                  sql.NullString
	)

	err := scanner.Scan(
		&record.ID,
		&record.ExecutionID,
		&record.Platform,
		&record.Status,
		&platformRef,
		&postURL,
		&caption,
		&errorMessage,
		&record.Engagement.Views,
		&record.Engagement.Likes,
		&record.Engagement.Comments,
		&record.Engagement.Shares,
		&record.EngagementRefreshedAt,
		&record.PublishedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.PlatformRef = platformRef.String
	record.PostURL = postURL.String
	record.Caption = caption.String
	record.ErrorMessage = errorMessage.String

	return &record, nil
}
