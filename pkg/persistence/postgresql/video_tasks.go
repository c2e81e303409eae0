package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// uniqueViolation is the PostgreSQL error code raised when the single active
// task index rejects a second live render for the same execution.
const uniqueViolation = "23505"

// VideoTaskRepository handles video generation task database operations.
type VideoTaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVideoTaskRepository creates a new video generation task repository.
func NewVideoTaskRepository(db *sql.DB, logger *slog.Logger) *VideoTaskRepository {
	return &VideoTaskRepository{db: db, logger: logger}
}

const videoTaskColumns = `
			id
		  , execution_id
		  , script_id
		  , provider_task_id
		  , avatar_id
		  , voice_id
		  , aspect_ratio
		  , status
		  , video_url
		  , thumbnail_url
		  , mirrored_url
		  , duration_seconds
		  , error_message
		  , last_polled_at
		  , submitted_at
		  , completed_at
		  , created_at
		  , updated_at
`

// Create inserts a new render task. The task row is written before the
// provider is contacted so a crash mid-submission leaves a visible pending
// row instead of an orphaned provider job.
func (r *VideoTaskRepository) Create(ctx context.Context, task *models.VideoGenerationTask) error {
	now := time.Now().UTC()

	if task.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate video task ID: %w", err)
		}

		task.ID = id.String()
	}

	if task.Status == "" {
		task.Status = models.VideoTaskStatusPending
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	task.UpdatedAt = now

	query := `
		INSERT INTO video_generation_tasks (id, execution_id, script_id, provider_task_id,
			avatar_id, voice_id, aspect_ratio, status, video_url, thumbnail_url, mirrored_url,
			duration_seconds, error_message, last_polled_at, submitted_at, completed_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.ExecutionID,
		task.ScriptID,
		nullableString(task.ProviderTaskID),
		nullableString(task.AvatarID),
		nullableString(task.VoiceID),
		nullableString(task.AspectRatio),
		task.Status,
		nullableString(task.VideoURL),
		nullableString(task.ThumbnailURL),
		nullableString(task.MirroredURL),
		task.DurationSeconds,
		nullableString(task.ErrorMessage),
		task.LastPolledAt,
		task.SubmittedAt,
		task.CompletedAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("CreateVideoTask", task.ExecutionID, persistence.ErrActiveVideoTask)
		}

		return persistence.NewExecutionError("CreateVideoTask", task.ExecutionID, err)
	}

	return nil
}

// GetByID returns a task by its ID, or (nil, nil) when none matches.
func (r *VideoTaskRepository) GetByID(ctx context.Context, id string) (*models.VideoGenerationTask, error) {
	query := `
		SELECT` + videoTaskColumns + `
		FROM video_generation_tasks
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	task, err := scanVideoTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan video task: %w", err)
	}

	return task, nil
}

// GetActiveByExecution returns the pending or processing task for an
// execution, or (nil, nil) when none exists. The partial unique index keeps
// this at most one row.
func (r *VideoTaskRepository) GetActiveByExecution(ctx context.Context, executionID string) (*models.VideoGenerationTask, error) {
	query := `
		SELECT` + videoTaskColumns + `
		FROM video_generation_tasks
		WHERE execution_id = $1 AND status IN ('pending', 'processing')
	`

	row := r.db.QueryRowContext(ctx, query, executionID)

	task, err := scanVideoTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan video task: %w", err)
	}

	return task, nil
}

// Update rewrites the mutable fields of a task.
func (r *VideoTaskRepository) Update(ctx context.Context, task *models.VideoGenerationTask) error {
	return updateVideoTask(ctx, r.db, task)
}

// CompleteVideoStage marks the task completed, inserts the approval
// checkpoint, and transitions the execution in one transaction.
func (r *VideoTaskRepository) CompleteVideoStage(ctx context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, approval *models.WorkflowApproval, to models.WorkflowStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = updateVideoTask(ctx, tx, task)
	if err != nil {
		return err
	}

	if approval != nil {
		approval.VideoTaskID = task.ID

		err = insertApproval(ctx, tx, approval)
		if err != nil {
			return err
		}
	}

	err = transitionExecution(ctx, tx, execution, to, nil)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FailVideoStage marks the task failed and fails the execution in one
// transaction. The execution write is skipped silently when another actor
// already moved it to a terminal status.
func (r *VideoTaskRepository) FailVideoStage(ctx context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, errorMessage string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	task.Status = models.VideoTaskStatusFailed
	task.ErrorMessage = errorMessage

	if task.CompletedAt == nil {
		task.CompletedAt = &now
	}

	err = updateVideoTask(ctx, tx, task)
	if err != nil {
		return err
	}

	failQuery := `
		UPDATE workflow_executions
		SET status = 'failed', error_message = $1, version = version + 1,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL AND status NOT IN ` + terminalStatusList

	_, err = tx.ExecContext(ctx, failQuery, errorMessage, execution.ID)
	if err != nil {
		return persistence.NewExecutionError("FailVideoStage", execution.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func updateVideoTask(ctx context.Context, ex execer, task *models.VideoGenerationTask) error {
	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE video_generation_tasks
		SET provider_task_id = $1, status = $2, video_url = $3, thumbnail_url = $4,
			mirrored_url = $5, duration_seconds = $6, error_message = $7, last_polled_at = $8,
			submitted_at = $9, completed_at = $10, updated_at = $11
		WHERE id = $12
	`

	result, err := ex.ExecContext(ctx, query,
		nullableString(task.ProviderTaskID),
		task.Status,
		nullableString(task.VideoURL),
		nullableString(task.ThumbnailURL),
		nullableString(task.MirroredURL),
		task.DurationSeconds,
		nullableString(task.ErrorMessage),
		task.LastPolledAt,
		task.SubmittedAt,
		task.CompletedAt,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return persistence.NewExecutionError("UpdateVideoTask", task.ExecutionID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewExecutionError("UpdateVideoTask", task.ExecutionID, persistence.ErrVideoTaskNotFound)
	}

	return nil
}

func scanVideoTask(scanner interface {
	Scan(dest ...any) error
}) (*models.VideoGenerationTask, error) {
	var (
		task                              models.VideoGenerationTask
		providerTaskID, avatarID, voiceID sql.NullString
		aspectRatio, videoURL             sql.NullString
		thumbnailURL, mirroredURL         sql.NullString
		errorMessage                      sql.NullString
		durationSeconds                   sql.NullFloat64
	)

	err := scanner.Scan(
		&task.ID,
		&task.ExecutionID,
		&task.ScriptID,
		&providerTaskID,
		&avatarID,
		&voiceID,
		&aspectRatio,
		&task.Status,
		&videoURL,
		&thumbnailURL,
		&mirroredURL,
		&durationSeconds,
		&errorMessage,
		&task.LastPolledAt,
		&task.SubmittedAt,
		&task.CompletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ProviderTaskID = providerTaskID.String
	task.AvatarID = avatarID.String
	task.VoiceID = voiceID.String
	task.AspectRatio = aspectRatio.String
	task.VideoURL = videoURL.String
	task.ThumbnailURL = thumbnailURL.String
	task.MirroredURL = mirroredURL.String
	task.ErrorMessage = errorMessage.String
	task.DurationSeconds = durationSeconds.Float64

	return &task, nil
}
