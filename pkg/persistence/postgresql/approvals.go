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

// ApprovalRepository handles workflow approval database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new workflow approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

const approvalColumns = `
			id
		  , execution_id
		  , script_id
		  , video_task_id
		  , artifact_hash
		  , status
		  , approver
		  , feedback
		  , requested_at
		  , resolved_at
		  , created_at
		  , updated_at
`

// Create inserts a new approval checkpoint.
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.WorkflowApproval) error {
	return insertApproval(ctx, r.db, approval)
}

// GetByID returns an approval by its ID, or (nil, nil) when none matches.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.WorkflowApproval, error) {
	query := `
		SELECT` + approvalColumns + `
		FROM workflow_approvals
		WHERE id = $1
	`

	return r.getOne(ctx, query, id)
}

// GetByExecution returns the approval for an execution, or (nil, nil) when
// none exists.
func (r *ApprovalRepository) GetByExecution(ctx context.Context, executionID string) (*models.WorkflowApproval, error) {
	query := `
		SELECT` + approvalColumns + `
		FROM workflow_approvals
		WHERE execution_id = $1
	`

	return r.getOne(ctx, query, executionID)
}

func (r *ApprovalRepository) getOne(ctx context.Context, query string, arg any) (*models.WorkflowApproval, error) {
	row := r.db.QueryRowContext(ctx, query, arg)

	approval, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}

	return approval, nil
}

// ListPending returns all unresolved approvals, oldest request first.
func (r *ApprovalRepository) ListPending(ctx context.Context) ([]*models.WorkflowApproval, error) {
	query := `
		SELECT` + approvalColumns + `
		FROM workflow_approvals
		WHERE status = 'pending'
		ORDER BY requested_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	approvals := make([]*models.WorkflowApproval, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, approval)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

// Resolve applies a decision to a pending approval and transitions the
// execution in the same transaction. A reviewer-edited script is inserted
// first and becomes the approved artifact. The pending-status guard makes a
// second resolution attempt fail instead of silently rewriting the decision.
func (r *ApprovalRepository) Resolve(ctx context.Context, execution *models.WorkflowExecution, approval *models.WorkflowApproval, editedScript *models.ScriptGeneration, to models.WorkflowStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if editedScript != nil {
		err = insertScript(ctx, tx, editedScript)
		if err != nil {
			return err
		}

		approval.ScriptID = editedScript.ID
		approval.ArtifactHash = editedScript.ArtifactHash
	}

	now := time.Now().UTC()

	query := `
		UPDATE workflow_approvals
		SET status = $1, script_id = $2, artifact_hash = $3, approver = $4,
			feedback = $5, resolved_at = $6, updated_at = $6
		WHERE id = $7 AND status = 'pending'
	`

	result, err := tx.ExecContext(ctx, query,
		approval.Status,
		approval.ScriptID,
		approval.ArtifactHash,
		nullableString(approval.Approver),
		nullableString(approval.Feedback),
		now,
		approval.ID,
	)
	if err != nil {
		return persistence.NewExecutionError("ResolveApproval", approval.ExecutionID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = persistence.NewExecutionError("ResolveApproval", approval.ExecutionID, persistence.ErrApprovalAlreadyResolved)

		return err
	}

	err = transitionExecution(ctx, tx, execution, to, nil)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	approval.ResolvedAt = &now
	approval.UpdatedAt = now

	return nil
}

func insertApproval(ctx context.Context, ex execer, approval *models.WorkflowApproval) error {
	now := time.Now().UTC()

	if approval.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate approval ID: %w", err)
		}

		approval.ID = id.String()
	}

	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}

	if approval.RequestedAt.IsZero() {
		approval.RequestedAt = now
	}

	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}

	approval.UpdatedAt = now

	query := `
		INSERT INTO workflow_approvals (id, execution_id, script_id, video_task_id,
			artifact_hash, status, approver, feedback, requested_at, resolved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := ex.ExecContext(ctx, query,
		approval.ID,
		approval.ExecutionID,
		approval.ScriptID,
		nullableString(approval.VideoTaskID),
		approval.ArtifactHash,
		approval.Status,
		nullableString(approval.Approver),
		nullableString(approval.Feedback),
		approval.RequestedAt,
		approval.ResolvedAt,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveApproval", approval.ExecutionID, err)
	}

	return nil
}

func scanApproval(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowApproval, error) {
	var (
		approval                        models.WorkflowApproval
		videoTaskID, approver, feedback sql.NullString
	)

	err := scanner.Scan(
		&approval.ID,
		&approval.ExecutionID,
		&approval.ScriptID,
		&videoTaskID,
		&approval.ArtifactHash,
		&approval.Status,
		&approver,
		&feedback,
		&approval.RequestedAt,
		&approval.ResolvedAt,
		&approval.CreatedAt,
		&approval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	approval.VideoTaskID = videoTaskID.String
	approval.Approver = approver.String
	approval.Feedback = feedback.String

	return &approval, nil
}
