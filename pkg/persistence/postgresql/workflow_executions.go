package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// WorkflowRepository handles workflow execution database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow execution repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const executionColumns = `
			id
		  , owner_id
		  , kind
		  , config
		  , status
		  , error_message
		  , results
		  , version
		  , started_at
		  , completed_at
		  , created_at
		  , updated_at
		  , deleted_at
`

const terminalStatusList = `('completed', 'failed', 'cancelled', 'rejected')`

// Create inserts a new execution. New executions always start at version 0
// in status pending.
func (r *WorkflowRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	if execution.Status == "" {
		execution.Status = models.WorkflowStatusPending
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now
	execution.Version = 0

	configJSON, err := json.Marshal(execution.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal execution config: %w", err)
	}

	resultsJSON, err := marshalNullableMap(execution.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal execution results: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (id, owner_id, kind, config, status,
			error_message, results, version, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.OwnerID,
		execution.Kind,
		configJSON,
		execution.Status,
		nullableString(execution.ErrorMessage),
		resultsJSON,
		execution.Version,
		execution.StartedAt,
		execution.CompletedAt,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// GetByID returns an execution by its ID, or (nil, nil) when none matches.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

var executionSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"status":     "status",
}

// ListExecutions returns one page of executions matching the options.
func (r *WorkflowRepository) ListExecutions(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	sortColumn, ok := executionSortColumns[opts.SortBy]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	sortOrder := "DESC"
	if opts.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	where := "WHERE deleted_at IS NULL"
	args := make([]any, 0, 4)

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var totalCount int64

	countQuery := "SELECT COUNT(*) FROM workflow_executions " + where

	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	args = append(args, opts.Limit)
	limitPos := len(args)
	args = append(args, opts.Offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`
		SELECT`+executionColumns+`
		FROM workflow_executions
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, sortColumn, sortOrder, limitPos, offsetPos)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return &persistence.ExecutionListResult{
		Executions:  executions,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(executions)) < totalCount,
	}, nil
}

// Transition moves the execution along one state machine edge, guarded by
// the version the caller loaded.
func (r *WorkflowRepository) Transition(ctx context.Context, execution *models.WorkflowExecution, to models.WorkflowStatus) error {
	return transitionExecution(ctx, r.db, execution, to, nil)
}

// TransitionWithResults is Transition plus a merge into the results column.
func (r *WorkflowRepository) TransitionWithResults(ctx context.Context, execution *models.WorkflowExecution, to models.WorkflowStatus, results map[string]any) error {
	return transitionExecution(ctx, r.db, execution, to, results)
}

// Fail marks the execution failed from any non-terminal status. Unlike
// Transition it is not version guarded: a failure report always wins over
// concurrent progress writes.
func (r *WorkflowRepository) Fail(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE workflow_executions
		SET status = 'failed', error_message = $1, version = version + 1,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL AND status NOT IN ` + terminalStatusList

	result, err := r.db.ExecContext(ctx, query, errorMessage, id)
	if err != nil {
		return persistence.NewExecutionError("Fail", id, err)
	}

	return r.checkStatusWrite(ctx, "Fail", id, result)
}

// Cancel marks the execution cancelled from any non-terminal status.
func (r *WorkflowRepository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_executions
		SET status = 'cancelled', version = version + 1,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND status NOT IN ` + terminalStatusList

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.NewExecutionError("Cancel", id, err)
	}

	return r.checkStatusWrite(ctx, "Cancel", id, result)
}

// Delete soft-deletes a terminal execution. Running executions must be
// cancelled first so no worker is left advancing a deleted workflow.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_executions
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND status IN ` + terminalStatusList

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if existing == nil {
			return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotTerminal)
	}

	return nil
}

// checkStatusWrite maps a zero-row guarded status update to the right error:
// the execution either does not exist or is already terminal.
func (r *WorkflowRepository) checkStatusWrite(ctx context.Context, op, id string, result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return nil
	}

	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError(op, id, persistence.ErrInvalidTransition)
}

// execer is satisfied by *sql.DB and *sql.Tx, letting stage repositories run
// the same guarded transition inside their own transactions.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// transitionExecution performs the version-guarded status write and, on
// success, mutates the in-memory execution to match the stored row.
func transitionExecution(ctx context.Context, ex execer, execution *models.WorkflowExecution, to models.WorkflowStatus, results map[string]any) error {
	if !models.CanTransition(execution.Status, to) {
		return &persistence.ExecutionError{
			Op:          "Transition",
			ExecutionID: execution.ID,
			Err:         persistence.ErrInvalidTransition,
			Message:     fmt.Sprintf("%s -> %s", execution.Status, to),
		}
	}

	now := time.Now().UTC()

	startedAt := execution.StartedAt
	if startedAt == nil && to == models.WorkflowStatusResearching {
		startedAt = &now
	}

	completedAt := execution.CompletedAt
	if completedAt == nil && to.IsTerminal() {
		completedAt = &now
	}

	mergedResults := execution.Results
	if results != nil {
		if mergedResults == nil {
			mergedResults = make(map[string]any, len(results))
		} else {
			mergedResults = maps.Clone(mergedResults)
		}

		maps.Copy(mergedResults, results)
	}

	resultsJSON, err := marshalNullableMap(mergedResults)
	if err != nil {
		return fmt.Errorf("failed to marshal execution results: %w", err)
	}

	query := `
		UPDATE workflow_executions
		SET status = $1, version = version + 1, results = $2,
			started_at = $3, completed_at = $4, updated_at = $5
		WHERE id = $6 AND version = $7 AND deleted_at IS NULL
	`

	result, err := ex.ExecContext(ctx, query,
		to,
		resultsJSON,
		startedAt,
		completedAt,
		now,
		execution.ID,
		execution.Version,
	)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrStaleVersion)
	}

	execution.Status = to
	execution.Version++
	execution.Results = mergedResults
	execution.StartedAt = startedAt
	execution.CompletedAt = completedAt
	execution.UpdatedAt = now

	return nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowExecution, error) {
	var (
		execution               models.WorkflowExecution
		configJSON, resultsJSON []byte
		errorMessage            sql.NullString
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.OwnerID,
		&execution.Kind,
		&configJSON,
		&execution.Status,
		&errorMessage,
		&resultsJSON,
		&execution.Version,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&execution.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.ErrorMessage = errorMessage.String

	err = json.Unmarshal(configJSON, &execution.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution config: %w", err)
	}

	if resultsJSON != nil {
		err := json.Unmarshal(resultsJSON, &execution.Results)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution results: %w", err)
		}
	}

	return &execution, nil
}

// marshalNullableMap marshals a map to JSON, mapping nil to SQL NULL.
func marshalNullableMap(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}

// nullableString maps the empty string to SQL NULL.
func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
