package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// ResearchRepository handles research session database operations.
type ResearchRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewResearchRepository creates a new research session repository.
func NewResearchRepository(db *sql.DB, logger *slog.Logger) *ResearchRepository {
	return &ResearchRepository{db: db, logger: logger}
}

const sessionColumns = `
			id
		  , execution_id
		  , source
		  , query
		  , max_items
		  , analysis_depth
		  , status
		  , results_count
		  , raw_data
		  , insights
		  , error_message
		  , started_at
		  , completed_at
		  , created_at
		  , updated_at
`

// Create inserts a new research session.
func (r *ResearchRepository) Create(ctx context.Context, session *models.ResearchSession) error {
	now := time.Now().UTC()

	if session.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate session ID: %w", err)
		}

		session.ID = id.String()
	}

	if session.Status == "" {
		session.Status = models.ResearchSessionStatusPending
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}

	session.UpdatedAt = now

	rawDataJSON, insightsJSON, err := marshalSessionPayloads(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO research_sessions (id, execution_id, source, query, max_items,
			analysis_depth, status, results_count, raw_data, insights, error_message,
			started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		session.ID,
		session.ExecutionID,
		session.Source,
		session.Query,
		session.MaxItems,
		session.AnalysisDepth,
		session.Status,
		session.ResultsCount,
		rawDataJSON,
		insightsJSON,
		nullableString(session.ErrorMessage),
		session.StartedAt,
		session.CompletedAt,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return &persistence.SessionError{Op: "Create", SessionID: session.ID, Err: err}
	}

	return nil
}

// GetByID returns a session by its ID, or (nil, nil) when none matches.
func (r *ResearchRepository) GetByID(ctx context.Context, id string) (*models.ResearchSession, error) {
	query := `
		SELECT` + sessionColumns + `
		FROM research_sessions
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan research session: %w", err)
	}

	return session, nil
}

// ListByExecution returns all sessions belonging to an execution, oldest first.
func (r *ResearchRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ResearchSession, error) {
	query := `
		SELECT` + sessionColumns + `
		FROM research_sessions
		WHERE execution_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query research sessions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	sessions := make([]*models.ResearchSession, 0)

	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan research session: %w", err)
		}

		sessions = append(sessions, session)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating research sessions: %w", err)
	}

	return sessions, nil
}

// Update rewrites a session. Completed sessions are immutable; writes against
// them yield ErrSessionCompleted.
func (r *ResearchRepository) Update(ctx context.Context, session *models.ResearchSession) error {
	session.UpdatedAt = time.Now().UTC()

	rawDataJSON, insightsJSON, err := marshalSessionPayloads(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE research_sessions
		SET status = $1, results_count = $2, raw_data = $3, insights = $4,
			error_message = $5, started_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $9 AND status != 'completed'
	`

	result, err := r.db.ExecContext(ctx, query,
		session.Status,
		session.ResultsCount,
		rawDataJSON,
		insightsJSON,
		nullableString(session.ErrorMessage),
		session.StartedAt,
		session.CompletedAt,
		session.UpdatedAt,
		session.ID,
	)
	if err != nil {
		return &persistence.SessionError{Op: "Update", SessionID: session.ID, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, err := r.GetByID(ctx, session.ID)
		if err != nil {
			return err
		}

		if existing == nil {
			return &persistence.SessionError{Op: "Update", SessionID: session.ID, Err: persistence.ErrSessionNotFound}
		}

		return &persistence.SessionError{Op: "Update", SessionID: session.ID, Err: persistence.ErrSessionCompleted}
	}

	return nil
}

// SaveCollectionResults writes the per-source session outcomes and the
// execution transition in one transaction. Sessions are upserted so a
// redelivered stage that already wrote nothing durable can safely rebuild
// them.
func (r *ResearchRepository) SaveCollectionResults(ctx context.Context, execution *models.WorkflowExecution, sessions []*models.ResearchSession, to models.WorkflowStatus) error {
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

	for _, session := range sessions {
		if session.ID == "" {
			id, idErr := uuid.NewV7()
			if idErr != nil {
				err = fmt.Errorf("failed to generate session ID: %w", idErr)

				return err
			}

			session.ID = id.String()
		}

		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}

		session.UpdatedAt = now

		rawDataJSON, insightsJSON, payloadErr := marshalSessionPayloads(session)
		if payloadErr != nil {
			err = payloadErr

			return err
		}

		query := `
			INSERT INTO research_sessions (id, execution_id, source, query, max_items,
				analysis_depth, status, results_count, raw_data, insights, error_message,
				started_at, completed_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				results_count = EXCLUDED.results_count,
				raw_data = EXCLUDED.raw_data,
				error_message = EXCLUDED.error_message,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				updated_at = EXCLUDED.updated_at
		`

		_, err = tx.ExecContext(ctx, query,
			session.ID,
			session.ExecutionID,
			session.Source,
			session.Query,
			session.MaxItems,
			session.AnalysisDepth,
			session.Status,
			session.ResultsCount,
			rawDataJSON,
			insightsJSON,
			nullableString(session.ErrorMessage),
			session.StartedAt,
			session.CompletedAt,
			session.CreatedAt,
			session.UpdatedAt,
		)
		if err != nil {
			return &persistence.SessionError{Op: "SaveCollectionResults", SessionID: session.ID, Err: err}
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

// CompleteAnalysis stamps the synthesized insights onto every session of the
// execution still running, marks them completed, and transitions the
// execution, all in one transaction.
func (r *ResearchRepository) CompleteAnalysis(ctx context.Context, execution *models.WorkflowExecution, insights *models.ResearchInsights, to models.WorkflowStatus) error {
	insightsJSON, err := json.Marshal(insights)
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		UPDATE research_sessions
		SET insights = $1, status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE execution_id = $2 AND status = 'running'
	`

	_, err = tx.ExecContext(ctx, query, insightsJSON, execution.ID)
	if err != nil {
		return persistence.NewExecutionError("CompleteAnalysis", execution.ID, err)
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

func marshalSessionPayloads(session *models.ResearchSession) (rawData, insights []byte, err error) {
	if session.RawData != nil {
		rawData, err = json.Marshal(session.RawData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal session raw data: %w", err)
		}
	}

	if session.Insights != nil {
		insights, err = json.Marshal(session.Insights)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal session insights: %w", err)
		}
	}

	return rawData, insights, nil
}

func scanSession(scanner interface {
	Scan(dest ...any) error
}) (*models.ResearchSession, error) {
	var (
		session                   models.ResearchSession
		rawDataJSON, insightsJSON []byte
		errorMessage              sql.NullString
	)

	err := scanner.Scan(
		&session.ID,
		&session.ExecutionID,
		&session.Source,
		&session.Query,
		&session.MaxItems,
		&session.AnalysisDepth,
		&session.Status,
		&session.ResultsCount,
		&rawDataJSON,
		&insightsJSON,
		&errorMessage,
		&session.StartedAt,
		&session.CompletedAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.ErrorMessage = errorMessage.String

	if rawDataJSON != nil {
		err := json.Unmarshal(rawDataJSON, &session.RawData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal session raw data: %w", err)
		}
	}

	if insightsJSON != nil {
		err := json.Unmarshal(insightsJSON, &session.Insights)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal session insights: %w", err)
		}
	}

	return &session, nil
}
