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

// ScriptRepository handles script generation database operations. Scripts are
// append-only; there is no update path.
type ScriptRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScriptRepository creates a new script generation repository.
func NewScriptRepository(db *sql.DB, logger *slog.Logger) *ScriptRepository {
	return &ScriptRepository{db: db, logger: logger}
}

const scriptColumns = `
			id
		  , execution_id
		  , origin
		  , content_type
		  , title
		  , hook
		  , body
		  , call_to_action
		  , hashtags
		  , word_count
		  , artifact_hash
		  , model
		  , target_audience
		  , style
		  , duration_target_seconds
		  , quality_score
		  , prompt_notes
		  , created_at
`

// Create inserts a new script artifact.
func (r *ScriptRepository) Create(ctx context.Context, script *models.ScriptGeneration) error {
	return insertScript(ctx, r.db, script)
}

// GetByID returns a script by its ID, or (nil, nil) when none matches.
func (r *ScriptRepository) GetByID(ctx context.Context, id string) (*models.ScriptGeneration, error) {
	query := `
		SELECT` + scriptColumns + `
		FROM script_generations
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	script, err := scanScript(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan script: %w", err)
	}

	return script, nil
}

// LatestByExecution returns the newest script for the execution, or
// (nil, nil) when none exists. The newest script is the one under review
// when reviewer edits supersede the generated version.
func (r *ScriptRepository) LatestByExecution(ctx context.Context, executionID string) (*models.ScriptGeneration, error) {
	query := `
		SELECT` + scriptColumns + `
		FROM script_generations
		WHERE execution_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, executionID)

	script, err := scanScript(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan script: %w", err)
	}

	return script, nil
}

// ListByExecution returns all script versions for an execution, oldest first.
func (r *ScriptRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ScriptGeneration, error) {
	query := `
		SELECT` + scriptColumns + `
		FROM script_generations
		WHERE execution_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scripts: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	scripts := make([]*models.ScriptGeneration, 0)

	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}

		scripts = append(scripts, script)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating scripts: %w", err)
	}

	return scripts, nil
}

// SaveScriptStage inserts the script, optionally inserts the approval
// checkpoint when the workflow goes straight to review, and transitions the
// execution, all in one transaction.
func (r *ScriptRepository) SaveScriptStage(ctx context.Context, execution *models.WorkflowExecution, script *models.ScriptGeneration, approval *models.WorkflowApproval, to models.WorkflowStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = insertScript(ctx, tx, script)
	if err != nil {
		return err
	}

	if approval != nil {
		approval.ScriptID = script.ID

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

func insertScript(ctx context.Context, ex execer, script *models.ScriptGeneration) error {
	if script.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate script ID: %w", err)
		}

		script.ID = id.String()
	}

	if script.Origin == "" {
		script.Origin = models.ScriptOriginGenerated
	}

	if script.CreatedAt.IsZero() {
		script.CreatedAt = time.Now().UTC()
	}

	var hashtagsJSON []byte

	if script.Hashtags != nil {
		var err error

		hashtagsJSON, err = json.Marshal(script.Hashtags)
		if err != nil {
			return fmt.Errorf("failed to marshal script hashtags: %w", err)
		}
	}

	query := `
		INSERT INTO script_generations (id, execution_id, origin, content_type, title, hook, body,
			call_to_action, hashtags, word_count, artifact_hash, model, target_audience,
			style, duration_target_seconds, quality_score, prompt_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := ex.ExecContext(ctx, query,
		script.ID,
		script.ExecutionID,
		script.Origin,
		nullableString(script.ContentType),
		script.Title,
		nullableString(script.Hook),
		script.Body,
		nullableString(script.CallToAction),
		hashtagsJSON,
		script.WordCount,
		script.ArtifactHash,
		nullableString(script.Model),
		nullableString(script.TargetAudience),
		nullableString(script.Style),
		script.DurationTargetSeconds,
		script.QualityScore,
		nullableString(script.PromptNotes),
		script.CreatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveScript", script.ExecutionID, err)
	}

	return nil
}

func scanScript(scanner interface {
	Scan(dest ...any) error
}) (*models.ScriptGeneration, error) {
	var (
		script                          models.ScriptGeneration
		hashtagsJSON                    []byte
		contentType, hook, callToAction sql.NullString
		model, audience, style, notes   sql.NullString
	)

	err := scanner.Scan(
		&script.ID,
		&script.ExecutionID,
		&script.Origin,
		&contentType,
		&script.Title,
		&hook,
		&script.Body,
		&callToAction,
		&hashtagsJSON,
		&script.WordCount,
		&script.ArtifactHash,
		&model,
		&audience,
		&style,
		&script.DurationTargetSeconds,
		&script.QualityScore,
		&notes,
		&script.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	script.ContentType = contentType.String
	script.Hook = hook.String
	script.CallToAction = callToAction.String
	script.Model = model.String
	script.TargetAudience = audience.String
	script.Style = style.String
	script.PromptNotes = notes.String

	if hashtagsJSON != nil {
		err := json.Unmarshal(hashtagsJSON, &script.Hashtags)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal script hashtags: %w", err)
		}
	}

	return &script, nil
}
