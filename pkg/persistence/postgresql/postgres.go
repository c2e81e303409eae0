// Package postgresql provides the PostgreSQL persistence implementation for workflow executions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db              *sql.DB
	logger          *slog.Logger
	workflowRepo    *WorkflowRepository
	researchRepo    *ResearchRepository
	scriptRepo      *ScriptRepository
	videoTaskRepo   *VideoTaskRepository
	approvalRepo    *ApprovalRepository
	publicationRepo *PublicationRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:              database,
		logger:          logger,
		workflowRepo:    NewWorkflowRepository(database, logger),
		researchRepo:    NewResearchRepository(database, logger),
		scriptRepo:      NewScriptRepository(database, logger),
		videoTaskRepo:   NewVideoTaskRepository(database, logger),
		approvalRepo:    NewApprovalRepository(database, logger),
		publicationRepo: NewPublicationRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// WorkflowRepository returns the workflow execution repository.
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

// ResearchRepository returns the research session repository.
func (p *Persistence) ResearchRepository() persistence.ResearchRepository {
	return p.researchRepo
}

// ScriptRepository returns the script generation repository.
func (p *Persistence) ScriptRepository() persistence.ScriptRepository {
	return p.scriptRepo
}

// VideoTaskRepository returns the video generation task repository.
func (p *Persistence) VideoTaskRepository() persistence.VideoTaskRepository {
	return p.videoTaskRepo
}

// ApprovalRepository returns the workflow approval repository.
func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return p.approvalRepo
}

// PublicationRepository returns the publication record repository.
func (p *Persistence) PublicationRepository() persistence.PublicationRepository {
	return p.publicationRepo
}
