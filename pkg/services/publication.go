package services

import (
	"context"
	"fmt"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// Publication reads the per-platform delivery records of an execution.
type Publication struct {
	persistence persistence.Persistence
}

// NewPublication creates a new publication service.
func NewPublication(persist persistence.Persistence) *Publication {
	return &Publication{persistence: persist}
}

// ListByExecution returns every delivery record of the execution. An unknown
// execution is an error; an execution that has not published yet returns an
// empty list.
func (p *Publication) ListByExecution(ctx context.Context, executionID string) ([]*models.PublicationRecord, error) {
	execution, err := p.persistence.WorkflowRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrExecutionNotFound)
	}

	records, err := p.persistence.PublicationRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}

	return records, nil
}
