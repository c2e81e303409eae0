package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
)

func (f *fixture) runToAnalyzing(t *testing.T) *models.WorkflowExecution {
	t.Helper()

	execution := f.startExecution(t, testConfig(false))
	require.NoError(t, f.engine.RunResearch(context.Background(), execution.ID))

	return f.reload(t, execution.ID)
}

func TestAnalysisStampsInsightsOnSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToAnalyzing(t)
	require.NoError(t, f.engine.RunAnalysis(ctx, execution.ID))

	assert.Equal(t, models.WorkflowStatusScriptGeneration, f.reload(t, execution.ID).Status)

	sessions, err := f.persist.ResearchRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	for _, session := range sessions {
		assert.Equal(t, models.ResearchSessionStatusCompleted, session.Status)
		require.NotNil(t, session.Insights)
		assert.NotEmpty(t, session.Insights.Summary)
		assert.NotEmpty(t, session.Insights.KeyThemes)
		assert.NotNil(t, session.CompletedAt)
	}
}

func TestAnalysisRunsOneCorrectivePass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// First response misses required fields; the corrective pass fixes it.
	f.generator.responses = []string{`{"summary": "too short"}`, validInsightsJSON}

	execution := f.runToAnalyzing(t)
	require.NoError(t, f.engine.RunAnalysis(ctx, execution.ID))

	assert.Equal(t, models.WorkflowStatusScriptGeneration, f.reload(t, execution.ID).Status)
	assert.Equal(t, 2, f.generator.calls)
}

func TestAnalysisFailsAfterSecondInvalidResponse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.generator.responses = []string{`not even json`}

	execution := f.runToAnalyzing(t)
	require.NoError(t, f.engine.RunAnalysis(ctx, execution.ID))

	reloaded := f.reload(t, execution.ID)
	assert.Equal(t, models.WorkflowStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "analysis")
	assert.Contains(t, reloaded.ErrorMessage, "textgen")
	assert.Equal(t, 2, f.generator.calls)
}

func TestAnalysisRetriesOnTransientProviderFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.generator.err = providers.NewTransportError("textgen", "Complete", assert.AnError)

	execution := f.runToAnalyzing(t)

	err := f.engine.RunAnalysis(ctx, execution.ID)
	require.Error(t, err)

	var stageErr *StageError

	require.ErrorAs(t, err, &stageErr)

	// The stage stays claimable for the redelivered event.
	assert.Equal(t, models.WorkflowStatusAnalyzing, f.reload(t, execution.ID).Status)
}

func TestAnalysisFailsWithoutResearchData(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// One source succeeds but returns nothing, the other fails outright.
	f.devforum.items = nil
	f.technews.err = providers.NewError("technews", "Collect", 403, "blocked")

	execution := f.startExecution(t, testConfig(false))
	require.NoError(t, f.engine.RunResearch(ctx, execution.ID))
	require.Equal(t, models.WorkflowStatusAnalyzing, f.reload(t, execution.ID).Status)

	require.NoError(t, f.engine.RunAnalysis(ctx, execution.ID))

	reloaded := f.reload(t, execution.ID)
	assert.Equal(t, models.WorkflowStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "no research data")
	assert.Zero(t, f.generator.calls)
}

func TestCollectedItemsSkipsFailedSessionsAndCaps(t *testing.T) {
	t.Parallel()

	many := make([]models.RawItem, digestItemLimit+15)
	for i := range many {
		many[i] = models.RawItem{Title: "item"}
	}

	sessions := []*models.ResearchSession{
		{Status: models.ResearchSessionStatusFailed, RawData: []models.RawItem{{Title: "ignored"}}},
		{Status: models.ResearchSessionStatusRunning, RawData: many},
	}

	items := collectedItems(sessions)
	assert.Len(t, items, digestItemLimit)
}
