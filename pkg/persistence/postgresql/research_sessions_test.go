package postgresql_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

func TestResearchRepository_SaveCollectionResultsAtomically(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := createExecution(ctx, t, p)
	advanceExecution(ctx, t, p, execution, models.WorkflowStatusResearching)

	now := time.Now().UTC()
	sessions := []*models.ResearchSession{
		{
			ExecutionID:   &execution.ID,
			Source:        models.SourceDevForum,
			Query:         execution.Config.Topic,
			MaxItems:      10,
			AnalysisDepth: models.DepthStandard,
			Status:        models.ResearchSessionStatusRunning,
			ResultsCount:  2,
			RawData: []models.RawItem{
				{Title: "Generics in the standard library", Score: 412},
				{Title: "Type parameters one year later", Score: 188},
			},
			StartedAt:   &now,
			CompletedAt: &now,
		},
		{
			ExecutionID:   &execution.ID,
			Source:        models.SourceTechNews,
			Query:         execution.Config.Topic,
			MaxItems:      10,
			AnalysisDepth: models.DepthStandard,
			Status:        models.ResearchSessionStatusFailed,
			ErrorMessage:  "upstream rate limited",
			StartedAt:     &now,
		},
	}

	// A stale execution snapshot rolls back the whole write, sessions included
	stale := *execution
	stale.Version = execution.Version + 1

	err := p.ResearchRepository().SaveCollectionResults(ctx, &stale, sessions, models.WorkflowStatusAnalyzing)
	require.Error(t, err)
	assert.True(t, persistence.IsStaleVersion(err))

	orphans, err := p.ResearchRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	err = p.ResearchRepository().SaveCollectionResults(ctx, execution, sessions, models.WorkflowStatusAnalyzing)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusAnalyzing, execution.Status)

	stored, err := p.ResearchRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	bySource := make(map[string]*models.ResearchSession, len(stored))
	for _, session := range stored {
		require.NotEmpty(t, session.ID)
		bySource[session.Source] = session
	}

	collected := bySource[models.SourceDevForum]
	require.NotNil(t, collected)
	assert.Equal(t, models.ResearchSessionStatusRunning, collected.Status)
	assert.Equal(t, 2, collected.ResultsCount)
	require.Len(t, collected.RawData, 2)
	assert.Equal(t, "Generics in the standard library", collected.RawData[0].Title)
	assert.Equal(t, 412, collected.RawData[0].Score)

	failed := bySource[models.SourceTechNews]
	require.NotNil(t, failed)
	assert.Equal(t, models.ResearchSessionStatusFailed, failed.Status)
	assert.Equal(t, "upstream rate limited", failed.ErrorMessage)
	assert.Zero(t, failed.ResultsCount)
}

func TestResearchRepository_CompleteAnalysisStampsSessions(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := createExecution(ctx, t, p)
	advanceExecution(ctx, t, p, execution, models.WorkflowStatusResearching)

	sessions := []*models.ResearchSession{
		{
			ExecutionID:   &execution.ID,
			Source:        models.SourceDevForum,
			Query:         execution.Config.Topic,
			MaxItems:      10,
			AnalysisDepth: models.DepthStandard,
			Status:        models.ResearchSessionStatusRunning,
			ResultsCount:  1,
			RawData:       []models.RawItem{{Title: "Generics adoption survey"}},
		},
		{
			ExecutionID:   &execution.ID,
			Source:        models.SourceTechNews,
			Query:         execution.Config.Topic,
			MaxItems:      10,
			AnalysisDepth: models.DepthStandard,
			Status:        models.ResearchSessionStatusFailed,
			ErrorMessage:  "timeout",
		},
	}

	err := p.ResearchRepository().SaveCollectionResults(ctx, execution, sessions, models.WorkflowStatusAnalyzing)
	require.NoError(t, err)

	insights := &models.ResearchInsights{
		Summary:      "Generics landed quietly; adoption concentrates in libraries.",
		KeyThemes:    []string{"library adoption", "performance neutrality"},
		Angles:       []string{"the feature nobody talks about anymore"},
		Keywords:     []string{"golang", "generics"},
		Sentiment:    "positive",
		QualityScore: 0.82,
	}

	err = p.ResearchRepository().CompleteAnalysis(ctx, execution, insights, models.WorkflowStatusScriptGeneration)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusScriptGeneration, execution.Status)

	stored, err := p.ResearchRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	for _, session := range stored {
		switch session.Source {
		case models.SourceDevForum:
			assert.Equal(t, models.ResearchSessionStatusCompleted, session.Status)
			require.NotNil(t, session.Insights)
			assert.Equal(t, insights.Summary, session.Insights.Summary)
			assert.Equal(t, insights.KeyThemes, session.Insights.KeyThemes)
			assert.InDelta(t, insights.QualityScore, session.Insights.QualityScore, 0.001)
			assert.NotNil(t, session.CompletedAt)
		case models.SourceTechNews:
			// Failed collections keep their failure record
			assert.Equal(t, models.ResearchSessionStatusFailed, session.Status)
			assert.Nil(t, session.Insights)
		}
	}
}

func TestResearchRepository_StandaloneSessionLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	session := &models.ResearchSession{
		Source:        models.SourceRepoTrends,
		Query:         "vector databases",
		MaxItems:      25,
		AnalysisDepth: models.DepthQuick,
		Status:        models.ResearchSessionStatusPending,
	}

	err := p.ResearchRepository().Create(ctx, session)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)

	retrieved, err := p.ResearchRepository().GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Nil(t, retrieved.ExecutionID)
	assert.Equal(t, models.SourceRepoTrends, retrieved.Source)

	now := time.Now().UTC()
	session.Status = models.ResearchSessionStatusCompleted
	session.ResultsCount = 3
	session.RawData = []models.RawItem{
		{Title: "pgvector"}, {Title: "weaviate"}, {Title: "qdrant"},
	}
	session.CompletedAt = &now

	err = p.ResearchRepository().Update(ctx, session)
	require.NoError(t, err)

	// Completed sessions are immutable
	session.ResultsCount = 99

	err = p.ResearchRepository().Update(ctx, session)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrSessionCompleted)

	missing := &models.ResearchSession{
		ID:            uuid.NewString(),
		Source:        models.SourceDevForum,
		Query:         "anything",
		Status:        models.ResearchSessionStatusRunning,
		MaxItems:      5,
		AnalysisDepth: models.DepthQuick,
	}

	err = p.ResearchRepository().Update(ctx, missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrSessionNotFound)

	notFound, err := p.ResearchRepository().GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, notFound)
}
