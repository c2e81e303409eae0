package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
)

func TestArtifactHashTracksReviewableContent(t *testing.T) {
	t.Parallel()

	script := &models.ScriptGeneration{
		Title:        "Title",
		Hook:         "Hook",
		Body:         "Body text",
		CallToAction: "Follow",
		Hashtags:     []string{"#go"},
	}

	first := ArtifactHash(script)
	assert.True(t, strings.HasPrefix(first, "sha256:"))
	assert.Equal(t, first, ArtifactHash(script))

	edited := *script
	edited.Body = "Different body"
	assert.NotEqual(t, first, ArtifactHash(&edited))

	// Metadata changes do not invalidate reviews.
	rescored := *script
	rescored.QualityScore = 0.1
	rescored.Model = "other-model"
	assert.Equal(t, first, ArtifactHash(&rescored))
}

func (f *fixture) runToScriptStage(t *testing.T, cfg models.ExecutionConfig) *models.WorkflowExecution {
	t.Helper()

	ctx := context.Background()
	execution := f.startExecution(t, cfg)

	require.NoError(t, f.engine.RunResearch(ctx, execution.ID))
	require.NoError(t, f.engine.RunAnalysis(ctx, execution.ID))

	return f.reload(t, execution.ID)
}

func TestScriptParksAtApprovalWhenNoVideo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToScriptStage(t, testConfig(false))
	require.NoError(t, f.engine.RunScript(ctx, execution.ID))

	assert.Equal(t, models.WorkflowStatusAwaitingApproval, f.reload(t, execution.ID).Status)

	script, err := f.persist.ScriptRepository().LatestByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, script)
	assert.Equal(t, models.ScriptOriginGenerated, script.Origin)
	assert.Equal(t, models.ContentTypePost, script.ContentType)
	assert.Equal(t, "fake-model-1", script.Model)
	assert.Equal(t, 30, script.WordCount)

	approval := f.pendingApproval(t, execution.ID)
	assert.Equal(t, models.ApprovalStatusPending, approval.Status)
	assert.Equal(t, script.ID, approval.ScriptID)
	assert.Equal(t, script.ArtifactHash, approval.ArtifactHash)

	requested := f.bus.ofType(events.ApprovalRequestedEvent)
	require.Len(t, requested, 1)

	event, ok := requested[0].(events.ApprovalRequested)
	require.True(t, ok)
	assert.Equal(t, approval.ID, event.ApprovalID)
	assert.Equal(t, script.ArtifactHash, event.ArtifactHash)
}

func TestScriptRoutesToVideoWhenRequested(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToScriptStage(t, testConfig(true))
	require.NoError(t, f.engine.RunScript(ctx, execution.ID))

	assert.Equal(t, models.WorkflowStatusVideoGeneration, f.reload(t, execution.ID).Status)
	assert.Contains(t, f.bus.stages(), events.StageVideo)

	script, err := f.persist.ScriptRepository().LatestByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, script)
	assert.Equal(t, models.ContentTypeShortVideo, script.ContentType)

	// The checkpoint is created when the render finishes, not before.
	approval, err := f.persist.ApprovalRepository().GetByExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Nil(t, approval)
	assert.Empty(t, f.bus.ofType(events.ApprovalRequestedEvent))
}

func TestScriptKeepsExplicitContentType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cfg := testConfig(true)
	cfg.ContentType = models.ContentTypeNarration

	execution := f.runToScriptStage(t, cfg)
	require.NoError(t, f.engine.RunScript(ctx, execution.ID))

	script, err := f.persist.ScriptRepository().LatestByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, script)
	assert.Equal(t, models.ContentTypeNarration, script.ContentType)
}

func longPostJSON(bodyLen int) string {
	return fmt.Sprintf(`{"title": "Long Post", "body": %q, "quality_score": 0.5}`,
		strings.Repeat("a", bodyLen))
}

func TestScriptConstrainedPassShortensOverlongPost(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Text posts carry the body as the caption; the first draft blows the
	// TikTok ceiling and the constrained pass brings it back.
	f.generator.responses = []string{validInsightsJSON, longPostJSON(2500), validScriptJSON}

	execution := f.runToScriptStage(t, testConfig(false))
	require.NoError(t, f.engine.RunScript(ctx, execution.ID))

	assert.Equal(t, models.WorkflowStatusAwaitingApproval, f.reload(t, execution.ID).Status)
	assert.Equal(t, 3, f.generator.calls)

	script, err := f.persist.ScriptRepository().LatestByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, script)
	assert.Equal(t, "Generics Finally Clicked", script.Title)
}

func TestScriptFailsWhenStillOverCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.generator.responses = []string{validInsightsJSON, longPostJSON(2500), longPostJSON(2400)}

	execution := f.runToScriptStage(t, testConfig(false))
	require.NoError(t, f.engine.RunScript(ctx, execution.ID))

	reloaded := f.reload(t, execution.ID)
	assert.Equal(t, models.WorkflowStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "ceiling")

	// Content is never truncated to fit; the workflow fails instead.
	script, err := f.persist.ScriptRepository().LatestByExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Nil(t, script)
}
