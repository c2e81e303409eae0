package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/providers"
	"github.com/pipecast/pipecast/pkg/providers/textgen"
)

// digestItemLimit caps how many collected items reach the synthesis prompt.
const digestItemLimit = 40

// RunAnalysis executes the synthesis stage: it reduces the collected raw
// items into structured insights via the text provider, validates the output
// against the insights schema with one corrective pass, and persists the
// insights together with the transition to script generation.
func (e *Engine) RunAnalysis(ctx context.Context, executionID string) error {
	ctx, span := e.startStageSpan(ctx, events.StageAnalysis, executionID)
	defer span.End()

	execution, claimed, err := e.claimStage(ctx, executionID,
		models.WorkflowStatusAnalyzing, models.WorkflowStatusAnalyzing)
	if err != nil || !claimed {
		return err
	}

	logger := e.logger.With("execution_id", executionID, "stage", events.StageAnalysis)

	sessions, err := e.persistence.ResearchRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load research sessions: %w", err)
	}

	items := collectedItems(sessions)
	if len(items) == 0 {
		cause := fmt.Errorf("no research data available for topic %q", execution.Config.Topic)
		otelhelper.SetError(span, cause)

		return e.failExecution(ctx, executionID, events.StageAnalysis, cause)
	}

	logger.InfoContext(ctx, "Synthesizing insights", "items", len(items))

	raw, err := e.generateValidated(ctx, insightsPrompt(execution, items), insightsSchema)
	if err != nil {
		otelhelper.SetError(span, err)

		return e.stageOutcome(ctx, executionID, events.StageAnalysis, err)
	}

	var insights models.ResearchInsights

	err = json.Unmarshal([]byte(raw), &insights)
	if err != nil {
		return e.failExecution(ctx, executionID, events.StageAnalysis,
			fmt.Errorf("insights response unreadable after validation: %w", err))
	}

	err = e.persistence.ResearchRepository().CompleteAnalysis(ctx, execution, &insights, models.WorkflowStatusScriptGeneration)
	if discarded, saveErr := e.discardIfStale(ctx, executionID, err); discarded || saveErr != nil {
		return saveErr
	}

	return e.emitStage(ctx, execution, events.StageScript)
}

// generateValidated runs one completion and validates it against the schema.
// A violation triggers exactly one corrective pass with the validation error
// embedded in the retry prompt; a second violation is a stage failure.
func (e *Engine) generateValidated(ctx context.Context, prompt textgen.Prompt, schema string) (string, error) {
	raw, err := e.generator.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	validationErr := validateJSONSchema(schema, raw)
	if validationErr == nil {
		return raw, nil
	}

	e.logger.WarnContext(ctx, "Model output failed validation, running corrective pass", "error", validationErr)

	retry := prompt
	retry.User = fmt.Sprintf("%s\n\nYour previous response was rejected: %v\nReturn only the corrected JSON object.",
		prompt.User, validationErr)

	raw, err = e.generator.Complete(ctx, retry)
	if err != nil {
		return "", err
	}

	validationErr = validateJSONSchema(schema, raw)
	if validationErr != nil {
		return "", providers.NewError("textgen", "Complete", 0,
			fmt.Sprintf("output failed validation after corrective pass: %v", validationErr))
	}

	return raw, nil
}

// collectedItems flattens the successful sessions' raw data, newest sessions
// first as stored, capped for prompt size.
func collectedItems(sessions []*models.ResearchSession) []models.RawItem {
	items := make([]models.RawItem, 0)

	for _, session := range sessions {
		if session.Status == models.ResearchSessionStatusFailed {
			continue
		}

		items = append(items, session.RawData...)
	}

	if len(items) > digestItemLimit {
		items = items[:digestItemLimit]
	}

	return items
}

func insightsPrompt(execution *models.WorkflowExecution, items []models.RawItem) textgen.Prompt {
	var digest strings.Builder

	for _, item := range items {
		fmt.Fprintf(&digest, "- %s", item.Title)

		if item.Score > 0 || item.Comments > 0 {
			fmt.Fprintf(&digest, " (score %d, %d comments)", item.Score, item.Comments)
		}

		if item.Summary != "" {
			fmt.Fprintf(&digest, ": %s", truncate(item.Summary, 280))
		}

		digest.WriteString("\n")
	}

	depth := execution.Config.AnalysisDepth
	if depth == "" {
		depth = models.DepthStandard
	}

	system := "You are a research analyst for a short-form tech content studio. " +
		"You reduce raw community signals into publishable insights. " +
		"Respond with a single JSON object containing: summary (string), key_themes (array of strings), " +
		"angles (array of content angle strings), keywords (array of strings), " +
		"sentiment (positive|neutral|negative|mixed), quality_score (number 0-1)."

	user := fmt.Sprintf("Topic: %s\nAnalysis depth: %s\n\nCollected items:\n%s",
		execution.Config.Topic, depth, digest.String())

	return textgen.Prompt{
		System:     system,
		User:       user,
		JSONOutput: true,
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit]) + "…"
}
