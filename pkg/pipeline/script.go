package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/providers/social"
	"github.com/pipecast/pipecast/pkg/providers/textgen"
)

// ArtifactHash fingerprints the reviewable content of a script. Approval
// resolutions carry the hash the reviewer saw; comparing against the current
// script detects decisions made on superseded content.
func ArtifactHash(script *models.ScriptGeneration) string {
	h := sha256.New()

	h.Write([]byte(script.Title))
	h.Write([]byte{0})
	h.Write([]byte(script.Hook))
	h.Write([]byte{0})
	h.Write([]byte(script.Body))
	h.Write([]byte{0})
	h.Write([]byte(script.CallToAction))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(script.Hashtags, ",")))

	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// scriptDraft is the JSON shape the model returns for a script.
type scriptDraft struct {
	Title        string   `json:"title"`
	Hook         string   `json:"hook"`
	Body         string   `json:"body"`
	CallToAction string   `json:"call_to_action"`
	Hashtags     []string `json:"hashtags"`
	QualityScore float64  `json:"quality_score"`
}

// RunScript executes the script generation stage. The generated script is
// schema-validated with one corrective pass, checked against the strictest
// caption ceiling of the configured platforms (an over-length script gets its
// own constrained pass, never silent truncation), then persisted together
// with the transition: to video_generation when a video was requested,
// otherwise straight to the approval checkpoint.
func (e *Engine) RunScript(ctx context.Context, executionID string) error {
	ctx, span := e.startStageSpan(ctx, events.StageScript, executionID)
	defer span.End()

	execution, claimed, err := e.claimStage(ctx, executionID,
		models.WorkflowStatusScriptGeneration, models.WorkflowStatusScriptGeneration)
	if err != nil || !claimed {
		return err
	}

	logger := e.logger.With("execution_id", executionID, "stage", events.StageScript)

	insights := e.loadInsights(ctx, executionID)

	draft, err := e.generateScript(ctx, execution, insights)
	if err != nil {
		otelhelper.SetError(span, err)

		return e.stageOutcome(ctx, executionID, events.StageScript, err)
	}

	script := scriptFromDraft(execution, draft, e.generator.Model())
	script.ArtifactHash = ArtifactHash(script)

	to := models.WorkflowStatusAwaitingApproval

	var approval *models.WorkflowApproval

	if execution.Config.VideoRequested {
		to = models.WorkflowStatusVideoGeneration
	} else {
		approval = newApproval(execution.ID, script)
	}

	err = e.persistence.ScriptRepository().SaveScriptStage(ctx, execution, script, approval, to)
	if discarded, saveErr := e.discardIfStale(ctx, executionID, err); discarded || saveErr != nil {
		return saveErr
	}

	logger.InfoContext(ctx, "Script generated", "script_id", script.ID, "words", script.WordCount, "next", to)

	if to == models.WorkflowStatusVideoGeneration {
		return e.emitStage(ctx, execution, events.StageVideo)
	}

	return e.requestApproval(ctx, execution, approval)
}

// requestApproval announces the checkpoint and, for auto-approve executions,
// resolves it immediately as the system approver.
func (e *Engine) requestApproval(ctx context.Context, execution *models.WorkflowExecution, approval *models.WorkflowApproval) error {
	event := events.ApprovalRequested{
		BaseEvent:    events.NewBaseEvent(events.ApprovalRequestedEvent, execution.ID),
		ApprovalID:   approval.ID,
		ScriptID:     approval.ScriptID,
		ArtifactHash: approval.ArtifactHash,
	}
	event.WorkerID = e.workerID

	err := e.eventBus.Publish(ctx, execution.ID, event)
	if err != nil {
		return fmt.Errorf("failed to publish approval request: %w", err)
	}

	if !execution.Config.AutoApprove {
		return nil
	}

	e.logger.InfoContext(ctx, "Auto-approving execution", "execution_id", execution.ID, "approval_id", approval.ID)

	return e.ResolveApproval(ctx, ResolveRequest{
		ApprovalID:   approval.ID,
		Decision:     models.ApprovalStatusApproved,
		Approver:     models.AutoApprover,
		ArtifactHash: approval.ArtifactHash,
	})
}

// newApproval builds the pending checkpoint row for a script.
func newApproval(executionID string, script *models.ScriptGeneration) *models.WorkflowApproval {
	return &models.WorkflowApproval{
		ExecutionID:  executionID,
		ScriptID:     script.ID,
		ArtifactHash: script.ArtifactHash,
		Status:       models.ApprovalStatusPending,
		RequestedAt:  time.Now().UTC(),
	}
}

// loadInsights returns the synthesized insights, or nil when none survived.
// A missing aggregate is not fatal: the script prompt falls back to the
// topic alone.
func (e *Engine) loadInsights(ctx context.Context, executionID string) *models.ResearchInsights {
	sessions, err := e.persistence.ResearchRepository().ListByExecution(ctx, executionID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to load sessions for script prompt", "execution_id", executionID, "error", err)

		return nil
	}

	for _, session := range sessions {
		if session.Insights != nil {
			return session.Insights
		}
	}

	return nil
}

func (e *Engine) generateScript(ctx context.Context, execution *models.WorkflowExecution, insights *models.ResearchInsights) (*scriptDraft, error) {
	prompt := scriptPrompt(execution, insights)

	raw, err := e.generateValidated(ctx, prompt, scriptSchema)
	if err != nil {
		return nil, err
	}

	draft, err := decodeDraft(raw)
	if err != nil {
		return nil, err
	}

	video := execution.Config.VideoRequested

	ceiling := captionCeiling(execution.Config.Platforms)
	if captionLength(draft, video) <= ceiling {
		return draft, nil
	}

	// One constrained pass to bring the caption under the strictest platform
	// ceiling. Truncating reviewer-facing content silently is not an option.
	e.logger.WarnContext(ctx, "Script exceeds platform ceiling, running constrained pass",
		"execution_id", execution.ID, "length", captionLength(draft, video), "ceiling", ceiling)

	retry := prompt
	retry.User = fmt.Sprintf("%s\n\nYour previous script was too long for the target platforms: "+
		"the posted content including hashtags must stay under %d characters. "+
		"Return the corrected JSON object only.", prompt.User, ceiling)

	raw, err = e.generator.Complete(ctx, retry)
	if err != nil {
		return nil, err
	}

	err = validateJSONSchema(scriptSchema, raw)
	if err != nil {
		return nil, fmt.Errorf("constrained pass failed validation: %w", err)
	}

	draft, err = decodeDraft(raw)
	if err != nil {
		return nil, err
	}

	if captionLength(draft, video) > ceiling {
		return nil, fmt.Errorf("script still exceeds the %d character platform ceiling after a constrained pass", ceiling)
	}

	return draft, nil
}

func decodeDraft(raw string) (*scriptDraft, error) {
	var draft scriptDraft

	err := json.Unmarshal([]byte(raw), &draft)
	if err != nil {
		return nil, fmt.Errorf("script response unreadable after validation: %w", err)
	}

	return &draft, nil
}

// captionCeiling returns the strictest caption limit across target platforms.
func captionCeiling(platforms []string) int {
	ceiling := models.CaptionLimitYouTube

	for _, platform := range platforms {
		if limit := social.CaptionLimit(platform); limit < ceiling {
			ceiling = limit
		}
	}

	return ceiling
}

// captionLength measures the parts of a draft that end up in platform
// captions: video posts caption with the hook, text posts carry the body
// itself.
func captionLength(draft *scriptDraft, video bool) int {
	caption := draft.Body + draft.CallToAction + strings.Join(draft.Hashtags, " ")
	if video {
		caption = draft.Hook + draft.CallToAction + strings.Join(draft.Hashtags, " ")
	}

	return len([]rune(caption))
}

func scriptFromDraft(execution *models.WorkflowExecution, draft *scriptDraft, model string) *models.ScriptGeneration {
	contentType := execution.Config.ContentType
	if contentType == "" {
		if execution.Config.VideoRequested {
			contentType = models.ContentTypeShortVideo
		} else {
			contentType = models.ContentTypePost
		}
	}

	return &models.ScriptGeneration{
		ExecutionID:           execution.ID,
		Origin:                models.ScriptOriginGenerated,
		ContentType:           contentType,
		Title:                 draft.Title,
		Hook:                  draft.Hook,
		Body:                  draft.Body,
		CallToAction:          draft.CallToAction,
		Hashtags:              draft.Hashtags,
		WordCount:             len(strings.Fields(draft.Body)),
		Model:                 model,
		TargetAudience:        execution.Config.Audience,
		Style:                 execution.Config.Style,
		DurationTargetSeconds: execution.Config.DurationTargetSeconds,
		QualityScore:          draft.QualityScore,
	}
}

func scriptPrompt(execution *models.WorkflowExecution, insights *models.ResearchInsights) textgen.Prompt {
	cfg := execution.Config

	contentKind := "a social media post"
	if cfg.VideoRequested {
		contentKind = "a spoken short-form video script"
	}

	var reqs strings.Builder

	fmt.Fprintf(&reqs, "Topic: %s\n", cfg.Topic)
	fmt.Fprintf(&reqs, "Target platforms: %s\n", strings.Join(cfg.Platforms, ", "))

	if cfg.Tone != "" {
		fmt.Fprintf(&reqs, "Tone: %s\n", cfg.Tone)
	}

	if cfg.Style != "" {
		fmt.Fprintf(&reqs, "Style: %s\n", cfg.Style)
	}

	if cfg.Audience != "" {
		fmt.Fprintf(&reqs, "Audience: %s\n", cfg.Audience)
	}

	if cfg.DurationTargetSeconds > 0 {
		fmt.Fprintf(&reqs, "Spoken duration target: %d seconds\n", cfg.DurationTargetSeconds)
	}

	if insights != nil {
		fmt.Fprintf(&reqs, "\nResearch summary: %s\n", insights.Summary)

		if len(insights.KeyThemes) > 0 {
			fmt.Fprintf(&reqs, "Key themes: %s\n", strings.Join(insights.KeyThemes, "; "))
		}

		if len(insights.Angles) > 0 {
			fmt.Fprintf(&reqs, "Suggested angles: %s\n", strings.Join(insights.Angles, "; "))
		}
	}

	system := fmt.Sprintf("You write %s for a tech content studio. "+
		"Respond with a single JSON object containing: title (string), hook (opening line), "+
		"body (the full script or post text), call_to_action (string), "+
		"hashtags (array of strings), quality_score (your own 0-1 assessment).", contentKind)

	return textgen.Prompt{
		System:     system,
		User:       reqs.String(),
		JSONOutput: true,
	}
}
