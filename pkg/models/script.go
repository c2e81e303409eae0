package models

import "time"

// ScriptOrigin distinguishes machine-generated scripts from versions saved
// during approval with reviewer edits.
type ScriptOrigin string

const (
	ScriptOriginGenerated  ScriptOrigin = "generated"
	ScriptOriginManualEdit ScriptOrigin = "manual_edit"
)

// Content types a script can be written as.
const (
	ContentTypeShortVideo = "short_video"
	ContentTypeNarration  = "narration"
	ContentTypePost       = "post"
)

// ScriptGeneration is one immutable script artifact. Edits during review
// never mutate a row; they insert a new one with origin manual_edit, keeping
// the audit trail append-only.
type ScriptGeneration struct {
	ID           string       `json:"id"`
	ExecutionID  string       `json:"execution_id" validate:"required"`
	Origin       ScriptOrigin `json:"origin"`
	ContentType  string       `json:"content_type,omitempty"`
	Title        string       `json:"title"        validate:"required"`
	Hook         string       `json:"hook,omitempty"`
	Body         string       `json:"body"         validate:"required"`
	CallToAction string       `json:"call_to_action,omitempty"`
	Hashtags     []string     `json:"hashtags,omitempty"`
	WordCount    int          `json:"word_count"`

	// ArtifactHash fingerprints the reviewable content. Approval resolutions
	// carry the hash they reviewed so a decision against a superseded script
	// is rejected as stale.
	ArtifactHash string `json:"artifact_hash"`

	// Generation parameters, recorded for the audit trail. QualityScore is
	// the model's own [0,1] self-assessment; advisory only, never consulted
	// for control flow.
	Model                 string  `json:"model,omitempty"`
	TargetAudience        string  `json:"target_audience,omitempty"`
	Style                 string  `json:"style,omitempty"`
	DurationTargetSeconds int     `json:"duration_target_seconds,omitempty"`
	QualityScore          float64 `json:"quality_score"`

	PromptNotes string    `json:"prompt_notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Platform content length ceilings applied when captions are rendered per
// publishing target.
const (
	CaptionLimitTikTok    = 2200
	CaptionLimitInstagram = 2200
	CaptionLimitYouTube   = 5000
)
