package models

import "time"

// VideoTaskStatus tracks one provider render job. pending means the row was
// written but the provider has not acknowledged a submission yet; a pending
// row without a provider task id is therefore safe to resubmit.
type VideoTaskStatus string

const (
	VideoTaskStatusPending    VideoTaskStatus = "pending"
	VideoTaskStatusProcessing VideoTaskStatus = "processing"
	VideoTaskStatusCompleted  VideoTaskStatus = "completed"
	VideoTaskStatusFailed     VideoTaskStatus = "failed"
)

// IsTerminal reports whether the task will never be polled again.
func (s VideoTaskStatus) IsTerminal() bool {
	return s == VideoTaskStatusCompleted || s == VideoTaskStatusFailed
}

// VideoGenerationTask is the durable record of an asynchronous render. At
// most one non-terminal task may exist per execution, enforced by the store.
type VideoGenerationTask struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id" validate:"required"`
	ScriptID    string `json:"script_id"    validate:"required"`

	// ProviderTaskID is empty until the provider accepts the submission.
	ProviderTaskID string `json:"provider_task_id,omitempty"`

	AvatarID    string          `json:"avatar_id,omitempty"`
	VoiceID     string          `json:"voice_id,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`
	Status      VideoTaskStatus `json:"status"`

	// VideoURL is the provider download location. Provider URLs expire, so
	// completed renders are mirrored to object storage and MirroredURL is
	// what publishing consumes.
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	MirroredURL  string `json:"mirrored_url,omitempty"`

	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	LastPolledAt    *time.Time `json:"last_polled_at,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
