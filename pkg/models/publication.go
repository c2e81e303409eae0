package models

import "time"

// Publishing platform identifiers. Each names one delivery adapter.
const (
	PlatformTikTok    = "tiktok"
	PlatformYouTube   = "youtube"
	PlatformInstagram = "instagram"
)

// PublicationStatus is the per-platform delivery outcome. Platforms fail
// independently; one failed target never blocks the others.
type PublicationStatus string

const (
	PublicationStatusPending   PublicationStatus = "pending"
	PublicationStatusPublished PublicationStatus = "published"
	PublicationStatusFailed    PublicationStatus = "failed"
	PublicationStatusRemoved   PublicationStatus = "removed"
)

// Engagement holds the post-publish counters refreshed periodically from
// each platform. Zero values mean not yet collected.
type Engagement struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// PublicationRecord is the audit row for one execution+platform pair. The
// store enforces uniqueness on that pair; dispatch retries update the row in
// place rather than duplicating it.
type PublicationRecord struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id" validate:"required"`
	Platform    string `json:"platform"     validate:"required,oneof=tiktok youtube instagram"`

	Status       PublicationStatus `json:"status"`
	PlatformRef  string            `json:"platform_ref,omitempty"`
	PostURL      string            `json:"post_url,omitempty"`
	Caption      string            `json:"caption,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`

	Engagement            Engagement `json:"engagement"`
	EngagementRefreshedAt *time.Time `json:"engagement_refreshed_at,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
