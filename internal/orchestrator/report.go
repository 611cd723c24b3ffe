package orchestrator

import (
	"time"

	"github.com/JakeFAU/postsync/internal/ingest"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// SourceReport counts one crawler's posts through enrichment.
type SourceReport struct {
	Crawler string        `json:"crawler"`
	Source  ingest.Source `json:"source"`
	Crawled int           `json:"crawled"`
	// KeptWithoutMedia and Dropped count enrichment failures handled by the
	// keep and drop policies.
	KeptWithoutMedia int `json:"kept_without_media"`
	Dropped          int `json:"dropped"`
	// Stale posts were dated before the checkpoint and not enriched.
	Stale int `json:"stale"`
}

// Report describes one run.
type Report struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   time.Duration   `json:"duration_ns"`
	Sources    []SourceReport  `json:"sources"`
	Summary    *ingest.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
	ArchiveURI string          `json:"archive_uri,omitempty"`
	MessageID  string          `json:"message_id,omitempty"`
}

// Notification is the message published after a committed run.
type Notification struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Ingested   int       `json:"ingested"`
	Checkpoint time.Time `json:"checkpoint"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
}
