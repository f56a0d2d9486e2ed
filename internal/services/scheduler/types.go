package scheduler

import "time"

// Job types
const (
	JobTypePrune = "joblog_prune"
)

// ClockTopic is the event topic for clock ticks
const ClockTopic = "clock:tick"

// Pruner removes old job-log records
type Pruner interface {
	Prune(olderThan time.Duration) (int64, error)
}

// Emitter delivers a payload to the frontend on a topic
type Emitter interface {
	Emit(topic string, payload any)
}

// ClockTick is the payload emitted on ClockTopic
type ClockTick struct {
	Text      string `json:"text"` // current local time in the user's format
	Unix      int64  `json:"unix"`
	UnixMilli int64  `json:"unix_ms"`
}

// JobListResponse represents a scheduled job in list responses
type JobListResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	JobType   string  `json:"job_type"`
	Cron      string  `json:"cron"`
	Enabled   bool    `json:"enabled"`
	LastRunAt *string `json:"last_run_at"` // ISO 8601 format
	NextRun   *string `json:"next_run"`    // ISO 8601 format
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// UpsertJobRequest represents a request to create or update a scheduled job
type UpsertJobRequest struct {
	Name    string      `json:"name"`
	JobType string      `json:"job_type"` // joblog_prune
	Cron    string      `json:"cron"`     // 5- or 6-field
	Enabled bool        `json:"enabled"`
	Payload interface{} `json:"payload"` // Can be map or string
}

// PruneJobPayload represents the payload for a job-log prune job
type PruneJobPayload struct {
	Retention string `json:"retention"` // Go duration, e.g. "168h"
}
