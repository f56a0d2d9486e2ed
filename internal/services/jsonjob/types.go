package jsonjob

import (
	"time"
)

// Job outcomes recorded in the ledger and metrics
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Emitter delivers a payload to the frontend on a topic
type Emitter interface {
	Emit(topic string, payload any)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(topic string, payload any)

func (f EmitterFunc) Emit(topic string, payload any) { f(topic, payload) }

// Ledger records job metadata. It never sees document content.
type Ledger interface {
	Start(id, operation, class string, size int) error
	Finish(id, status string, progress int, summary string, elapsed time.Duration) error
}

// Metrics observes job lifecycle transitions
type Metrics interface {
	ObserveSubmitted(operation, class string)
	ObserveFinished(operation, class, outcome string, elapsed time.Duration)
	SetActive(n int)
}

// SubmitResponse is returned to the frontend for every submission. Async
// submissions carry the interim text; the result follows on the job topic.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Class  string `json:"class"`
	Async  bool   `json:"async"`
	Output string `json:"output"`
}

// Update is the payload emitted on "json:<jobID>"
type Update struct {
	JobID    string `json:"job_id"`
	Kind     string `json:"kind"` // progress | result
	Progress int    `json:"progress"`
	Status   string `json:"status,omitempty"`
	Text     string `json:"text,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
}

// JobState is the supervisor's view of an in-flight async job
type JobState struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Class     string    `json:"class"`
	Size      int       `json:"size"`
	StartedAt time.Time `json:"started_at"`
	Active    bool      `json:"active"`
	Progress  int       `json:"progress"`

	timer  *time.Timer
	cancel func()
}

// Topic returns the event topic for a job
func Topic(jobID string) string {
	return "json:" + jobID
}
