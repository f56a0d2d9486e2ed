package models

import (
	"time"
)

// JobRecord is the ledger entry for one JSON job. Document content is never stored.
type JobRecord struct {
	ID         string     `gorm:"primaryKey" json:"id"`                           // UUID job ID
	Operation  string     `gorm:"not null" json:"operation"`                      // pretty, minify
	SizeClass  string     `gorm:"not null;column:size_class" json:"size_class"`   // empty, small, medium, large, oversized
	InputBytes int        `gorm:"not null;default:0;column:input_bytes" json:"input_bytes"`
	Status     string     `gorm:"not null;default:running;index" json:"status"`   // running, completed, failed, timeout
	Progress   int        `gorm:"not null;default:0" json:"progress"`             // 0-100
	Summary    string     `gorm:"type:text" json:"summary"`
	DurationMs int64      `gorm:"column:duration_ms" json:"duration_ms"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (JobRecord) TableName() string {
	return "job_records"
}
