// Package joblog keeps a metadata-only ledger of JSON jobs.
package joblog

import (
	"errors"
	"fmt"
	"time"

	"devtool-desktop/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultListLimit is used when List is called with a non-positive limit
const DefaultListLimit = 10

// StatusRunning marks a record whose job has not finished
const StatusRunning = "running"

// Service records job metadata in the database
type Service struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewService creates a new job log service
func NewService(db *gorm.DB, log logrus.FieldLogger) *Service {
	return &Service{db: db, log: log}
}

// Start inserts a running record
func (s *Service) Start(id, operation, class string, size int) error {
	rec := &models.JobRecord{
		ID:         id,
		Operation:  operation,
		SizeClass:  class,
		InputBytes: size,
		Status:     StatusRunning,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

// Finish stores the final status of a job
func (s *Service) Finish(id, status string, progress int, summary string, elapsed time.Duration) error {
	now := time.Now()
	result := s.db.Model(&models.JobRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"progress":    progress,
		"summary":     summary,
		"duration_ms": elapsed.Milliseconds(),
		"finished_at": &now,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update job record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job record not found: %s", id)
	}
	return nil
}

// Get returns one record
func (s *Service) Get(id string) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := s.db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job record not found: %s", id)
		}
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}
	return &rec, nil
}

// List returns the newest records first
func (s *Service) List(limit int) ([]models.JobRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var records []models.JobRecord
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list job records: %w", err)
	}
	return records, nil
}

// Prune deletes finished records created more than olderThan ago
func (s *Service) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.Where("created_at < ? AND status <> ?", cutoff, StatusRunning).Delete(&models.JobRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune job records: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.Infof("Pruned %d job records older than %v", result.RowsAffected, olderThan)
	}
	return result.RowsAffected, nil
}

// MarkInterrupted fails records left running by a previous process
func (s *Service) MarkInterrupted() (int64, error) {
	result := s.db.Model(&models.JobRecord{}).Where("status = ?", StatusRunning).Updates(map[string]interface{}{
		"status":  "failed",
		"summary": "interrupted",
	})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.Warnf("WARNING: marked %d interrupted job records as failed", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
