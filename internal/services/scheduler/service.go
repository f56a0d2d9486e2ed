package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"devtool-desktop/internal/datetime"
	"devtool-desktop/internal/models"
)

// DefaultPruneJobName is the job seeded by EnsurePruneJob
const DefaultPruneJobName = "joblog-prune"

// ErrNoDatabase is returned by job operations on a service built without a database
var ErrNoDatabase = errors.New("scheduled jobs are unavailable without a database")

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service handles scheduled job management and execution
type Service struct {
	db        *gorm.DB
	ctx       context.Context
	cron      *cron.Cron
	jobs      map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu    sync.RWMutex
	pruner    Pruner
	emitter   Emitter
	converter *datetime.Converter
	log       logrus.FieldLogger

	clockEntry cron.EntryID
}

// NewService creates a new scheduler service. With a nil db only the clock runs.
func NewService(db *gorm.DB, ctx context.Context, pruner Pruner, emitter Emitter, converter *datetime.Converter, log logrus.FieldLogger) *Service {
	// Create cron scheduler with seconds support
	c := cron.New(cron.WithSeconds())

	return &Service{
		db:        db,
		ctx:       ctx,
		cron:      c,
		jobs:      make(map[string]cron.EntryID),
		pruner:    pruner,
		emitter:   emitter,
		converter: converter,
		log:       log,
	}
}

// Start initializes the scheduler and loads enabled jobs from database
func (s *Service) Start() error {
	s.log.Info("Starting scheduler...")

	if s.db == nil {
		s.cron.Start()
		s.log.Warn("WARNING: Scheduler started without a database, only the clock runs")
		return nil
	}

	if err := s.db.AutoMigrate(&models.ScheduledJob{}); err != nil {
		return fmt.Errorf("failed to migrate scheduled_jobs table: %w", err)
	}

	s.cron.Start()

	// Load all enabled jobs from database
	var jobs []models.ScheduledJob
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := s.scheduleJob(job); err != nil {
			s.log.Warnf("WARNING: Failed to schedule job %s (%s): %v", job.Name, job.ID, err)
		} else {
			s.log.Infof("Scheduled job: %s (%s) with cron: %s", job.Name, job.ID, job.Cron)
		}
	}

	s.log.Infof("Scheduler started with %d enabled jobs", len(jobs))
	return nil
}

// Stop gracefully stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info("Scheduler stopped")
	}
}

// EnableClock emits ClockTopic on spec, e.g. "@every 1s"
func (s *Service) EnableClock(spec string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if s.clockEntry != 0 {
		s.cron.Remove(s.clockEntry)
	}
	entryID, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("invalid clock spec %q: %w", spec, err)
	}
	s.clockEntry = entryID
	return nil
}

// tick emits the current time
func (s *Service) tick() {
	if s.ctx.Err() != nil {
		return
	}
	s.emitter.Emit(ClockTopic, s.clockTick())
}

func (s *Service) clockTick() ClockTick {
	return ClockTick{
		Text:      s.converter.NowText(s.converter.Format()),
		Unix:      s.converter.NowUnix(),
		UnixMilli: s.converter.NowUnixMilli(),
	}
}

// EnsurePruneJob creates the default prune job unless one already exists
func (s *Service) EnsurePruneJob(cronExpr string, retention time.Duration) (string, error) {
	if s.db == nil {
		return "", ErrNoDatabase
	}
	var existing models.ScheduledJob
	err := s.db.Where("name = ?", DefaultPruneJobName).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to query job: %w", err)
	}

	return s.UpsertJob(UpsertJobRequest{
		Name:    DefaultPruneJobName,
		JobType: JobTypePrune,
		Cron:    cronExpr,
		Enabled: true,
		Payload: PruneJobPayload{Retention: retention.String()},
	})
}

// ListJobs retrieves all scheduled jobs
func (s *Service) ListJobs() ([]JobListResponse, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	var jobs []models.ScheduledJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = s.toJobListResponse(&jobs[i])
	}

	return responses, nil
}

// UpsertJob creates or updates a scheduled job
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if s.db == nil {
		return "", ErrNoDatabase
	}
	// Validate required fields
	if req.Name == "" || req.JobType == "" || req.Cron == "" {
		return "", fmt.Errorf("name, job_type, and cron are required")
	}
	if req.JobType != JobTypePrune {
		return "", fmt.Errorf("unknown job type: %s", req.JobType)
	}

	// Normalize and validate cron expression (convert 5-field to 6-field)
	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}
	req.Cron = normalizedCron

	payloadStr, err := marshalPayload(req.Payload)
	if err != nil {
		return "", err
	}
	if _, err := parsePrunePayload(payloadStr); err != nil {
		return "", err
	}

	// Find or create job
	var job models.ScheduledJob
	result := s.db.Where("name = ?", req.Name).First(&job)
	isNew := false

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			job = models.ScheduledJob{
				ID:   uuid.New().String(),
				Name: req.Name,
			}
			isNew = true
		} else {
			return "", fmt.Errorf("failed to query job: %w", result.Error)
		}
	}

	job.JobType = req.JobType
	job.Cron = req.Cron
	job.Enabled = req.Enabled
	job.Payload = payloadStr

	schedule, err := cronParser.Parse(job.Cron)
	if err != nil {
		return "", fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	nextRun := schedule.Next(time.Now())
	job.NextRunAt = &nextRun

	if isNew {
		if err := s.db.Create(&job).Error; err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}
	} else {
		if err := s.db.Save(&job).Error; err != nil {
			return "", fmt.Errorf("failed to update job: %w", err)
		}
	}

	// Reschedule in cron
	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	return job.ID, nil
}

// DeleteJob removes a scheduled job
func (s *Service) DeleteJob(jobID string) error {
	if s.db == nil {
		return ErrNoDatabase
	}
	s.unscheduleJob(jobID)

	if err := s.db.Delete(&models.ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// RunJobNow executes a job immediately, outside its schedule
func (s *Service) RunJobNow(jobID string) error {
	if s.db == nil {
		return ErrNoDatabase
	}
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("job not found: %w", err)
	}
	s.executeJob(job.ID)
	return nil
}

// scheduleJob adds a job to the cron scheduler
func (s *Service) scheduleJob(job *models.ScheduledJob) error {
	s.unscheduleJob(job.ID)
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(job.Cron, func() {
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[jobID] = entryID
	s.jobsMu.Unlock()

	return nil
}

func (s *Service) unscheduleJob(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

// rescheduleJob reloads a job from database and reschedules it
func (s *Service) rescheduleJob(jobID string) error {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unscheduleJob(jobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	return s.scheduleJob(&job)
}

// executeJob runs a scheduled job
func (s *Service) executeJob(jobID string) {
	s.log.Debugf("Executing scheduled job: %s", jobID)

	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		s.log.Errorf("ERROR: Failed to load job %s: %v", jobID, err)
		return
	}

	// Update run times
	now := time.Now()
	job.LastRunAt = &now
	if schedule, err := cronParser.Parse(job.Cron); err != nil {
		s.log.Warnf("WARNING: Failed to parse cron for next run: %v", err)
	} else {
		nextRun := schedule.Next(now)
		job.NextRunAt = &nextRun
	}
	if err := s.db.Save(&job).Error; err != nil {
		s.log.Warnf("WARNING: Failed to update job run times: %v", err)
	}

	switch job.JobType {
	case JobTypePrune:
		s.runPruneJob(job.Payload)
	default:
		s.log.Warnf("WARNING: Unknown job type: %s", job.JobType)
	}

	s.log.Debugf("Completed scheduled job: %s", jobID)
}

// runPruneJob deletes job-log records older than the payload's retention
func (s *Service) runPruneJob(payload string) {
	retention, err := parsePrunePayload(payload)
	if err != nil {
		s.log.Errorf("ERROR: Failed to parse job payload: %v", err)
		return
	}

	deleted, err := s.pruner.Prune(retention)
	if err != nil {
		s.log.Errorf("ERROR: Job log prune failed: %v", err)
		return
	}
	s.log.Infof("Job log prune removed %d records", deleted)
}

func marshalPayload(payload interface{}) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		return string(data), nil
	}
}

func parsePrunePayload(payload string) (time.Duration, error) {
	var p PruneJobPayload
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return 0, fmt.Errorf("invalid prune payload: %w", err)
		}
	}
	if p.Retention == "" {
		return 0, fmt.Errorf("prune payload requires retention")
	}
	retention, err := time.ParseDuration(p.Retention)
	if err != nil || retention <= 0 {
		return 0, fmt.Errorf("invalid retention %q", p.Retention)
	}
	return retention, nil
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		if _, err := cronParser.Parse(cronExpr); err == nil {
			return cronExpr, nil
		}
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (0 = run at 0 seconds of the minute)
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

func (s *Service) toJobListResponse(job *models.ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		JobType:   job.JobType,
		Cron:      job.Cron,
		Enabled:   job.Enabled,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}

	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}

	return resp
}
