package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devtool-desktop/internal/api"
	"devtool-desktop/internal/config"
	"devtool-desktop/internal/database"
	"devtool-desktop/internal/datetime"
	"devtool-desktop/internal/jsonpipe"
	"devtool-desktop/internal/keystore"
	"devtool-desktop/internal/logger"
	"devtool-desktop/internal/metrics"
	"devtool-desktop/internal/models"
	"devtool-desktop/internal/services/joblog"
	"devtool-desktop/internal/services/jsonjob"
	"devtool-desktop/internal/services/scheduler"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App struct - main application state
type App struct {
	ctx              context.Context
	cfg              *config.Config
	log              *logrus.Logger
	closeLog         func()
	db               *gorm.DB
	converter        *datetime.Converter
	jobLog           *joblog.Service
	collector        *metrics.Collector
	stopMetrics      context.CancelFunc
	jsonService      *jsonjob.Service
	schedulerService *scheduler.Service
	keys             *keystore.Keystore
	fetchClient      *api.Client
}

// NewApp creates a new App application struct
func NewApp(cfg *config.Config, log *logrus.Logger, closeLog func()) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		closeLog:  closeLog,
		converter: datetime.NewConverter(),
		collector: metrics.NewCollector(),
		keys:      keystore.New(),
	}
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.log.Info("Application starting up...")

	a.db, a.jobLog = openStorage(a.cfg.Database, a.log)

	if a.cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		a.stopMetrics = cancel
		go func() {
			if err := a.collector.Serve(metricsCtx, a.cfg.Metrics.Addr); err != nil {
				a.log.Errorf("ERROR: Metrics endpoint stopped: %v", err)
			}
		}()
		a.log.Infof("Metrics exposed on http://%s/metrics", a.cfg.Metrics.Addr)
	}

	// JSON pipeline and its timeout supervisor
	pipeline := jsonpipe.New(
		jsonpipe.WithLimits(jsonpipe.Limits{
			SyncMaxBytes:  a.cfg.JSON.SyncMaxBytes,
			LargeMinBytes: a.cfg.JSON.LargeMinBytes,
			MaxBytes:      a.cfg.JSON.MaxBytes,
		}),
		jsonpipe.WithMediumPause(a.cfg.JSON.MediumPause),
		jsonpipe.WithStepPause(a.cfg.JSON.StepPause),
		jsonpipe.WithLogger(logger.Component(a.log, "jsonpipe")),
	)

	emitter := jsonjob.NewWailsEmitter(ctx)
	opts := []jsonjob.Option{
		jsonjob.WithTimeout(a.cfg.JSON.Timeout),
		jsonjob.WithMetrics(a.collector),
		jsonjob.WithLogger(logger.Component(a.log, "jsonjob")),
	}
	if a.cfg.JobLog.Enabled && a.jobLog != nil {
		opts = append(opts, jsonjob.WithLedger(a.jobLog))
	}
	a.jsonService = jsonjob.NewService(ctx, pipeline, emitter, opts...)
	a.log.Info("JSON service initialized")

	if err := a.converter.SetFormat(a.cfg.Datetime.DefaultFormat); err != nil {
		a.log.Warnf("WARNING: Ignoring configured time format %q: %v", a.cfg.Datetime.DefaultFormat, err)
	}

	a.fetchClient = api.NewClient(api.Options{
		Timeout:    a.cfg.Fetch.Timeout,
		RetryCount: a.cfg.Fetch.RetryCount,
		MaxBytes:   a.cfg.Fetch.MaxBytes,
		UserAgent:  a.cfg.Fetch.UserAgent,
	}, a.keys, logger.Component(a.log, "fetch"))

	var pruner scheduler.Pruner
	if a.jobLog != nil {
		pruner = a.jobLog
	}
	a.schedulerService = scheduler.NewService(a.db, ctx, pruner, emitter, a.converter, logger.Component(a.log, "scheduler"))
	if a.cfg.Clock.Enabled {
		if err := a.schedulerService.EnableClock(a.cfg.Clock.Spec); err != nil {
			a.log.Warnf("WARNING: Clock disabled: %v", err)
		}
	}
	if a.cfg.JobLog.Enabled && a.db != nil {
		if _, err := a.schedulerService.EnsurePruneJob(a.cfg.JobLog.PruneCron, a.cfg.JobLog.Retention); err != nil {
			a.log.Warnf("WARNING: Failed to seed job log pruning: %v", err)
		}
	}
	if err := a.schedulerService.Start(); err != nil {
		a.log.Warnf("WARNING: Failed to start scheduler: %v", err)
	} else {
		a.log.Info("Scheduler service initialized and started")
	}

	a.log.Info("Startup complete")
}

var errJobLogUnavailable = errors.New("job history is unavailable without a database")

// openStorage opens the job database. On failure the app keeps running
// without job history or scheduled jobs.
func openStorage(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, *joblog.Service) {
	db, err := database.Init(cfg, logger.Component(log, "database"))
	if err != nil {
		log.Warnf("WARNING: Database unavailable, job history and scheduled jobs disabled: %v", err)
		return nil, nil
	}

	jobLog := joblog.NewService(db, logger.Component(log, "joblog"))
	if n, err := jobLog.MarkInterrupted(); err != nil {
		log.Warnf("WARNING: Failed to close interrupted jobs: %v", err)
	} else if n > 0 {
		log.Infof("Marked %d interrupted jobs from the previous session", n)
	}
	return db, jobLog
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	a.log.Info("Application shutting down...")

	// Cancel running JSON jobs; nothing reaches the frontend after this
	if a.jsonService != nil {
		a.jsonService.Shutdown()
	}

	// Stop scheduler
	if a.schedulerService != nil {
		a.schedulerService.Stop()
	}

	if a.stopMetrics != nil {
		a.stopMetrics()
	}

	if a.jsonService != nil {
		a.jsonService.Wait()
	}

	// Close database
	if err := database.Close(a.db); err != nil {
		a.log.Errorf("Error closing database: %v", err)
	}

	a.log.Info("Shutdown complete")
	if a.closeLog != nil {
		a.closeLog()
	}
}

// ====================================================================================
// WAILS-BOUND METHODS - Exposed to Frontend
// ====================================================================================

// JSON Methods

// FormatJSON pretty-prints input. Small inputs are answered directly;
// larger ones report on "json:<job_id>".
func (a *App) FormatJSON(input string) jsonjob.SubmitResponse {
	return a.jsonService.Submit(input, jsonpipe.Pretty)
}

// MinifyJSON minifies input with the same scheduling as FormatJSON
func (a *App) MinifyJSON(input string) jsonjob.SubmitResponse {
	return a.jsonService.Submit(input, jsonpipe.Minify)
}

// GetJSONResult returns the final update of a finished async job, for a
// frontend that subscribed after the job ended
func (a *App) GetJSONResult(jobID string) (*jsonjob.Update, error) {
	return a.jsonService.Result(jobID)
}

// GetJSONJob returns the state of a running JSON job
func (a *App) GetJSONJob(jobID string) (*jsonjob.JobState, error) {
	return a.jsonService.GetJob(jobID)
}

// FetchJSON downloads a document for the editor. The caller submits the
// returned text like typed input.
func (a *App) FetchJSON(url string) (string, error) {
	return a.fetchClient.FetchJSON(a.ctx, url)
}

// ListJobs retrieves recent JSON job history
func (a *App) ListJobs(limit int) ([]JobHistoryResponse, error) {
	if a.jobLog == nil {
		return nil, errJobLogUnavailable
	}
	records, err := a.jobLog.List(limit)
	if err != nil {
		return nil, err
	}

	// Map to response format
	jobs := make([]JobHistoryResponse, 0, len(records))
	for i := range records {
		jobs = append(jobs, toJobHistoryResponse(&records[i]))
	}

	return jobs, nil
}

func toJobHistoryResponse(record *models.JobRecord) JobHistoryResponse {
	job := JobHistoryResponse{
		JobID:      record.ID,
		Operation:  record.Operation,
		SizeClass:  record.SizeClass,
		InputBytes: record.InputBytes,
		Status:     record.Status,
		StartedAt:  record.CreatedAt.Format(time.RFC3339),
		Progress:   record.Progress,
		DurationMs: record.DurationMs,
		Summary:    generateJobSummary(record),
	}

	if record.FinishedAt != nil {
		completedAt := record.FinishedAt.Format(time.RFC3339)
		job.CompletedAt = &completedAt
	}

	return job
}

// generateJobSummary creates a brief summary of the job result
func generateJobSummary(record *models.JobRecord) string {
	switch record.Status {
	case jsonjob.OutcomeCompleted:
		if record.Summary != "" {
			return record.Summary
		}
		return "Completed"
	case jsonjob.OutcomeFailed, jsonjob.OutcomeTimeout:
		if record.Summary != "" {
			return record.Summary
		}
		return "Failed"
	case joblog.StatusRunning:
		return fmt.Sprintf("In progress (%d%%)", record.Progress)
	default:
		return record.Status
	}
}

// Token Methods

// SaveToken stores a bearer token for host in the OS keychain
func (a *App) SaveToken(host, token string) error {
	return a.keys.SaveToken(host, token)
}

// DeleteToken removes the stored token for host
func (a *App) DeleteToken(host string) error {
	return a.keys.DeleteToken(host)
}

// HasToken reports whether a token is stored for host
func (a *App) HasToken(host string) bool {
	return a.keys.HasToken(host)
}

// ====================================================================================
// DATETIME OPERATIONS
// ====================================================================================

// GetFormat returns the active time format
func (a *App) GetFormat() string {
	return a.converter.Format()
}

// SetFormat validates and stores a custom time format
func (a *App) SetFormat(format string) error {
	return a.converter.SetFormat(format)
}

// SelectFormat stores a canned format by picker index and returns it
func (a *App) SelectFormat(index int) string {
	return a.converter.SelectFormat(index)
}

// ValidateFormat checks a custom time format without storing it
func (a *App) ValidateFormat(format string) error {
	return a.converter.ValidateFormat(format)
}

// CannedFormats lists the picker entries in index order
func (a *App) CannedFormats() []string {
	return datetime.CannedFormats()
}

// GetNowText renders the current time in the active format
func (a *App) GetNowText() string {
	return a.converter.NowText(a.converter.Format())
}

// NowUnix returns the current Unix time in seconds
func (a *App) NowUnix() int64 {
	return a.converter.NowUnix()
}

// NowUnixMilli returns the current Unix time in milliseconds
func (a *App) NowUnixMilli() int64 {
	return a.converter.NowUnixMilli()
}

// ConvertTimestamp renders a seconds timestamp typed by the user
func (a *App) ConvertTimestamp(text string) string {
	return a.converter.ConvertTimestamp(text)
}

// ConvertMsTimestamp renders a milliseconds timestamp typed by the user
func (a *App) ConvertMsTimestamp(text string) string {
	return a.converter.ConvertMsTimestamp(text)
}

// ConvertToTimestamp parses datetime text into seconds
func (a *App) ConvertToTimestamp(text string) string {
	return a.converter.ConvertToTimestamp(text)
}

// ConvertToMsTimestamp parses datetime text into milliseconds
func (a *App) ConvertToMsTimestamp(text string) string {
	return a.converter.ConvertToMsTimestamp(text)
}

// ====================================================================================
// SCHEDULER SERVICE OPERATIONS
// ====================================================================================

// ListScheduledJobs retrieves all scheduled jobs
func (a *App) ListScheduledJobs() ([]scheduler.JobListResponse, error) {
	return a.schedulerService.ListJobs()
}

// UpsertScheduledJob creates or updates a scheduled job
func (a *App) UpsertScheduledJob(req scheduler.UpsertJobRequest) (string, error) {
	return a.schedulerService.UpsertJob(req)
}

// DeleteScheduledJob removes a scheduled job
func (a *App) DeleteScheduledJob(jobID string) error {
	return a.schedulerService.DeleteJob(jobID)
}

// RunScheduledJobNow executes a scheduled job immediately
func (a *App) RunScheduledJobNow(jobID string) error {
	return a.schedulerService.RunJobNow(jobID)
}

// ====================================================================================
// REQUEST/RESPONSE TYPES
// ====================================================================================

// JobHistoryResponse represents a JSON job in the history
type JobHistoryResponse struct {
	JobID       string  `json:"job_id"`
	Operation   string  `json:"operation"`  // "pretty", "minify"
	SizeClass   string  `json:"size_class"` // "empty", "small", "medium", "large", "oversized"
	InputBytes  int     `json:"input_bytes"`
	Status      string  `json:"status"`       // "completed", "failed", "timeout", "running"
	StartedAt   string  `json:"started_at"`   // ISO 8601 timestamp
	CompletedAt *string `json:"completed_at"` // ISO 8601 timestamp or null
	Summary     string  `json:"summary"`
	Progress    int     `json:"progress"` // 0-100
	DurationMs  int64   `json:"duration_ms"`
}
