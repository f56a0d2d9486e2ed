// Package jsonjob supervises JSON pipeline jobs for the desktop frontend.
package jsonjob

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"devtool-desktop/internal/jsonpipe"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds how long an async job may run
const DefaultTimeout = 120 * time.Second

// retainedResults is how many finished async results Result can still return
const retainedResults = 64

// Service submits requests to the pipeline, forwards their events to the
// frontend and enforces the per-job timeout
type Service struct {
	ctx      context.Context
	pipeline *jsonpipe.Pipeline
	emitter  Emitter
	ledger   Ledger
	metrics  Metrics
	timeout  time.Duration
	log      logrus.FieldLogger

	mu      sync.Mutex
	jobs    map[string]*JobState
	results map[string]Update
	order   []string
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Service
type Option func(*Service)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLedger records job metadata
func WithLedger(l Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithMetrics reports job counters
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a new JSON job service. Jobs are cancelled when ctx is.
func NewService(ctx context.Context, pipeline *jsonpipe.Pipeline, emitter Emitter, opts ...Option) *Service {
	s := &Service{
		ctx:      ctx,
		pipeline: pipeline,
		emitter:  emitter,
		timeout:  DefaultTimeout,
		log:      logrus.StandardLogger(),
		jobs:     make(map[string]*JobState),
		results:  make(map[string]Update),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs input through the pipeline. Small, empty and oversized inputs
// are answered in the response; medium and large inputs return the interim
// text and report on Topic(JobID).
func (s *Service) Submit(input string, op jsonpipe.Operation) SubmitResponse {
	startedAt := time.Now()
	jobCtx, cancel := context.WithCancel(s.ctx)
	job := s.pipeline.Submit(jobCtx, jsonpipe.Request{Input: input, Op: op})

	resp := SubmitResponse{
		JobID: job.ID,
		Class: job.Class.String(),
		Async: job.Class.Async(),
	}

	s.recordStart(job)

	if !job.Class.Async() {
		defer cancel()
		ev := <-job.Events
		resp.Output = ev.Text
		s.recordFinish(job.ID, op.String(), job.Class.String(), outcomeOf(ev), 100, summaryOf(ev), time.Since(startedAt))
		return resp
	}

	state := &JobState{
		ID:        job.ID,
		Operation: op.String(),
		Class:     job.Class.String(),
		Size:      job.Size,
		StartedAt: startedAt,
		Active:    true,
		cancel:    cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		resp.Async = false
		resp.Output = "shutting down"
		s.recordFinish(job.ID, state.Operation, state.Class, OutcomeFailed, 0, resp.Output, time.Since(startedAt))
		return resp
	}
	s.jobs[job.ID] = state
	state.timer = time.AfterFunc(s.timeout, func() { s.expire(job.ID) })
	s.setActiveLocked()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"job":   job.ID,
		"class": state.Class,
		"bytes": job.Size,
	}).Infof("Started %s job", state.Operation)

	s.wg.Add(1)
	go s.consume(state, job.Events)

	resp.Output = jsonpipe.MsgProcessing
	return resp
}

// consume forwards one job's events in order until the stream closes
func (s *Service) consume(state *JobState, events <-chan jsonpipe.Event) {
	defer s.wg.Done()

	for ev := range events {
		if !s.deliver(state, ev) || !ev.IsTerminal() {
			continue
		}

		elapsed := time.Since(state.StartedAt)
		outcome := outcomeOf(ev)
		s.log.WithFields(logrus.Fields{
			"job":     state.ID,
			"outcome": outcome,
		}).Infof("Finished %s job in %.3fs", state.Operation, elapsed.Seconds())
		s.recordFinish(state.ID, state.Operation, state.Class, outcome, 100, summaryOf(ev), elapsed)
	}
}

// deliver emits ev if the job is still active. A terminal event clears the job.
func (s *Service) deliver(state *JobState, ev jsonpipe.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !state.Active || s.closed {
		return false
	}

	update := Update{JobID: state.ID, Kind: ev.Kind.String()}
	if ev.IsTerminal() {
		s.clearLocked(state)
		update.Progress = 100
		update.Text = ev.Text
		update.Failed = ev.Failed
		s.retainLocked(update)
	} else {
		state.Progress = ev.Progress
		update.Progress = ev.Progress
		update.Status = statusLine(ev.Progress, time.Since(state.StartedAt))
	}

	s.emitter.Emit(Topic(state.ID), update)
	return true
}

// expire is the timer callback. It is a no-op once the job has finished.
func (s *Service) expire(id string) {
	s.mu.Lock()
	state, ok := s.jobs[id]
	if !ok || !state.Active || s.closed {
		s.mu.Unlock()
		return
	}
	progress := state.Progress
	s.clearLocked(state)
	update := Update{
		JobID:    id,
		Kind:     jsonpipe.EventResult.String(),
		Progress: progress,
		Text:     jsonpipe.MsgTimeout,
		Failed:   true,
	}
	s.retainLocked(update)
	s.emitter.Emit(Topic(id), update)
	s.mu.Unlock()

	elapsed := time.Since(state.StartedAt)
	s.log.WithFields(logrus.Fields{"job": id, "progress": progress}).
		Warnf("WARNING: %s job timed out after %.1fs", state.Operation, elapsed.Seconds())
	s.recordFinish(id, state.Operation, state.Class, OutcomeTimeout, progress, jsonpipe.MsgTimeout, elapsed)
}

// clearLocked marks state inactive, stops its timer and cancels its worker.
// Callers hold s.mu.
func (s *Service) clearLocked(state *JobState) {
	if !state.Active {
		return
	}
	state.Active = false
	if state.timer != nil {
		state.timer.Stop()
	}
	state.cancel()
	delete(s.jobs, state.ID)
	s.setActiveLocked()
}

// retainLocked keeps a terminal update for subscribers that arrive after it was
// emitted, dropping the oldest beyond retainedResults. Callers hold s.mu.
func (s *Service) retainLocked(update Update) {
	if _, ok := s.results[update.JobID]; !ok {
		s.order = append(s.order, update.JobID)
	}
	s.results[update.JobID] = update
	for len(s.order) > retainedResults {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Service) setActiveLocked() {
	if s.metrics != nil {
		s.metrics.SetActive(len(s.jobs))
	}
}

// GetJob returns a snapshot of an active job
func (s *Service) GetJob(id string) (*JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	snapshot := *state
	snapshot.timer = nil
	snapshot.cancel = nil
	return &snapshot, nil
}

// Result returns the terminal update of a finished async job
func (s *Service) Result(id string) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("result not found: %s", id)
	}
	return &update, nil
}

// ActiveJobs returns the number of jobs still running
func (s *Service) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Shutdown cancels every job. No event is emitted afterwards.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, state := range s.jobs {
		s.clearLocked(state)
	}
	s.mu.Unlock()

	s.log.Info("JSON job service stopped")
}

// Wait blocks until every consumer goroutine has returned
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) recordStart(job *jsonpipe.Job) {
	if s.metrics != nil {
		s.metrics.ObserveSubmitted(job.Op.String(), job.Class.String())
	}
	if s.ledger != nil {
		if err := s.ledger.Start(job.ID, job.Op.String(), job.Class.String(), job.Size); err != nil {
			s.log.WithError(err).Warn("WARNING: failed to record job start")
		}
	}
}

func (s *Service) recordFinish(id, operation, class, outcome string, progress int, summary string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveFinished(operation, class, outcome, elapsed)
	}
	if s.ledger != nil {
		if err := s.ledger.Finish(id, outcome, progress, summary, elapsed); err != nil {
			s.log.WithError(err).Warn("WARNING: failed to record job result")
		}
	}
}

func statusLine(progress int, elapsed time.Duration) string {
	return fmt.Sprintf("processing... %d%%, elapsed %.1fs", progress, elapsed.Seconds())
}

func outcomeOf(ev jsonpipe.Event) string {
	if ev.Failed {
		return OutcomeFailed
	}
	return OutcomeCompleted
}

// summaryOf keeps error text and reduces output to its size
func summaryOf(ev jsonpipe.Event) string {
	if ev.Failed {
		return truncate(ev.Text, 200)
	}
	return fmt.Sprintf("%d bytes", len(ev.Text))
}

// truncate cuts s to at most max bytes without splitting a rune
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
