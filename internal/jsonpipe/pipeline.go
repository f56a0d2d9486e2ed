// Package jsonpipe pretty-prints and minifies JSON text.
//
// Inputs are classified by size. Small inputs complete synchronously;
// medium and large inputs run on a worker goroutine that reports progress
// on the job's event channel before delivering exactly one result.
package jsonpipe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Job is a submitted request. Events is closed after the result event,
// or early when the submit context is cancelled.
type Job struct {
	ID     string
	Op     Operation
	Class  SizeClass
	Size   int
	Events <-chan Event
}

// Pipeline classifies and processes JSON requests
type Pipeline struct {
	limits      Limits
	mediumPause time.Duration
	stepPause   time.Duration
	log         logrus.FieldLogger
	decode      func(string) (any, error)
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLimits overrides the size-class thresholds
func WithLimits(l Limits) Option {
	return func(p *Pipeline) { p.limits = l }
}

// WithMediumPause sets the pause between parse and emit on the medium ladder
func WithMediumPause(d time.Duration) Option {
	return func(p *Pipeline) { p.mediumPause = d }
}

// WithStepPause sets the pause after each large-ladder progress step
func WithStepPause(d time.Duration) Option {
	return func(p *Pipeline) { p.stepPause = d }
}

// WithLogger sets the logger used by workers
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a pipeline with default limits and pauses
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		limits:      DefaultLimits(),
		mediumPause: 50 * time.Millisecond,
		stepPause:   10 * time.Millisecond,
		log:         logrus.StandardLogger(),
		decode:      decodeTree,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Limits returns the configured thresholds
func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Submit classifies req and starts it. Empty, oversized and small inputs
// return a job whose channel already holds the result. Cancelling ctx
// stops an async worker at its next step.
func (p *Pipeline) Submit(ctx context.Context, req Request) *Job {
	size := len(req.Input)
	job := &Job{
		ID:    uuid.New().String(),
		Op:    req.Op,
		Class: p.limits.Classify(size),
		Size:  size,
	}

	switch job.Class {
	case ClassEmpty, ClassOversized, ClassSmall:
		job.Events = completed(p.process(req))
	default:
		ch := make(chan Event, 16)
		job.Events = ch
		go p.run(ctx, job.ID, req, job.Class, ch)
	}

	return job
}

// Process runs req to completion on the calling goroutine and returns the result text
func (p *Pipeline) Process(req Request) string {
	return p.process(req).Text
}

func (p *Pipeline) process(req Request) Event {
	switch p.limits.Classify(len(req.Input)) {
	case ClassEmpty:
		return failureEvent(MsgEmpty)
	case ClassOversized:
		return failureEvent(oversizedMessage(len(req.Input)))
	}

	tree, err := p.decode(req.Input)
	if err != nil {
		return failureEvent(invalidMessage(err))
	}
	out, err := encodeTree(tree, req.Op)
	if err != nil {
		return failureEvent(req.Op.failureMessage())
	}
	return resultEvent(out)
}

func completed(ev Event) <-chan Event {
	ch := make(chan Event, 1)
	ch <- ev
	close(ch)
	return ch
}

func (p *Pipeline) run(ctx context.Context, id string, req Request, class SizeClass, ch chan<- Event) {
	log := p.log.WithFields(logrus.Fields{"job": id, "class": class.String(), "op": req.Op.String()})
	e := &emitter{ctx: ctx, ch: ch}

	defer close(ch)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("JSON worker panicked")
			e.fail(req.Op.failureMessage())
		}
	}()

	if class == ClassLarge {
		e.pause = p.stepPause
		p.runLarge(e, req, log)
	} else {
		p.runMedium(e, req)
	}

	if e.cancelled {
		log.Debug("JSON worker stopped, consumer gone")
	}
}

func (p *Pipeline) runMedium(e *emitter, req Request) {
	if !e.progress(5) {
		return
	}
	if !precheck(req.Input) {
		e.fail(MsgInvalid)
		return
	}
	tree, err := p.decode(req.Input)
	if err != nil {
		e.fail(invalidMessage(err))
		return
	}
	if !e.progress(30) || !e.sleep(p.mediumPause) || !e.progress(60) {
		return
	}
	out, err := encodeTree(tree, req.Op)
	if err != nil {
		e.fail(req.Op.failureMessage())
		return
	}
	if !e.progress(90) || !e.progress(100) {
		return
	}
	e.result(out)
}

func (p *Pipeline) runLarge(e *emitter, req Request, log logrus.FieldLogger) {
	if !e.progress(5) {
		return
	}
	if !precheck(req.Input) {
		e.fail(MsgInvalid)
		return
	}
	if !e.progress(10) || !e.progress(15) || !e.progress(20) {
		return
	}
	tree, err := p.decode(req.Input)
	if err != nil {
		e.fail(invalidMessage(err))
		return
	}
	if !e.progress(50) {
		return
	}

	switch v := tree.(type) {
	case []any:
		log.WithField("elements", len(v)).Info("Parsed large JSON array")
		if len(v) > 1000 {
			for pct := 60; pct <= 90; pct += 5 {
				if !e.progress(pct) {
					return
				}
			}
		} else if !e.progress(60) {
			return
		}
	case map[string]any:
		log.WithField("keys", len(v)).Info("Parsed large JSON object")
		if !e.progress(70) {
			return
		}
	default:
		if !e.progress(60) {
			return
		}
	}

	out, err := encodeTree(tree, req.Op)
	if err != nil {
		e.fail(req.Op.failureMessage())
		return
	}
	if e.last < 90 && !e.progress(90) {
		return
	}
	if !e.progress(100) {
		return
	}
	e.result(out)
}

// emitter sends a job's events in order, keeps progress non-decreasing and
// stops once the context is done.
type emitter struct {
	ctx       context.Context
	ch        chan<- Event
	pause     time.Duration
	last      int
	finished  bool
	cancelled bool
}

func (e *emitter) progress(pct int) bool {
	if pct < e.last {
		pct = e.last
	}
	if !e.send(progressEvent(pct)) {
		return false
	}
	e.last = pct
	return e.sleep(e.pause)
}

func (e *emitter) result(text string) {
	e.finish(resultEvent(text))
}

func (e *emitter) fail(text string) {
	e.finish(failureEvent(text))
}

func (e *emitter) finish(ev Event) {
	if e.send(ev) {
		e.finished = true
	}
}

func (e *emitter) send(ev Event) bool {
	if e.finished || e.cancelled {
		return false
	}
	if e.ctx.Err() != nil {
		e.cancelled = true
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		e.cancelled = true
		return false
	}
}

func (e *emitter) sleep(d time.Duration) bool {
	if d <= 0 {
		return !e.cancelled
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.ctx.Done():
		e.cancelled = true
		return false
	}
}
