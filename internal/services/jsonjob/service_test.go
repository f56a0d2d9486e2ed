package jsonjob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"devtool-desktop/internal/jsonpipe"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu      sync.Mutex
	updates []Update
	topics  []string
}

func (r *recordingEmitter) Emit(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.updates = append(r.updates, payload.(Update))
}

func (r *recordingEmitter) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recordingEmitter) terminals() []Update {
	var out []Update
	for _, u := range r.snapshot() {
		if u.Kind == "result" {
			out = append(out, u)
		}
	}
	return out
}

type fakeLedger struct {
	mu       sync.Mutex
	started  map[string]string
	finished map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{started: map[string]string{}, finished: map[string]string{}}
}

func (l *fakeLedger) Start(id, operation, class string, size int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started[id] = class
	return nil
}

func (l *fakeLedger) Finish(id, status string, progress int, summary string, elapsed time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished[id] = status
	return nil
}

func (l *fakeLedger) status(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished[id]
}

type fakeMetrics struct {
	mu        sync.Mutex
	submitted int
	outcomes  []string
	active    int
}

func (m *fakeMetrics) ObserveSubmitted(operation, class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
}

func (m *fakeMetrics) ObserveFinished(operation, class, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) SetActive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

var testLimits = jsonpipe.Limits{SyncMaxBytes: 10, LargeMinBytes: 100, MaxBytes: 1 << 20}

const mediumInput = `{"name":"medium","values":[1,2,3]}`

func newTestService(t *testing.T, mediumPause, timeout time.Duration) (*Service, *recordingEmitter, *fakeLedger, *fakeMetrics) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	pipeline := jsonpipe.New(
		jsonpipe.WithLimits(testLimits),
		jsonpipe.WithMediumPause(mediumPause),
		jsonpipe.WithStepPause(0),
		jsonpipe.WithLogger(logger),
	)
	emitter := &recordingEmitter{}
	ledger := newFakeLedger()
	metrics := &fakeMetrics{}
	svc := NewService(context.Background(), pipeline, emitter,
		WithTimeout(timeout),
		WithLedger(ledger),
		WithMetrics(metrics),
		WithLogger(logger),
	)
	return svc, emitter, ledger, metrics
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

func TestSubmitSync(t *testing.T) {
	t.Run("Should answer small input in the response", func(t *testing.T) {
		svc, emitter, ledger, metrics := newTestService(t, 0, time.Minute)

		resp := svc.Submit(`[1, 2]`, jsonpipe.Minify)

		assert.False(t, resp.Async)
		assert.Equal(t, "[1,2]", resp.Output)
		assert.Equal(t, "small", resp.Class)
		assert.Empty(t, emitter.snapshot(), "Sync jobs emit nothing")
		assert.Equal(t, OutcomeCompleted, ledger.status(resp.JobID))
		assert.Equal(t, []string{OutcomeCompleted}, metrics.outcomes)
	})

	t.Run("Should answer empty input in the response", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t, 0, time.Minute)

		resp := svc.Submit("", jsonpipe.Pretty)

		assert.False(t, resp.Async)
		assert.Equal(t, jsonpipe.MsgEmpty, resp.Output)
		assert.Equal(t, OutcomeFailed, ledger.status(resp.JobID))
	})
}

func TestSubmitAsync(t *testing.T) {
	t.Run("Should return the interim text and stream the result", func(t *testing.T) {
		svc, emitter, ledger, metrics := newTestService(t, 0, time.Minute)

		resp := svc.Submit(mediumInput, jsonpipe.Pretty)
		assert.True(t, resp.Async)
		assert.Equal(t, jsonpipe.MsgProcessing, resp.Output)

		waitFor(t, func() bool { return len(emitter.terminals()) == 1 })
		svc.Wait()

		updates := emitter.snapshot()
		last := updates[len(updates)-1]
		assert.Equal(t, "result", last.Kind)
		assert.Contains(t, last.Text, "\"name\": \"medium\"")
		assert.False(t, last.Failed)

		var progress []int
		for _, u := range updates[:len(updates)-1] {
			assert.Equal(t, "progress", u.Kind)
			assert.True(t, strings.HasPrefix(u.Status, "processing... "), u.Status)
			progress = append(progress, u.Progress)
		}
		assert.Equal(t, []int{5, 30, 60, 90, 100}, progress)

		for _, topic := range emitter.topics {
			assert.Equal(t, Topic(resp.JobID), topic)
		}
		assert.Equal(t, 0, svc.ActiveJobs())
		assert.Equal(t, OutcomeCompleted, ledger.status(resp.JobID))
		assert.Equal(t, 0, metrics.active)
	})

	t.Run("Should emit exactly one timeout result", func(t *testing.T) {
		svc, emitter, ledger, metrics := newTestService(t, time.Minute, 50*time.Millisecond)

		resp := svc.Submit(mediumInput, jsonpipe.Minify)
		require.True(t, resp.Async)

		waitFor(t, func() bool { return ledger.status(resp.JobID) == OutcomeTimeout })
		svc.Wait()

		terminals := emitter.terminals()
		require.Len(t, terminals, 1)
		assert.Equal(t, jsonpipe.MsgTimeout, terminals[0].Text)
		assert.True(t, terminals[0].Failed)
		updates := emitter.snapshot()
		assert.Equal(t, "result", updates[len(updates)-1].Kind)

		metrics.mu.Lock()
		assert.Equal(t, []string{OutcomeTimeout}, metrics.outcomes)
		metrics.mu.Unlock()

		_, err := svc.GetJob(resp.JobID)
		assert.Error(t, err)
	})

	t.Run("Should drop events that arrive after the timeout", func(t *testing.T) {
		svc, emitter, _, _ := newTestService(t, time.Minute, time.Hour)

		resp := svc.Submit(mediumInput, jsonpipe.Minify)
		svc.mu.Lock()
		state := svc.jobs[resp.JobID]
		svc.mu.Unlock()
		require.NotNil(t, state)

		svc.expire(resp.JobID)
		svc.expire(resp.JobID)
		delivered := svc.deliver(state, jsonpipe.Event{Kind: jsonpipe.EventResult, Text: "late"})

		assert.False(t, delivered)
		svc.Wait()
		terminals := emitter.terminals()
		require.Len(t, terminals, 1)
		assert.Equal(t, jsonpipe.MsgTimeout, terminals[0].Text)
	})

	t.Run("Should report a snapshot of running jobs", func(t *testing.T) {
		svc, _, _, metrics := newTestService(t, time.Minute, time.Hour)

		resp := svc.Submit(mediumInput, jsonpipe.Pretty)
		job, err := svc.GetJob(resp.JobID)

		require.NoError(t, err)
		assert.True(t, job.Active)
		assert.Equal(t, "medium", job.Class)
		assert.Equal(t, "pretty", job.Operation)
		assert.Equal(t, 1, svc.ActiveJobs())
		metrics.mu.Lock()
		assert.Equal(t, 1, metrics.active)
		metrics.mu.Unlock()

		svc.Shutdown()
		svc.Wait()
	})
}

func TestShutdown(t *testing.T) {
	t.Run("Should stop all jobs without emitting results", func(t *testing.T) {
		svc, emitter, _, _ := newTestService(t, time.Minute, time.Hour)

		svc.Submit(mediumInput, jsonpipe.Pretty)
		svc.Submit(mediumInput, jsonpipe.Minify)
		svc.Shutdown()
		svc.Wait()

		assert.Empty(t, emitter.terminals())
		assert.Equal(t, 0, svc.ActiveJobs())
	})

	t.Run("Should refuse async work after shutdown", func(t *testing.T) {
		svc, emitter, _, _ := newTestService(t, 0, time.Hour)
		svc.Shutdown()

		resp := svc.Submit(mediumInput, jsonpipe.Pretty)

		assert.False(t, resp.Async)
		assert.Equal(t, "shutting down", resp.Output)
		assert.Empty(t, emitter.snapshot())
	})
}

func TestResult(t *testing.T) {
	t.Run("Should keep the result for a subscriber that arrives late", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t, 0, time.Minute)

		resp := svc.Submit(mediumInput, jsonpipe.Pretty)
		require.True(t, resp.Async)
		waitFor(t, func() bool { return ledger.status(resp.JobID) == OutcomeCompleted })
		svc.Wait()
		require.Equal(t, 0, svc.ActiveJobs())

		got, err := svc.Result(resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, resp.JobID, got.JobID)
		assert.Equal(t, "result", got.Kind)
		assert.Equal(t, 100, got.Progress)
		assert.Contains(t, got.Text, "\"name\": \"medium\"")
		assert.False(t, got.Failed)
	})

	t.Run("Should keep a timeout result", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t, time.Minute, 50*time.Millisecond)

		resp := svc.Submit(mediumInput, jsonpipe.Minify)
		waitFor(t, func() bool { return ledger.status(resp.JobID) == OutcomeTimeout })
		svc.Wait()

		got, err := svc.Result(resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, jsonpipe.MsgTimeout, got.Text)
		assert.True(t, got.Failed)
	})

	t.Run("Should report unknown and running jobs as not found", func(t *testing.T) {
		svc, _, _, _ := newTestService(t, time.Minute, time.Hour)

		_, err := svc.Result("missing")
		assert.Error(t, err)

		resp := svc.Submit(mediumInput, jsonpipe.Pretty)
		_, err = svc.Result(resp.JobID)
		assert.Error(t, err)

		svc.Shutdown()
		svc.Wait()
	})

	t.Run("Should drop the oldest results beyond the limit", func(t *testing.T) {
		svc, _, _, _ := newTestService(t, 0, time.Minute)

		svc.mu.Lock()
		for i := 0; i < retainedResults+5; i++ {
			svc.retainLocked(Update{JobID: fmt.Sprintf("job-%d", i), Kind: "result"})
		}
		svc.mu.Unlock()

		_, err := svc.Result("job-0")
		assert.Error(t, err)
		_, err = svc.Result(fmt.Sprintf("job-%d", retainedResults+4))
		assert.NoError(t, err)
		assert.Len(t, svc.results, retainedResults)
	})
}

func TestSummaryOf(t *testing.T) {
	t.Run("Should reduce output to its size", func(t *testing.T) {
		assert.Equal(t, "5 bytes", summaryOf(jsonpipe.Event{Kind: jsonpipe.EventResult, Text: "[1,2]"}))
	})

	t.Run("Should cut long errors on a rune boundary", func(t *testing.T) {
		text := "x" + strings.Repeat("错", 100)
		got := summaryOf(jsonpipe.Event{Kind: jsonpipe.EventResult, Text: text, Failed: true})

		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), 200)
		assert.Equal(t, 199, len(got))
		assert.True(t, strings.HasPrefix(text, got))
	})

	t.Run("Should keep short errors whole", func(t *testing.T) {
		assert.Equal(t, "invalid JSON", summaryOf(jsonpipe.Event{Kind: jsonpipe.EventResult, Text: "invalid JSON", Failed: true}))
	})
}

func TestStatusLine(t *testing.T) {
	assert.Equal(t, "processing... 65%, elapsed 1.5s", statusLine(65, 1500*time.Millisecond))
}
