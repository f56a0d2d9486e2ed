// Package metrics exposes JSON job counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus metrics for JSON jobs
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsActive    prometheus.Gauge
}

// NewCollector creates a collector on its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devtool_json_jobs_submitted_total",
			Help: "Total number of JSON jobs submitted",
		}, []string{"operation", "class"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devtool_json_jobs_finished_total",
			Help: "Total number of JSON jobs finished, by outcome",
		}, []string{"operation", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devtool_json_job_duration_seconds",
			Help:    "JSON job duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"class"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devtool_json_jobs_active",
			Help: "Current number of running JSON jobs",
		}),
	}

	c.registry.MustRegister(c.jobsSubmitted, c.jobsFinished, c.jobDuration, c.jobsActive)

	return c
}

// Registry returns the registry the collector's metrics live on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveSubmitted counts a submission
func (c *Collector) ObserveSubmitted(operation, class string) {
	c.jobsSubmitted.WithLabelValues(operation, class).Inc()
}

// ObserveFinished counts a finished job and records its duration
func (c *Collector) ObserveFinished(operation, class, outcome string, elapsed time.Duration) {
	c.jobsFinished.WithLabelValues(operation, outcome).Inc()
	c.jobDuration.WithLabelValues(class).Observe(elapsed.Seconds())
}

// SetActive sets the running-job gauge
func (c *Collector) SetActive(n int) {
	c.jobsActive.Set(float64(n))
}

// Handler serves the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
