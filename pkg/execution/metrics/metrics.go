// Package metrics implements CXE's Prometheus surface: submissions-by-status
// counters and an execution-duration histogram, exposed at /metrics
// alongside the JSON health endpoint the submission API already serves.
package metrics

import (
	"net/http"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements worker.Metrics, translating a completed submission
// into Prometheus observations.
type Recorder struct {
	registry            *prometheus.Registry
	submissionsByStatus *prometheus.CounterVec
	executionDuration   prometheus.Histogram
}

// NewRecorder builds a Recorder with its own registry, so CXE's metrics
// never collide with whatever else shares the process.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	submissionsByStatus := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cxe_submissions_total",
		Help: "Total submissions processed, labeled by terminal status.",
	}, []string{"status"})

	executionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cxe_execution_duration_seconds",
		Help:    "End-to-end submission execution duration, from dequeue to terminal status.",
		Buckets: prometheus.DefBuckets,
	})

	reg.MustRegister(submissionsByStatus, executionDuration)

	return &Recorder{
		registry:            reg,
		submissionsByStatus: submissionsByStatus,
		executionDuration:   executionDuration,
	}
}

// ObserveSubmission implements worker.Metrics.
func (r *Recorder) ObserveSubmission(status types.Status, duration time.Duration) {
	r.submissionsByStatus.WithLabelValues(string(status)).Inc()
	r.executionDuration.Observe(duration.Seconds())
}

// Handler returns the /metrics HTTP handler for this Recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
