package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dutlab",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Jobs that produced a log record.",
		},
		[]string{"path", "test", "outcome"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dutlab",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time of job execution.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"path", "test"},
	)
	jobsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dutlab",
			Subsystem: "jobs",
			Name:      "queued_total",
			Help:      "Jobs appended to a device queue.",
		},
		[]string{"device"},
	)
	logFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dutlab",
			Subsystem: "jobs",
			Name:      "log_persist_failures_total",
			Help:      "Completed jobs whose log record could not be written.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dutlab",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dutlab",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(jobsTotal, jobDuration, jobsQueued, logFailures, httpRequests, httpDuration)
	})
}

// RecordJob counts a finished job; path is "local" or "remote".
func RecordJob(path, test, outcome string, duration time.Duration) {
	RegisterMetrics()
	jobsTotal.WithLabelValues(path, test, outcome).Inc()
	jobDuration.WithLabelValues(path, test).Observe(duration.Seconds())
}

func RecordQueued(deviceID int) {
	RegisterMetrics()
	jobsQueued.WithLabelValues(strconv.Itoa(deviceID)).Inc()
}

func RecordLogFailure() {
	RegisterMetrics()
	logFailures.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
