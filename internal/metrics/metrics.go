// Package metrics provides Prometheus metrics collection for the control
// plane, trimmed from the teacher's blockchain-era series to the series this
// domain actually produces: HTTP traffic, execution/job throughput, and
// runner fleet capacity.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mergeci/controlplane/internal/config"
)

// Metrics holds every Prometheus collector the control plane registers.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Execution/job metrics
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	JobsTotal          *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobQueueDepth      prometheus.Gauge
	JobQueueWaitSeconds *prometheus.HistogramVec

	// Runner fleet metrics
	RunnersOnline       *prometheus.GaugeVec
	RunnerCapacityTotal prometheus.Gauge
	RunnerCapacityInUse prometheus.Gauge

	// Database metrics
	DatabaseQueriesTotal  *prometheus.CounterVec
	DatabaseQueryDuration *prometheus.HistogramVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// allowing tests to use a throwaway prometheus.NewRegistry() instead of
// polluting the process-wide default one.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "executions_total",
				Help: "Total number of executions planned, by trigger type and terminal status",
			},
			[]string{"trigger_type", "status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "execution_duration_seconds",
				Help:    "Execution wall-clock duration in seconds, queued to terminal",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"trigger_type"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobs_total",
				Help: "Total number of jobs, by terminal status",
			},
			[]string{"status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_duration_seconds",
				Help:    "Job wall-clock duration in seconds, running to terminal",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		JobQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "job_queue_depth",
				Help: "Current number of jobs in the queued state awaiting dispatch",
			},
		),
		JobQueueWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_queue_wait_seconds",
				Help:    "Time a job spent queued before a runner picked it up",
				Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{},
		),

		RunnersOnline: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runners_online",
				Help: "Current number of connected runners, by type",
			},
			[]string{"type"},
		),
		RunnerCapacityTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "runner_capacity_total",
				Help: "Sum of max_concurrent_jobs across online runners",
			},
		),
		RunnerCapacityInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "runner_capacity_in_use",
				Help: "Sum of current_jobs across online runners",
			},
		),

		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.ExecutionsTotal,
			m.ExecutionDuration,
			m.JobsTotal,
			m.JobDuration,
			m.JobQueueDepth,
			m.JobQueueWaitSeconds,
			m.RunnersOnline,
			m.RunnerCapacityTotal,
			m.RunnerCapacityInUse,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)
	return m
}

// RecordHTTPRequest records one finished HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues("controlplane", method, path, status).Inc()
	m.RequestDuration.WithLabelValues("controlplane", method, path).Observe(duration.Seconds())
}

// RecordError records one error by type and the operation it occurred in.
func (m *Metrics) RecordError(errorType, operation string) {
	m.ErrorsTotal.WithLabelValues("controlplane", errorType, operation).Inc()
}

// RecordExecution records an execution reaching a terminal status.
func (m *Metrics) RecordExecution(triggerType string, status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(triggerType, status).Inc()
	m.ExecutionDuration.WithLabelValues(triggerType).Observe(duration.Seconds())
}

// RecordJob records a job reaching a terminal status.
func (m *Metrics) RecordJob(status string, duration time.Duration) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordJobQueueWait records how long a job sat queued before dispatch.
func (m *Metrics) RecordJobQueueWait(wait time.Duration) {
	m.JobQueueWaitSeconds.WithLabelValues().Observe(wait.Seconds())
}

// SetJobQueueDepth sets the current number of queued jobs.
func (m *Metrics) SetJobQueueDepth(n int) {
	m.JobQueueDepth.Set(float64(n))
}

// SetRunnerFleet sets the runner gauges from a snapshot of the registry.
func (m *Metrics) SetRunnerFleet(onlineByType map[string]int, capacityTotal, capacityInUse int) {
	for runnerType, count := range onlineByType {
		m.RunnersOnline.WithLabelValues(runnerType).Set(float64(count))
	}
	m.RunnerCapacityTotal.Set(float64(capacityTotal))
	m.RunnerCapacityInUse.Set(float64(capacityInUse))
}

// RecordDatabaseQuery records one database query.
func (m *Metrics) RecordDatabaseQuery(operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateUptime sets the service_uptime_seconds gauge from a process start time.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight HTTP request gauge.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight HTTP request gauge.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

// Enabled reports whether Prometheus metrics should be exposed, defaulting
// to on (unlike the teacher's production-disabled default: a single-service
// control plane has no per-request cost concern that would justify opting
// out by default).
func Enabled() bool {
	return config.GetEnvBool("METRICS_ENABLED", true)
}

// StatusBucket coarsens an HTTP status code into the low-cardinality label
// value metrics use, avoiding a cardinality explosion from exact codes.
func StatusBucket(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes and returns the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName)
	}
	return global
}

// Global returns the global metrics instance, initializing it if needed.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("controlplane")
	}
	return global
}
