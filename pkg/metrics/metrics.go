package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "insightsync"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Jobs       = "jobs"
	API        = "api"
	Checkpoint = "checkpoint"
	Sink       = "sink"
)

// Labels holds constant labels applied to all metrics.
// They distinguish metrics from several streams or instances.
type Labels struct {
	Stream        string // stream name (e.g. "ads_insights")
	Environment   string // deployment environment (e.g. "production", "staging")
	Region        string // cloud region (e.g. "us-east-1")
	CloudProvider string // cloud provider (e.g. "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Stream != "" {
		labels["stream"] = l.Stream
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Window state
	cursor         prometheus.Gauge
	resumePointer  prometheus.Gauge
	trackedWindows prometheus.Gauge

	// Window lifecycle
	windowsPlanned   *prometheus.CounterVec
	windowsCompleted prometheus.Counter
	cursorAdvances   prometheus.Counter
	recordsEmitted   prometheus.Counter
	recordsFiltered  prometheus.Counter
	errors           *prometheus.CounterVec

	// Job execution
	jobs         *prometheus.CounterVec
	jobRetries   prometheus.Counter
	jobDuration  prometheus.Histogram
	jobsInFlight prometheus.Gauge

	// API calls
	apiCalls    *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	// Checkpoints
	checkpointWrites   *prometheus.CounterVec
	checkpointDuration prometheus.Histogram

	// Record sink
	recordsPublished *prometheus.CounterVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// For metrics with constant labels (e.g. stream), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cursor_timestamp_seconds",
			Help:      "Start of the last folded window as a unix timestamp",
		}),
		resumePointer: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "resume_pointer_timestamp_seconds",
			Help:      "Start of the next window the cursor waits for as a unix timestamp",
		}),
		trackedWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tracked_windows",
			Help:      "Number of completed windows not yet folded into the cursor",
		}),
		windowsPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "windows_planned_total",
			Help:      "Windows planned by decision (submit, skip, resubmit)",
		}, []string{"action"}),
		windowsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "windows_completed_total",
			Help:      "Windows whose records were fully consumed",
		}),
		cursorAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cursor_advances_total",
			Help:      "Total number of times the cursor was advanced",
		}),
		recordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_emitted_total",
			Help:      "Records handed to the consumer",
		}),
		recordsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_filtered_total",
			Help:      "Records withheld by the freshness filter",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Jobs,
			Name:      "attempts_total",
			Help:      "Extraction job attempts by status",
		}, []string{"status"}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Jobs,
			Name:      "retries_total",
			Help:      "Extraction job attempts that were retried",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Jobs,
			Name:      "duration_seconds",
			Help:      "Time from job submission to the last result page",
			// Async report jobs take seconds to many minutes.
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Jobs,
			Name:      "in_flight",
			Help:      "Number of extraction jobs currently running",
		}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: API,
			Name:      "calls_total",
			Help:      "Total API calls by method and status",
		}, []string{"method", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: API,
			Name:      "duration_seconds",
			Help:      "API call duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		checkpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Checkpoint,
			Name:      "writes_total",
			Help:      "State checkpoint writes by status",
		}, []string{"status"}),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Checkpoint,
			Name:      "write_duration_seconds",
			Help:      "Time taken to persist a state checkpoint",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		recordsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Sink,
			Name:      "records_published_total",
			Help:      "Records published to the sink by status",
		}, []string{"status"}),
	}

	err := errors.Join(
		reg.Register(m.cursor),
		reg.Register(m.resumePointer),
		reg.Register(m.trackedWindows),
		reg.Register(m.windowsPlanned),
		reg.Register(m.windowsCompleted),
		reg.Register(m.cursorAdvances),
		reg.Register(m.recordsEmitted),
		reg.Register(m.recordsFiltered),
		reg.Register(m.errors),
		reg.Register(m.jobs),
		reg.Register(m.jobRetries),
		reg.Register(m.jobDuration),
		reg.Register(m.jobsInFlight),
		reg.Register(m.apiCalls),
		reg.Register(m.apiDuration),
		reg.Register(m.checkpointWrites),
		reg.Register(m.checkpointDuration),
		reg.Register(m.recordsPublished),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants.
const (
	ErrTypeJobFailed     = "job_failed"
	ErrTypeInvalidRecord = "invalid_record"
	ErrTypeCheckpoint    = "checkpoint"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// UpdateWindowMetrics updates the window state gauges. A zero cursor leaves
// the cursor gauge untouched.
func (m *Metrics) UpdateWindowMetrics(cursor, resumePointer time.Time, tracked int) {
	if m == nil {
		return
	}
	if !cursor.IsZero() {
		m.cursor.Set(float64(cursor.Unix()))
	}
	m.resumePointer.Set(float64(resumePointer.Unix()))
	m.trackedWindows.Set(float64(tracked))
}

// AddWindowsPlanned records planner decisions for an action.
func (m *Metrics) AddWindowsPlanned(action string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.windowsPlanned.WithLabelValues(action).Add(float64(count))
}

// CompleteWindow records a fully consumed window and whether it moved the cursor.
func (m *Metrics) CompleteWindow(advanced bool) {
	if m == nil {
		return
	}
	m.windowsCompleted.Inc()
	if advanced {
		m.cursorAdvances.Inc()
	}
}

// AddRecords records emitted and filtered record counts.
func (m *Metrics) AddRecords(emitted, filtered int) {
	if m == nil {
		return
	}
	if emitted > 0 {
		m.recordsEmitted.Add(float64(emitted))
	}
	if filtered > 0 {
		m.recordsFiltered.Add(float64(filtered))
	}
}

// IncJobsInFlight increments the in-flight jobs gauge.
func (m *Metrics) IncJobsInFlight() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// DecJobsInFlight decrements the in-flight jobs gauge.
func (m *Metrics) DecJobsInFlight() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}

// RecordJob records a job attempt outcome.
func (m *Metrics) RecordJob(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.jobs.WithLabelValues(status).Inc()
	m.jobDuration.Observe(durationSeconds)
}

// IncJobRetries records a retried job attempt.
func (m *Metrics) IncJobRetries() {
	if m == nil {
		return
	}
	m.jobRetries.Inc()
}

// RecordAPICall records an API call outcome.
func (m *Metrics) RecordAPICall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.apiCalls.WithLabelValues(method, status).Inc()
	m.apiDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordCheckpointWrite records a checkpoint write outcome.
func (m *Metrics) RecordCheckpointWrite(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.checkpointWrites.WithLabelValues(status).Inc()
	m.checkpointDuration.Observe(durationSeconds)
}

// RecordPublish records a record publish outcome.
func (m *Metrics) RecordPublish(err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.recordsPublished.WithLabelValues(status).Inc()
}
