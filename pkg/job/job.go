// Package job contains the two orchestrators: BulkJob streams every page of
// an API into a sink, EnrichJob fetches one API result per key and merges
// rows back by key. One job runs at a time; job state is owned by the
// running loop and exposed to observers only as snapshot copies.
package job

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for job progress.
var (
	jobPagesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepump_job_pages_delivered_total",
		Help: "Total pages delivered to sinks by job kind",
	}, []string{"kind"})

	jobItemsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepump_job_items_delivered_total",
		Help: "Total items delivered to sinks by job kind",
	}, []string{"kind"})

	jobErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepump_job_errors_total",
		Help: "Total errors logged by jobs by job kind",
	}, []string{"kind"})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagepump_job_duration_seconds",
		Help:    "Job run duration in seconds by job kind",
		Buckets: []float64{1, 5, 15, 60, 300, 1800, 7200},
	}, []string{"kind"})
)

// pausePollInterval is how often a paused job re-checks its flags.
const pausePollInterval = 500 * time.Millisecond

// Status is a job lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ErrorEntry is one logged failure, identified by the page or key it
// belongs to.
type ErrorEntry struct {
	Page    int       `json:"page,omitempty"`
	Key     string    `json:"key,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Event is one progress log entry.
type Event struct {
	Page      int       `json:"page"`
	ItemCount int       `json:"item_count"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}
