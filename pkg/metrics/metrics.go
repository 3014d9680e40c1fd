// Package metrics provides the centralized Prometheus metrics registry for
// pagepump. All metrics are defined in their respective packages (walker,
// ratelimit, sink, job) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by pagepump.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Governor Metrics (pkg/ratelimit):
//   - pagepump_retries_total{cause} (Counter): Retry attempts by cause (rate_limit, network)
//   - pagepump_retry_backoff_seconds{cause} (Histogram): Backoff duration before retries by cause
//   - pagepump_retry_exhausted_total{cause} (Counter): Requests that exhausted the retry budget
//   - pagepump_delay_waits_total (Counter): Inter-request delay waits applied
//
// Walker Metrics (pkg/walker):
//   - pagepump_pages_fetched_total{mode, status} (Counter): Pages fetched by pagination mode and HTTP status (or network_error)
//
// Sink Metrics (pkg/sink):
//   - pagepump_sink_writes_total{sink, mode, outcome} (Counter): Sink write calls by kind, mode and outcome
//   - pagepump_sink_rows_total{sink, mode} (Counter): Rows handed to sinks by kind and mode
//
// Job Metrics (pkg/job):
//   - pagepump_job_pages_delivered_total{kind} (Counter): Delivered page batches by job kind (bulk, enrich)
//   - pagepump_job_items_delivered_total{kind} (Counter): Delivered items by job kind
//   - pagepump_job_errors_total{kind} (Counter): Logged job errors by kind
//   - pagepump_job_duration_seconds{kind} (Histogram): Job run duration by kind
//
// Example Prometheus Queries:
//
//   # Retry Rate by Cause
//   rate(pagepump_retries_total[5m])
//
//   # Delivery Throughput
//   rate(pagepump_job_items_delivered_total[5m])
//
//   # Sink Failure Rate
//   sum(rate(pagepump_sink_writes_total{outcome="error"}[5m])) /
//   sum(rate(pagepump_sink_writes_total[5m]))
//
//   # P95 Backoff Duration
//   histogram_quantile(0.95, rate(pagepump_retry_backoff_seconds_bucket[5m]))
//
//   # Pages Lost to Network Failures
//   rate(pagepump_pages_fetched_total{status="network_error"}[5m])
