// Package sink implements the external destinations that receive transported
// data: a spreadsheet receiver with append and merge-by-key write modes, and
// a workflow webhook. Both speak HTTP POST with JSON envelopes.
package sink

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for sink deliveries.
var (
	sinkWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepump_sink_writes_total",
		Help: "Total sink write calls by sink kind, mode and outcome",
	}, []string{"sink", "mode", "outcome"})

	sinkRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepump_sink_rows_total",
		Help: "Total rows handed to sinks by sink kind and mode",
	}, []string{"sink", "mode"})
)

// Common errors.
var (
	// ErrDelivery indicates the sink rejected a write. Jobs log delivery
	// errors and keep going.
	ErrDelivery = errors.New("sink delivery failed")

	// ErrUnsupported indicates the sink has no implementation for the
	// requested operation.
	ErrUnsupported = errors.New("operation not supported by sink")
)

// WriteResult summarizes one accepted write.
type WriteResult struct {
	Success  bool
	Result   string
	Matched  int
	NotFound int
}

// KeyPage is one page of identifiers read back from a sink column.
type KeyPage struct {
	IDs       []string
	Total     int
	Returned  int
	NextStart int
	HasMore   bool
}

// Sink is an external destination for transported rows.
type Sink interface {
	// Append writes rows to the named sheet, creating it if absent.
	Append(ctx context.Context, sheet string, rows []map[string]any) (*WriteResult, error)

	// Merge matches rows into existing sheet rows by the value in
	// keyColumn. Rows whose key is not found are skipped, not appended.
	Merge(ctx context.Context, sheet, keyColumn string, rows []map[string]any) (*WriteResult, error)

	// FetchKeys reads a page of identifiers from a sheet column, skipping
	// blank cells.
	FetchKeys(ctx context.Context, sheet, column string, start, limit int) (*KeyPage, error)
}
