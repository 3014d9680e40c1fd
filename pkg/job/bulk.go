package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pagepump/pagepump/pkg/ratelimit"
	"github.com/pagepump/pagepump/pkg/sink"
	"github.com/pagepump/pagepump/pkg/walker"
)

// BulkMode selects how a bulk transport run terminates.
type BulkMode string

const (
	// ModeExhaustive walks pages until the API signals end-of-data.
	ModeExhaustive BulkMode = "exhaustive"

	// ModeMaxPages stops after a fixed number of pages.
	ModeMaxPages BulkMode = "maxPages"

	// ModeDateWindow walks exhaustively but keeps only items whose date
	// field falls inside an inclusive window.
	ModeDateWindow BulkMode = "dateWindow"
)

// BulkOptions configures one bulk transport run.
type BulkOptions struct {
	Mode     BulkMode
	MaxPages int

	// Sheet (or label) the sink writes into.
	SheetName string

	// dateWindow settings. Either bound may be nil (open-ended).
	DateField string
	DateFrom  *time.Time
	DateTo    *time.Time

	// NewestFirst enables the early-stop heuristic: once a whole page is
	// filtered away and any of its items predates DateFrom, further pages
	// can only be older. Best-effort, not a correctness requirement.
	NewestFirst bool
}

// BulkProgress is an observer snapshot of a running or finished job.
type BulkProgress struct {
	ID             string
	Status         Status
	Cancelled      bool
	CurrentPage    int
	PagesDelivered int
	ItemsDelivered int
	Errors         []ErrorEntry
	Events         []Event
	StartedAt      time.Time
	FinishedAt     time.Time
}

// BulkJob streams every page of one API to a sink. A job runs once; a fresh
// run means a fresh job instance.
type BulkJob struct {
	id     string
	opts   BulkOptions
	walker *walker.Walker
	sink   sink.Sink
	logger zerolog.Logger

	mu             sync.Mutex
	status         Status
	paused         bool
	cancelled      bool
	cancel         context.CancelFunc
	currentPage    int
	pagesDelivered int
	itemsDelivered int
	errorLog       []ErrorEntry
	eventLog       []Event
	startedAt      time.Time
	finishedAt     time.Time
}

// NewBulkJob creates an idle bulk transport job.
func NewBulkJob(w *walker.Walker, s sink.Sink, opts BulkOptions, logger zerolog.Logger) (*BulkJob, error) {
	if w == nil {
		return nil, fmt.Errorf("walker is required")
	}
	if s == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeExhaustive
	}
	if opts.Mode == ModeMaxPages && opts.MaxPages <= 0 {
		return nil, fmt.Errorf("maxPages mode requires MaxPages > 0")
	}
	if opts.Mode == ModeDateWindow && opts.DateField == "" {
		return nil, fmt.Errorf("dateWindow mode requires DateField")
	}
	id := uuid.NewString()
	return &BulkJob{
		id:     id,
		opts:   opts,
		walker: w,
		sink:   s,
		status: StatusIdle,
		logger: logger.With().Str("job_id", id).Logger(),
	}, nil
}

// ID returns the job identifier.
func (j *BulkJob) ID() string { return j.id }

// Start runs the transport loop to completion. It may only be called once
// per job instance; callers wanting a background run wrap it in a goroutine.
func (j *BulkJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.status != StatusIdle {
		j.mu.Unlock()
		return fmt.Errorf("job already started (status %s)", j.status)
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.status = StatusRunning
	j.startedAt = time.Now()
	j.mu.Unlock()
	defer j.cancel()

	j.logger.Info().Str("mode", string(j.opts.Mode)).Msg("Bulk transport started")
	j.run(ctx)
	j.finish()
	return nil
}

// Pause suspends the loop at the next page boundary.
func (j *BulkJob) Pause() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusRunning {
		j.paused = true
	}
}

// Resume releases a paused loop.
func (j *BulkJob) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.paused = false
}

// Cancel stops the job cooperatively. The cancellation is observed at the
// next loop-top check and inside any in-progress wait.
func (j *BulkJob) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.paused = false
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of the job's progress for observers.
func (j *BulkJob) Snapshot() BulkProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return BulkProgress{
		ID:             j.id,
		Status:         j.status,
		Cancelled:      j.cancelled,
		CurrentPage:    j.currentPage,
		PagesDelivered: j.pagesDelivered,
		ItemsDelivered: j.itemsDelivered,
		Errors:         append([]ErrorEntry(nil), j.errorLog...),
		Events:         append([]Event(nil), j.eventLog...),
		StartedAt:      j.startedAt,
		FinishedAt:     j.finishedAt,
	}
}

func (j *BulkJob) run(ctx context.Context) {
	pagesFetched := 0
	for {
		if j.isCancelled() || ctx.Err() != nil {
			return
		}
		j.waitWhilePaused(ctx)
		if j.isCancelled() || ctx.Err() != nil {
			return
		}
		if j.opts.Mode == ModeMaxPages && pagesFetched >= j.opts.MaxPages {
			j.logEvent(j.currentPageIndex(), 0, fmt.Sprintf("stopped at max pages (%d)", j.opts.MaxPages))
			return
		}

		page, err := j.walker.Next(ctx)
		pagesFetched++

		if err != nil {
			var pageErr *walker.PageError
			switch {
			case errors.Is(err, ratelimit.ErrContextCancelled):
				return
			case errors.As(err, &pageErr):
				// HTTP-level errors on one page must not abort a
				// multi-thousand-item transport.
				j.logError(pageErr.Page, err.Error())
				j.advancePage()
				continue
			default:
				// A severed connection would waste the rest of the run.
				j.logError(j.currentPageIndex()+1, err.Error())
				j.logger.Error().Err(err).Msg("Network failure, stopping transport")
				return
			}
		}

		if page == nil {
			j.logEvent(j.currentPageIndex(), 0, "end of data")
			return
		}

		j.advancePage()
		items := page.Items
		status := "fetched"

		stopAfterDelivery := false
		if j.opts.Mode == ModeDateWindow {
			var kept []any
			kept, stopAfterDelivery = j.filterDateWindow(items)
			if len(kept) < len(items) {
				status = fmt.Sprintf("fetched, %d of %d in window", len(kept), len(items))
			}
			items = kept
		}

		if len(items) > 0 {
			j.deliver(ctx, items)
		}
		j.logEvent(j.currentPageIndex(), len(items), status)

		if stopAfterDelivery {
			j.logEvent(j.currentPageIndex(), 0, "window exhausted (older pages only)")
			return
		}
	}
}

// deliver hands one page's items to the sink. Delivery failures are logged
// and do not stop the job.
func (j *BulkJob) deliver(ctx context.Context, items []any) {
	rows := itemsToRows(items)
	if _, err := j.sink.Append(ctx, j.opts.SheetName, rows); err != nil {
		j.logError(j.currentPageIndex(), fmt.Sprintf("delivery failed: %v", err))
		return
	}

	j.mu.Lock()
	j.pagesDelivered++
	j.itemsDelivered += len(items)
	j.mu.Unlock()

	jobPagesDeliveredTotal.WithLabelValues("bulk").Inc()
	jobItemsDeliveredTotal.WithLabelValues("bulk").Add(float64(len(items)))
}

// filterDateWindow keeps items whose date field falls inside the inclusive
// window. stop reports the early-termination heuristic: a fully-filtered
// page on a newest-first API where some item already predates the lower
// bound means further pages can only be older.
func (j *BulkJob) filterDateWindow(items []any) (kept []any, stop bool) {
	sawOlderThanFrom := false
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ts, ok := parseItemTime(m[j.opts.DateField])
		if !ok {
			continue
		}
		if j.opts.DateFrom != nil && ts.Before(*j.opts.DateFrom) {
			sawOlderThanFrom = true
			continue
		}
		if j.opts.DateTo != nil && ts.After(*j.opts.DateTo) {
			continue
		}
		kept = append(kept, item)
	}

	stop = len(kept) == 0 && len(items) > 0 &&
		j.opts.NewestFirst && j.opts.DateFrom != nil && sawOlderThanFrom
	return kept, stop
}

func (j *BulkJob) waitWhilePaused(ctx context.Context) {
	for {
		j.mu.Lock()
		paused := j.paused && !j.cancelled
		if paused && j.status == StatusRunning {
			j.status = StatusPaused
			j.logger.Info().Msg("Bulk transport paused")
		}
		if !paused && j.status == StatusPaused {
			j.status = StatusRunning
			j.logger.Info().Msg("Bulk transport resumed")
		}
		j.mu.Unlock()

		if !paused {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pausePollInterval):
		}
	}
}

// finish records terminal state. Cancellation is a log entry, not a distinct
// terminal status; FinishedAt is always set.
func (j *BulkJob) finish() {
	j.mu.Lock()
	cancelled := j.cancelled
	j.finishedAt = time.Now()
	j.status = StatusCompleted
	duration := j.finishedAt.Sub(j.startedAt)
	pages, items, errCount := j.pagesDelivered, j.itemsDelivered, len(j.errorLog)
	j.mu.Unlock()

	if cancelled {
		j.logEvent(j.currentPageIndex(), 0, "cancelled")
	}
	jobDurationSeconds.WithLabelValues("bulk").Observe(duration.Seconds())

	j.logger.Info().
		Bool("cancelled", cancelled).
		Int("pages_delivered", pages).
		Int("items_delivered", items).
		Int("errors", errCount).
		Dur("duration", duration).
		Msg("Bulk transport finished")
}

func (j *BulkJob) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *BulkJob) advancePage() {
	j.mu.Lock()
	j.currentPage++
	j.mu.Unlock()
}

func (j *BulkJob) currentPageIndex() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentPage
}

func (j *BulkJob) logError(page int, msg string) {
	j.mu.Lock()
	j.errorLog = append(j.errorLog, ErrorEntry{Page: page, Message: msg, At: time.Now()})
	j.mu.Unlock()
	jobErrorsTotal.WithLabelValues("bulk").Inc()
	j.logger.Warn().Int("page", page).Str("error", msg).Msg("Bulk transport error")
}

func (j *BulkJob) logEvent(page, itemCount int, status string) {
	j.mu.Lock()
	j.eventLog = append(j.eventLog, Event{Page: page, ItemCount: itemCount, Status: status, At: time.Now()})
	j.mu.Unlock()
}

// itemsToRows adapts page items to sink rows. Non-object items are wrapped
// under a value column.
func itemsToRows(items []any) []map[string]any {
	rows := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, m)
			continue
		}
		rows = append(rows, map[string]any{"value": item})
	}
	return rows
}

// parseItemTime interprets an item's date field: RFC3339, date-only, or
// epoch seconds.
func parseItemTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse("2006-01-02", t); err == nil {
			return ts, true
		}
	case float64:
		return time.Unix(int64(t), 0), true
	}
	return time.Time{}, false
}
