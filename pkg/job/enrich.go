package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pagepump/pagepump/pkg/checkpoint"
	"github.com/pagepump/pagepump/pkg/ratelimit"
	"github.com/pagepump/pagepump/pkg/request"
	"github.com/pagepump/pagepump/pkg/sink"
	"github.com/pagepump/pagepump/pkg/walker"
)

// KeySource yields pages of identifiers to enrich.
type KeySource interface {
	FetchKeys(ctx context.Context, start, limit int) (*sink.KeyPage, error)
}

// SheetKeySource reads keys out of a sink column.
type SheetKeySource struct {
	Sink   sink.Sink
	Sheet  string
	Column string
}

func (s *SheetKeySource) FetchKeys(ctx context.Context, start, limit int) (*sink.KeyPage, error) {
	return s.Sink.FetchKeys(ctx, s.Sheet, s.Column, start, limit)
}

// EnrichOptions configures one enrichment run.
type EnrichOptions struct {
	// Placeholder token in the request template replaced per key.
	Placeholder string

	// KeyColumn is the sheet column the merged results match against.
	KeyColumn string

	// SheetName receives the merged rows.
	SheetName string

	// MaxKeys caps how many keys phase 1 acquires. Zero means all.
	MaxKeys int

	// BatchSize is how many enriched rows accumulate before a merge
	// delivery. Zero means DefaultBatchSize.
	BatchSize int

	// KeyBatch is the page size for key acquisition. Zero means the
	// source default.
	KeyBatch int
}

// DefaultBatchSize is the delivery batch for enriched rows.
const DefaultBatchSize = 50

// EnrichProgress is an observer snapshot of an enrichment job.
type EnrichProgress struct {
	ID             string
	Status         Status
	Cancelled      bool
	TotalKeys      int
	ProcessedCount int
	SkippedCount   int
	LastIndex      int
	Errors         []ErrorEntry
	StartedAt      time.Time
	FinishedAt     time.Time
}

// EnrichJob fetches one detail record per key, flattens it, and merges the
// rows back into the sheet by key. Progress is checkpointed so an
// interrupted run can resume without re-reading the key column.
type EnrichJob struct {
	id       string
	opts     EnrichOptions
	template *request.Descriptor
	source   KeySource
	sink     sink.Sink
	governor *ratelimit.Governor
	trans    walker.Transport
	store    checkpoint.Store
	logger   zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	status     Status
	paused     bool
	cancelled  bool
	cancel     context.CancelFunc
	keys       []string
	lastIndex  int
	processed  int
	skipped    int
	errorLog   []ErrorEntry
	startedAt  time.Time
	finishedAt time.Time
}

// NewEnrichJob creates an idle enrichment job.
func NewEnrichJob(template *request.Descriptor, source KeySource, s sink.Sink,
	g *ratelimit.Governor, t walker.Transport, store checkpoint.Store,
	opts EnrichOptions, logger zerolog.Logger) (*EnrichJob, error) {

	if template == nil {
		return nil, fmt.Errorf("request template is required")
	}
	if source == nil {
		return nil, fmt.Errorf("key source is required")
	}
	if s == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if g == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Placeholder == "" {
		return nil, fmt.Errorf("placeholder is required")
	}
	if opts.KeyColumn == "" {
		return nil, fmt.Errorf("key column is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	id := uuid.NewString()
	return &EnrichJob{
		id:        id,
		opts:      opts,
		template:  template,
		source:    source,
		sink:      s,
		governor:  g,
		trans:     t,
		store:     store,
		status:    StatusIdle,
		lastIndex: -1,
		logger:    logger.With().Str("job_id", id).Logger(),
	}, nil
}

// ID returns the job identifier.
func (j *EnrichJob) ID() string { return j.id }

// Start acquires the key list, then processes every key. It may only be
// called once per job instance.
func (j *EnrichJob) Start(ctx context.Context) error {
	if err := j.begin(ctx); err != nil {
		return err
	}
	defer j.cancel()

	keys, err := j.acquireKeys(j.runCtx())
	if err != nil {
		j.finish()
		return err
	}
	j.mu.Lock()
	j.keys = keys
	j.mu.Unlock()

	j.logger.Info().Int("keys", len(keys)).Msg("Enrichment started")
	j.processKeys(j.runCtx(), 0)
	j.finish()
	return nil
}

// Resume restarts processing from a saved checkpoint, skipping key
// acquisition entirely.
func (j *EnrichJob) Resume(ctx context.Context, jobID string) error {
	cp, err := j.store.Load(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if err := j.begin(ctx); err != nil {
		return err
	}
	defer j.cancel()

	j.mu.Lock()
	j.id = cp.JobID
	j.keys = cp.Keys
	j.processed = cp.ProcessedCount
	j.lastIndex = cp.LastProcessedIndex
	from := cp.LastProcessedIndex + 1
	j.logger = j.logger.With().Str("resumed_from", jobID).Logger()
	j.mu.Unlock()

	j.logger.Info().Int("from_index", from).Int("keys", len(cp.Keys)).Msg("Enrichment resumed")
	j.processKeys(j.runCtx(), from)
	j.finish()
	return nil
}

// Pause suspends processing at the next key boundary.
func (j *EnrichJob) Pause() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusRunning {
		j.paused = true
	}
}

// ResumePaused releases a paused loop.
func (j *EnrichJob) ResumePaused() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.paused = false
}

// Cancel stops the job cooperatively. A checkpoint is saved so the run can
// be resumed later.
func (j *EnrichJob) Cancel() {
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
func (j *EnrichJob) Snapshot() EnrichProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return EnrichProgress{
		ID:             j.id,
		Status:         j.status,
		Cancelled:      j.cancelled,
		TotalKeys:      len(j.keys),
		ProcessedCount: j.processed,
		SkippedCount:   j.skipped,
		LastIndex:      j.lastIndex,
		Errors:         append([]ErrorEntry(nil), j.errorLog...),
		StartedAt:      j.startedAt,
		FinishedAt:     j.finishedAt,
	}
}

func (j *EnrichJob) begin(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusIdle {
		return fmt.Errorf("job already started (status %s)", j.status)
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.ctx = ctx
	j.status = StatusRunning
	j.startedAt = time.Now()
	return nil
}

func (j *EnrichJob) runCtx() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ctx
}

// acquireKeys pages through the key source until exhausted or MaxKeys.
func (j *EnrichJob) acquireKeys(ctx context.Context) ([]string, error) {
	var keys []string
	start := 0
	limit := j.opts.KeyBatch
	if limit <= 0 {
		limit = sink.DefaultKeyBatch
	}
	for {
		if ctx.Err() != nil {
			return keys, ctx.Err()
		}
		page, err := j.source.FetchKeys(ctx, start, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch keys: %w", err)
		}
		keys = append(keys, page.IDs...)
		if j.opts.MaxKeys > 0 && len(keys) >= j.opts.MaxKeys {
			keys = keys[:j.opts.MaxKeys]
			return keys, nil
		}
		if !page.HasMore {
			return keys, nil
		}
		start = page.NextStart
	}
}

// processKeys runs phase 2 from the given index. The first key of a run or
// resume is fetched immediately; spacing applies between keys.
func (j *EnrichJob) processKeys(ctx context.Context, from int) {
	batch := make([]map[string]any, 0, j.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		j.deliverBatch(ctx, batch)
		batch = batch[:0]
	}

	j.mu.Lock()
	keys := j.keys
	j.mu.Unlock()

	for i := from; i < len(keys); i++ {
		if j.isCancelled() || ctx.Err() != nil {
			break
		}
		j.waitWhilePaused(ctx)
		if j.isCancelled() || ctx.Err() != nil {
			break
		}

		key := keys[i]
		row, skip, err := j.fetchOne(ctx, key)
		switch {
		case err != nil && errors.Is(err, ratelimit.ErrContextCancelled):
			goto done
		case err != nil:
			// One bad key must not sink the whole run.
			j.logError(i, key, err.Error())
		case skip:
			j.mu.Lock()
			j.skipped++
			j.mu.Unlock()
			j.logger.Debug().Str("key", key).Msg("Key not found upstream, skipping")
		default:
			batch = append(batch, row)
		}

		j.mu.Lock()
		j.processed++
		j.lastIndex = i
		j.mu.Unlock()

		if len(batch) >= j.opts.BatchSize {
			flush()
		}
	}

done:
	flush()
}

// fetchOne fetches the detail record for one key. A 404 is a benign skip.
func (j *EnrichJob) fetchOne(ctx context.Context, key string) (map[string]any, bool, error) {
	d := request.SubstituteKey(j.template, j.opts.Placeholder, key)

	res, err := j.governor.Execute(ctx, func(ctx context.Context) (*ratelimit.Result, error) {
		return j.trans.Fetch(ctx, d)
	})
	if err != nil {
		return nil, false, err
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, true, nil
	}
	if res.StatusCode >= 400 {
		return nil, false, fmt.Errorf("status %d for key %s", res.StatusCode, key)
	}

	parsed, err := gabs.ParseJSON(res.Body)
	if err != nil {
		return nil, false, fmt.Errorf("parse response for key %s: %w", key, err)
	}
	return FlattenRow(parsed.Data(), j.opts.KeyColumn, key), false, nil
}

// deliverBatch merges enriched rows back by key. Delivery failures are
// logged; the rows' keys still count as processed.
func (j *EnrichJob) deliverBatch(ctx context.Context, rows []map[string]any) {
	res, err := j.sink.Merge(ctx, j.opts.SheetName, j.opts.KeyColumn, rows)
	if err != nil {
		j.logError(j.snapshotIndex(), "", fmt.Sprintf("merge delivery failed: %v", err))
		return
	}

	jobPagesDeliveredTotal.WithLabelValues("enrich").Inc()
	jobItemsDeliveredTotal.WithLabelValues("enrich").Add(float64(len(rows)))
	j.logger.Info().
		Int("rows", len(rows)).
		Int("matched", res.Matched).
		Int("not_found", res.NotFound).
		Msg("Merged enrichment batch")
}

func (j *EnrichJob) waitWhilePaused(ctx context.Context) {
	for {
		j.mu.Lock()
		paused := j.paused && !j.cancelled
		if paused && j.status == StatusRunning {
			j.status = StatusPaused
			j.logger.Info().Msg("Enrichment paused")
		}
		if !paused && j.status == StatusPaused {
			j.status = StatusRunning
			j.logger.Info().Msg("Enrichment resumed")
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

// finish records terminal state and writes the final checkpoint. The
// checkpoint survives cancellation so the run can be resumed; a fully
// completed run's checkpoint is deleted.
func (j *EnrichJob) finish() {
	j.mu.Lock()
	cancelled := j.cancelled
	j.finishedAt = time.Now()
	j.status = StatusCompleted
	duration := j.finishedAt.Sub(j.startedAt)
	complete := len(j.keys) == 0 || j.lastIndex >= len(j.keys)-1
	cp := &checkpoint.Checkpoint{
		JobID:              j.id,
		Keys:               append([]string(nil), j.keys...),
		LastProcessedIndex: j.lastIndex,
		ProcessedCount:     j.processed,
		SavedAt:            j.finishedAt,
	}
	processed, skipped, errCount := j.processed, j.skipped, len(j.errorLog)
	j.mu.Unlock()

	// Checkpoint IO happens even when the run context is cancelled.
	cpCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if complete {
		if err := j.store.Delete(cpCtx, cp.JobID); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			j.logger.Warn().Err(err).Msg("Failed to delete checkpoint")
		}
	} else {
		if err := j.store.Save(cpCtx, cp); err != nil {
			j.logger.Warn().Err(err).Msg("Failed to save checkpoint")
		}
	}

	jobDurationSeconds.WithLabelValues("enrich").Observe(duration.Seconds())
	j.logger.Info().
		Bool("cancelled", cancelled).
		Int("processed", processed).
		Int("skipped", skipped).
		Int("errors", errCount).
		Dur("duration", duration).
		Msg("Enrichment finished")
}

func (j *EnrichJob) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *EnrichJob) snapshotIndex() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastIndex
}

func (j *EnrichJob) logError(index int, key, msg string) {
	j.mu.Lock()
	j.errorLog = append(j.errorLog, ErrorEntry{Page: index, Key: key, Message: msg, At: time.Now()})
	j.mu.Unlock()
	jobErrorsTotal.WithLabelValues("enrich").Inc()
	j.logger.Warn().Int("index", index).Str("key", key).Str("error", msg).Msg("Enrichment error")
}
