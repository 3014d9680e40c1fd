package walker

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pagepump/pagepump/pkg/paginate"
	"github.com/pagepump/pagepump/pkg/ratelimit"
	"github.com/pagepump/pagepump/pkg/request"
)

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pagepump_pages_fetched_total",
	Help: "Total pages fetched by pagination mode and status",
}, []string{"mode", "status"})

// ErrNetwork marks a transport-level failure after the governor exhausted
// its retries. Jobs abort on it; HTTP-level page errors do not carry it.
var ErrNetwork = errors.New("network failure")

// PageError reports an HTTP error status for a single page. Jobs log these
// and keep walking; a PageError never aborts a multi-page run.
type PageError struct {
	Page       int
	StatusCode int
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d returned HTTP %d", e.Page, e.StatusCode)
}

// Page is one fetched page plus the pagination state that produced it.
type Page struct {
	Items      []any
	State      paginate.State
	StatusCode int
	RawBody    []byte
}

// Walker pulls pages one at a time. Forward-only, with an auxiliary backward
// stack in cursor mode. Not safe for concurrent use: one job drives one
// walker.
type Walker struct {
	first     *request.Descriptor
	state     *paginate.State
	governor  *ratelimit.Governor
	transport Transport
	logger    zerolog.Logger

	page    int
	started bool
	done    bool
}

// New creates a walker over the given first-page descriptor and inferred
// state. The descriptor is captured as the restart point for Prev on an
// empty stack.
func New(d *request.Descriptor, s *paginate.State, gov *ratelimit.Governor, transport Transport, logger zerolog.Logger) *Walker {
	return &Walker{
		first:     d.Clone(),
		state:     s.Clone(),
		governor:  gov,
		transport: transport,
		logger:    logger,
	}
}

// State returns a copy of the current pagination state.
func (w *Walker) State() paginate.State {
	return *w.state.Clone()
}

// Next fetches the next page. Returns (nil, nil) at end-of-data. HTTP error
// statuses surface as *PageError; transport failures wrap ErrNetwork.
func (w *Walker) Next(ctx context.Context) (*Page, error) {
	if w.done {
		return nil, nil
	}

	d, err := w.nextDescriptor()
	if err != nil {
		return nil, err
	}
	if d == nil {
		w.done = true
		return nil, nil
	}

	return w.fetch(ctx, d)
}

// Prev refetches the most recent prior cursor position (cursor mode only).
// With an empty stack it refetches the original first-page request.
func (w *Walker) Prev(ctx context.Context) (*Page, error) {
	if w.state.Mode != paginate.ModeCursor {
		return nil, fmt.Errorf("prev is only available in cursor mode (mode=%s)", w.state.Mode)
	}

	d := w.first.Clone()
	if ref, ok := w.state.PopCursor(); ok {
		d = w.descriptorForCursor(ref)
	}
	w.done = false
	return w.fetch(ctx, d)
}

// nextDescriptor derives a fresh page-specific descriptor from the current
// state, or nil when there is no next page to ask for.
func (w *Walker) nextDescriptor() (*request.Descriptor, error) {
	if !w.started {
		return w.first.Clone(), nil
	}

	switch w.state.Mode {
	case paginate.ModeNone:
		return nil, nil
	case paginate.ModePageNumber:
		d := w.first.WithQuery(w.state.PageParam, strconv.Itoa(w.state.CurrentPage))
		if w.state.SizeParam != "" && w.state.ItemsPerPage > 0 {
			d = d.WithQuery(w.state.SizeParam, strconv.Itoa(w.state.ItemsPerPage))
		}
		return d, nil
	case paginate.ModeCursor:
		switch {
		case w.state.NextFullURL != "":
			ref := paginate.CursorRef{FullURL: w.state.NextFullURL}
			w.state.NextFullURL = ""
			w.state.PushCursor(ref)
			return w.descriptorForCursor(ref), nil
		case w.state.NextCursorToken != "":
			if w.state.CursorParam == "" {
				return nil, fmt.Errorf("cursor token %q with no cursor parameter name", w.state.NextCursorToken)
			}
			ref := paginate.CursorRef{Token: w.state.NextCursorToken}
			w.state.NextCursorToken = ""
			w.state.PushCursor(ref)
			return w.descriptorForCursor(ref), nil
		default:
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unknown pagination mode %q", w.state.Mode)
	}
}

// descriptorForCursor builds the request for one cursor position. A full
// next-page URL replaces the entire URL and clears query params; a token
// sets the cursor query param on the original request.
func (w *Walker) descriptorForCursor(ref paginate.CursorRef) *request.Descriptor {
	if ref.FullURL != "" {
		return w.first.WithURL(ref.FullURL)
	}
	return w.first.WithQuery(w.state.CursorParam, ref.Token)
}

func (w *Walker) fetch(ctx context.Context, d *request.Descriptor) (*Page, error) {
	w.page++
	w.started = true

	res, err := w.governor.Execute(ctx, func(ctx context.Context) (*ratelimit.Result, error) {
		return w.transport.Fetch(ctx, d)
	})
	if err != nil {
		pagesFetchedTotal.WithLabelValues(string(w.state.Mode), "network_error").Inc()
		if errors.Is(err, ratelimit.ErrContextCancelled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	pagesFetchedTotal.WithLabelValues(string(w.state.Mode), strconv.Itoa(res.StatusCode)).Inc()

	if res.StatusCode >= 400 {
		w.logger.Warn().
			Int("page", w.page).
			Int("status", res.StatusCode).
			Msg("Page fetch returned error status")
		// Advance past the failed page so the caller's "log and continue"
		// policy does not refetch it forever.
		if w.state.Mode == paginate.ModePageNumber {
			w.state.CurrentPage++
		}
		return nil, &PageError{Page: w.page, StatusCode: res.StatusCode}
	}

	w.state = paginate.RefineFromResponse(w.state, res.Body)
	items := paginate.ExtractItems(res.Body)

	w.logger.Debug().
		Int("page", w.page).
		Int("items", len(items)).
		Str("mode", string(w.state.Mode)).
		Msg("Page fetched")

	w.applyEndOfData(len(items))

	if len(items) == 0 {
		// An empty page is the end-of-data signal itself; nothing to deliver.
		return nil, nil
	}

	return &Page{
		Items:      items,
		State:      *w.state.Clone(),
		StatusCode: res.StatusCode,
		RawBody:    res.Body,
	}, nil
}

// applyEndOfData updates walker/state bookkeeping after a fetched page.
func (w *Walker) applyEndOfData(itemCount int) {
	switch w.state.Mode {
	case paginate.ModeNone:
		w.done = true
	case paginate.ModePageNumber:
		if itemCount == 0 || (w.state.ItemsPerPage > 0 && itemCount < w.state.ItemsPerPage) {
			w.done = true
			return
		}
		w.state.CurrentPage++
	case paginate.ModeCursor:
		if itemCount == 0 || !w.state.HasNext() {
			w.done = true
		}
	}
}
