package walker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pagepump/pagepump/pkg/paginate"
	"github.com/pagepump/pagepump/pkg/ratelimit"
	"github.com/pagepump/pagepump/pkg/request"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func testGovernor() *ratelimit.Governor {
	return ratelimit.New(ratelimit.Config{MinDelay: 0, RetryBudget: 1}, testLogger())
}

// pageNumberServer serves total items in pages of size under the "page"
// query parameter.
func pageNumberServer(t *testing.T, total, size int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		start := (page - 1) * size
		var items []map[string]any
		for i := start; i < start+size && i < total; i++ {
			items = append(items, map[string]any{"id": i + 1})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collectPages(t *testing.T, w *Walker) []*Page {
	t.Helper()
	var pages []*Page
	for {
		p, err := w.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if p == nil {
			return pages
		}
		pages = append(pages, p)
		if len(pages) > 100 {
			t.Fatal("walker did not terminate")
		}
	}
}

func TestWalker_PageNumberExhaustive(t *testing.T) {
	srv := pageNumberServer(t, 25, 10)

	d := &request.Descriptor{
		Method: "GET",
		URL:    srv.URL + "/items",
		Query:  map[string]string{"page": "1", "per_page": "10"},
	}
	state := paginate.InferFromRequest(d)
	w := New(d, state, testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	pages := collectPages(t, w)

	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(pages))
	}
	wantSizes := []int{10, 10, 5}
	for i, p := range pages {
		if len(p.Items) != wantSizes[i] {
			t.Errorf("page %d size = %d, want %d", i+1, len(p.Items), wantSizes[i])
		}
	}
}

func TestWalker_PageNumberFullPagesNeverEndEarly(t *testing.T) {
	// Server always returns exactly itemsPerPage items; the walker must not
	// stop on item-count grounds. Pull 5 pages and stop from the outside.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 10)
		for i := range items {
			items[i] = map[string]any{"id": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	}))
	defer srv.Close()

	d := &request.Descriptor{
		Method: "GET",
		URL:    srv.URL,
		Query:  map[string]string{"page": "1", "per_page": "10"},
	}
	state := paginate.InferFromRequest(d)
	w := New(d, state, testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	for i := 0; i < 5; i++ {
		p, err := w.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if p == nil {
			t.Fatalf("walker ended early at page %d", i+1)
		}
		if len(p.Items) != 10 {
			t.Fatalf("page %d items = %d", i+1, len(p.Items))
		}
	}
}

func TestWalker_PageNumberIncrementsParam(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Query().Get("page"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var items []map[string]any
		if page <= 2 {
			for i := 0; i < 5; i++ {
				items = append(items, map[string]any{"id": i})
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	}))
	defer srv.Close()

	d := &request.Descriptor{
		Method: "GET",
		URL:    srv.URL,
		Query:  map[string]string{"page": "1", "per_page": "5"},
	}
	w := New(d, paginate.InferFromRequest(d), testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	pages := collectPages(t, w)
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	want := []string{"1", "2", "3"}
	if len(seen) != len(want) {
		t.Fatalf("requests = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request %d page param = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestWalker_CursorTokenChain(t *testing.T) {
	// Three pages chained by next_cursor tokens.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		switch cursor {
		case "":
			fmt.Fprint(w, `{"data":[{"id":"a1"},{"id":"a2"}],"next_cursor":"c2"}`)
		case "c2":
			fmt.Fprint(w, `{"data":[{"id":"b1"}],"next_cursor":"c3"}`)
		case "c3":
			fmt.Fprint(w, `{"data":[{"id":"c1"}]}`)
		default:
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	d := &request.Descriptor{
		Method: "GET",
		URL:    srv.URL,
		Query:  map[string]string{"cursor": "", "limit": "2"},
	}
	state := paginate.InferFromRequest(d)
	if state.Mode != paginate.ModeCursor {
		t.Fatalf("mode = %q", state.Mode)
	}
	w := New(d, state, testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	pages := collectPages(t, w)
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(pages))
	}
	if got := w.State().PriorCursors; len(got) != 2 {
		t.Errorf("PriorCursors = %+v, want 2 consumed refs", got)
	}
}

func TestWalker_CursorFullURLReplacesRequest(t *testing.T) {
	var mux *httptest.Server
	mux = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items":
			// The stale original param must not leak into followed URLs.
			if r.URL.Query().Get("after") == "stale" && r.URL.Query().Get("fresh") != "" {
				http.Error(w, "query leaked", http.StatusBadRequest)
				return
			}
			fmt.Fprintf(w, `{"data":[{"id":1}],"paging":{"next":"%s/items2?fresh=1"}}`, mux.URL)
		case "/items2":
			if r.URL.Query().Get("after") != "" {
				http.Error(w, "query leaked", http.StatusBadRequest)
				return
			}
			if r.URL.Query().Get("fresh") != "1" {
				http.Error(w, "missing next-url query", http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"data":[{"id":2}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer mux.Close()

	d := &request.Descriptor{
		Method: "GET",
		URL:    mux.URL + "/items",
		Query:  map[string]string{"after": "stale"},
	}
	w := New(d, paginate.InferFromRequest(d), testGovernor(), NewHTTPTransport(mux.Client(), testLogger()), testLogger())

	pages := collectPages(t, w)
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
}

func TestWalker_ModeNoneSingleFetch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":[{"id":1},{"id":2}]}`)
	}))
	defer srv.Close()

	d := &request.Descriptor{Method: "GET", URL: srv.URL}
	state := paginate.InferFromRequest(d)
	if state.Mode != paginate.ModeNone {
		t.Fatalf("mode = %q", state.Mode)
	}
	w := New(d, state, testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	pages := collectPages(t, w)
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1", calls)
	}
}

func TestWalker_SizeOnlyGuessStopsAfterOnePage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":[{"id":1}]}`)
	}))
	defer srv.Close()

	d := &request.Descriptor{
		Method: "GET",
		URL:    srv.URL,
		Query:  map[string]string{"limit": "50"},
	}
	state := paginate.InferFromRequest(d)
	if !state.SizeOnlyGuess {
		t.Fatal("expected tentative cursor guess")
	}
	w := New(d, state, testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	pages := collectPages(t, w)
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1", calls)
	}
}

func TestWalker_SizeOnlyGuessConfirmedByTokenWalksChain(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := r.URL.Query().Get("cursor")
		cursors = append(cursors, c)
		if c == "" {
			fmt.Fprint(w, `{"data":[{"id":1},{"id":2}],"next_cursor":"c2"}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":3}]}`)
	}))
	defer srv.Close()

	d := &request.Descriptor{
		Method: "GET",
		URL:    srv.URL,
		Query:  map[string]string{"limit": "10"},
	}
	state := paginate.InferFromRequest(d)
	if !state.SizeOnlyGuess {
		t.Fatal("expected tentative cursor guess")
	}
	w := New(d, state, testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	pages := collectPages(t, w)
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if len(pages[0].Items)+len(pages[1].Items) != 3 {
		t.Errorf("items = %d+%d, want 3 total", len(pages[0].Items), len(pages[1].Items))
	}
	want := []string{"", "c2"}
	if !reflect.DeepEqual(cursors, want) {
		t.Errorf("cursor params seen = %v, want %v", cursors, want)
	}
	if got := w.State().CursorParam; got != "cursor" {
		t.Errorf("CursorParam = %q, want adopted %q", got, "cursor")
	}
}

func TestWalker_HTTPErrorSurfacesAsPageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := &request.Descriptor{Method: "GET", URL: srv.URL, Query: map[string]string{"page": "1"}}
	w := New(d, paginate.InferFromRequest(d), testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())

	_, err := w.Next(context.Background())
	var pageErr *PageError
	if !errors.As(err, &pageErr) {
		t.Fatalf("error = %v, want *PageError", err)
	}
	if pageErr.StatusCode != 500 || pageErr.Page != 1 {
		t.Errorf("PageError = %+v", pageErr)
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("HTTP error must not be classified as network failure")
	}
}

func TestWalker_NetworkFailureWrapsErrNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	d := &request.Descriptor{Method: "GET", URL: srv.URL, Query: map[string]string{"page": "1"}}
	gov := ratelimit.New(ratelimit.Config{MinDelay: 0, RetryBudget: 1, BaseBackoff: 1}, testLogger())
	w := New(d, paginate.InferFromRequest(d), gov, NewHTTPTransport(nil, testLogger()), testLogger())

	_, err := w.Next(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
}

func TestWalker_PrevRefetchesPriorCursor(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)
		switch cursor {
		case "":
			fmt.Fprint(w, `{"data":[{"id":"a"}],"next_cursor":"c2"}`)
		case "c2":
			fmt.Fprint(w, `{"data":[{"id":"b"}],"next_cursor":"c3"}`)
		default:
			fmt.Fprint(w, `{"data":[{"id":"z"}]}`)
		}
	}))
	defer srv.Close()

	d := &request.Descriptor{
		Method: "GET",
		URL:    srv.URL,
		Query:  map[string]string{"cursor": ""},
	}
	w := New(d, paginate.InferFromRequest(d), testGovernor(), NewHTTPTransport(srv.Client(), testLogger()), testLogger())
	ctx := context.Background()

	if _, err := w.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := w.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	// Prev pops the c2 ref and refetches it.
	p, err := w.Prev(ctx)
	if err != nil {
		t.Fatalf("Prev() error = %v", err)
	}
	if p == nil {
		t.Fatal("Prev() returned end-of-data")
	}
	if last := cursors[len(cursors)-1]; last != "c2" {
		t.Errorf("prev refetched cursor %q, want c2", last)
	}

	// Stack now empty: Prev goes back to the original first-page request.
	if _, err := w.Prev(ctx); err != nil {
		t.Fatalf("Prev() error = %v", err)
	}
	if last := cursors[len(cursors)-1]; last != "" {
		t.Errorf("prev refetched cursor %q, want first page", last)
	}
}

func TestWalker_PrevRejectedOutsideCursorMode(t *testing.T) {
	d := &request.Descriptor{Method: "GET", URL: "https://api.example.com", Query: map[string]string{"page": "1"}}
	w := New(d, paginate.InferFromRequest(d), testGovernor(), NewHTTPTransport(nil, testLogger()), testLogger())

	if _, err := w.Prev(context.Background()); err == nil {
		t.Fatal("Prev() in page-number mode should error")
	}
}
