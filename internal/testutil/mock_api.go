// Package testutil provides mock servers and sinks for pagepump tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockAPI is a configurable paginated API server for testing. It serves a
// fixed item set in page-number or cursor style and can be scripted to
// inject errors or 429s on specific requests.
type MockAPI struct {
	server *httptest.Server

	mu           sync.Mutex
	items        []map[string]any
	wrapperKey   string
	cursorStyle  bool
	cursorField  string
	scripted     map[int]scriptedResponse
	RequestCount int
	LastQuery    map[string]string
}

type scriptedResponse struct {
	status  int
	headers map[string]string
	body    string
}

// NewMockAPI creates a mock server over the given item set. Items are served
// under wrapperKey ("data", "items", ...) with per_page taken from the query.
func NewMockAPI(items []map[string]any, wrapperKey string) *MockAPI {
	m := &MockAPI{
		items:      items,
		wrapperKey: wrapperKey,
		scripted:   make(map[int]scriptedResponse),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// UseCursor switches the server to cursor pagination: each page carries a
// next_cursor token until the items are exhausted.
func (m *MockAPI) UseCursor(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursorStyle = true
	m.cursorField = field
}

// ScriptResponse makes the nth request (1-based) return a canned response
// instead of a data page.
func (m *MockAPI) ScriptResponse(n, status int, headers map[string]string, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[n] = scriptedResponse{status: status, headers: headers, body: body}
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Requests returns how many requests the server has seen.
func (m *MockAPI) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	n := m.RequestCount
	m.LastQuery = make(map[string]string)
	for k := range r.URL.Query() {
		m.LastQuery[k] = r.URL.Query().Get(k)
	}
	script, scripted := m.scripted[n]
	cursorStyle := m.cursorStyle
	m.mu.Unlock()

	if scripted {
		for k, v := range script.headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(script.status)
		fmt.Fprint(w, script.body)
		return
	}

	perPage := queryInt(r, []string{"per_page", "limit", "page_size"}, 10)
	var start int
	if cursorStyle {
		if c := r.URL.Query().Get(m.cursorField); c != "" {
			start, _ = strconv.Atoi(c)
		}
	} else {
		page := queryInt(r, []string{"page", "p", "offset"}, 1)
		start = (page - 1) * perPage
	}

	end := start + perPage
	if start > len(m.items) {
		start = len(m.items)
	}
	if end > len(m.items) {
		end = len(m.items)
	}

	body := map[string]any{m.wrapperKey: m.items[start:end]}
	if cursorStyle && end < len(m.items) {
		body["next_cursor"] = strconv.Itoa(end)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, names []string, def int) int {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return def
}

// Items builds a deterministic item set for fixtures.
func Items(n int) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{
			"id":   fmt.Sprintf("item-%03d", i+1),
			"name": fmt.Sprintf("Item %d", i+1),
		}
	}
	return items
}
