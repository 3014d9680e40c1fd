package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestSheetSink_AppendEnvelope(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		fmt.Fprint(w, `{"success":true,"result":"2 rows appended"}`)
	}))
	defer srv.Close()

	s, err := NewSheetSink(srv.URL, srv.Client(), testLogger())
	if err != nil {
		t.Fatalf("NewSheetSink() error = %v", err)
	}

	rows := []map[string]any{{"id": "a", "x": 1}, {"id": "b", "x": 2}}
	res, err := s.Append(context.Background(), "export", rows)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !res.Success || res.Result != "2 rows appended" {
		t.Errorf("result = %+v", res)
	}

	if captured["sheetName"] != "export" {
		t.Errorf("sheetName = %v", captured["sheetName"])
	}
	if data, ok := captured["data"].([]any); !ok || len(data) != 2 {
		t.Errorf("data = %v", captured["data"])
	}
	if _, present := captured["mode"]; present {
		t.Error("append envelope must not carry a mode field")
	}
}

func TestSheetSink_MergeEnvelope(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		fmt.Fprint(w, `{"success":true,"matched":1,"notFound":1}`)
	}))
	defer srv.Close()

	s, _ := NewSheetSink(srv.URL, srv.Client(), testLogger())

	rows := []map[string]any{{"id": "a", "x": 1}, {"id": "c", "x": 2}}
	res, err := s.Merge(context.Background(), "export", "id", rows)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.Matched != 1 || res.NotFound != 1 {
		t.Errorf("result = %+v", res)
	}

	if captured["mode"] != "merge" {
		t.Errorf("mode = %v", captured["mode"])
	}
	if captured["keyColumn"] != "id" {
		t.Errorf("keyColumn = %v", captured["keyColumn"])
	}
}

func TestSheetSink_WriteFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "receiver reports failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"success":false,"error":"sheet is locked"}`)
			},
		},
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "oops", http.StatusBadGateway)
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "not json")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			s, _ := NewSheetSink(srv.URL, srv.Client(), testLogger())
			_, err := s.Append(context.Background(), "x", []map[string]any{{"a": 1}})
			if !errors.Is(err, ErrDelivery) {
				t.Errorf("error = %v, want ErrDelivery", err)
			}
		})
	}
}

func TestSheetSink_FetchKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "getIds" || q.Get("sheet") != "export" || q.Get("column") != "id" {
			t.Errorf("query = %v", q)
		}
		if q.Get("start") != "500" || q.Get("limit") != "500" {
			t.Errorf("paging query = %v", q)
		}
		fmt.Fprint(w, `{"success":true,"ids":["a","b"],"total":502,"returned":2,"hasMore":false,"nextStart":502}`)
	}))
	defer srv.Close()

	s, _ := NewSheetSink(srv.URL, srv.Client(), testLogger())
	page, err := s.FetchKeys(context.Background(), "export", "id", 500, 0)
	if err != nil {
		t.Fatalf("FetchKeys() error = %v", err)
	}
	if len(page.IDs) != 2 || page.Total != 502 || page.HasMore {
		t.Errorf("page = %+v", page)
	}
}

func TestWebhookSink_Envelope(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhookSink(srv.URL, "unit-test", srv.Client(), testLogger())
	if err != nil {
		t.Fatalf("NewWebhookSink() error = %v", err)
	}

	res, err := wh.Append(context.Background(), "", []map[string]any{{"id": 1}})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}

	if captured["source"] != "unit-test" {
		t.Errorf("source = %v", captured["source"])
	}
	if ts, ok := captured["timestamp"].(string); !ok || ts == "" {
		t.Errorf("timestamp = %v", captured["timestamp"])
	}
	if _, ok := captured["data"].([]any); !ok {
		t.Errorf("data = %v", captured["data"])
	}
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	wh, _ := NewWebhookSink(srv.URL, "", srv.Client(), testLogger())
	_, err := wh.Append(context.Background(), "", []map[string]any{{"id": 1}})
	if !errors.Is(err, ErrDelivery) {
		t.Errorf("error = %v, want ErrDelivery", err)
	}
}

func TestWebhookSink_FetchKeysUnsupported(t *testing.T) {
	wh, _ := NewWebhookSink("https://hooks.example.com/x", "", nil, testLogger())
	_, err := wh.FetchKeys(context.Background(), "s", "c", 0, 10)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}
