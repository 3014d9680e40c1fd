package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/pagepump/pagepump/pkg/sink"
)

// MockSink is an in-memory sink that records every call. Merge matches rows
// against previously appended rows by key column, mirroring the spreadsheet
// receiver's behavior.
type MockSink struct {
	mu          sync.Mutex
	rows        map[string][]map[string]any
	keys        []string
	AppendCalls int
	MergeCalls  int
	KeyCalls    int
	FailNext    error
}

// NewMockSink creates an empty mock sink.
func NewMockSink() *MockSink {
	return &MockSink{rows: make(map[string][]map[string]any)}
}

// SetKeys seeds the identifier column FetchKeys reads.
func (m *MockSink) SetKeys(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = keys
}

// Rows returns the rows appended to a sheet.
func (m *MockSink) Rows(sheet string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.rows[sheet]...)
}

func (m *MockSink) Append(ctx context.Context, sheet string, rows []map[string]any) (*sink.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.rows[sheet] = append(m.rows[sheet], rows...)
	return &sink.WriteResult{Success: true, Result: fmt.Sprintf("appended %d", len(rows))}, nil
}

func (m *MockSink) Merge(ctx context.Context, sheet, keyColumn string, rows []map[string]any) (*sink.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MergeCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	matched, notFound := 0, 0
	for _, row := range rows {
		key, _ := row[keyColumn].(string)
		found := false
		for _, existing := range m.rows[sheet] {
			if existing[keyColumn] == key {
				for k, v := range row {
					existing[k] = v
				}
				found = true
				break
			}
		}
		if found {
			matched++
		} else {
			notFound++
		}
	}
	return &sink.WriteResult{Success: true, Matched: matched, NotFound: notFound}, nil
}

func (m *MockSink) FetchKeys(ctx context.Context, sheet, column string, start, limit int) (*sink.KeyPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.KeyCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	end := start + limit
	if start > len(m.keys) {
		start = len(m.keys)
	}
	if end > len(m.keys) {
		end = len(m.keys)
	}
	ids := append([]string(nil), m.keys[start:end]...)
	return &sink.KeyPage{
		IDs:       ids,
		Total:     len(m.keys),
		Returned:  len(ids),
		NextStart: end,
		HasMore:   end < len(m.keys),
	}, nil
}

func (m *MockSink) takeFailure() error {
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	return nil
}
