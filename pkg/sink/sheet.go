package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DefaultKeyBatch is the client-side page size for FetchKeys. The receiver
// clamps limits to 1000 server-side.
const DefaultKeyBatch = 500

// SheetSink delivers rows to a spreadsheet receiver endpoint.
type SheetSink struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewSheetSink creates a spreadsheet sink. A nil client gets a 30s-timeout
// default.
func NewSheetSink(endpoint string, client *http.Client, logger zerolog.Logger) (*SheetSink, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("sheet sink endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SheetSink{endpoint: endpoint, client: client, logger: logger}, nil
}

// appendEnvelope is the wire shape of an append write.
type appendEnvelope struct {
	SheetName string           `json:"sheetName,omitempty"`
	Data      []map[string]any `json:"data"`
}

// mergeEnvelope is the wire shape of a merge-by-key write.
type mergeEnvelope struct {
	SheetName string           `json:"sheetName"`
	Data      []map[string]any `json:"data"`
	Mode      string           `json:"mode"`
	KeyColumn string           `json:"keyColumn"`
}

// writeResponse is the receiver's reply to a write.
type writeResponse struct {
	Success  bool   `json:"success"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Matched  int    `json:"matched,omitempty"`
	NotFound int    `json:"notFound,omitempty"`
}

// keysResponse is the receiver's reply to a getIds read.
type keysResponse struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	IDs       []string `json:"ids"`
	Total     int      `json:"total"`
	Returned  int      `json:"returned"`
	HasMore   bool     `json:"hasMore"`
	NextStart int      `json:"nextStart"`
}

// Append writes rows as new sheet rows.
func (s *SheetSink) Append(ctx context.Context, sheet string, rows []map[string]any) (*WriteResult, error) {
	sinkRowsTotal.WithLabelValues("sheet", "append").Add(float64(len(rows)))
	res, err := s.post(ctx, appendEnvelope{SheetName: sheet, Data: rows})
	s.observe("append", err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("sheet", sheet).Int("rows", len(rows)).Msg("Appended rows to sheet")
	return res, nil
}

// Merge writes rows into existing sheet rows matched by keyColumn.
func (s *SheetSink) Merge(ctx context.Context, sheet, keyColumn string, rows []map[string]any) (*WriteResult, error) {
	sinkRowsTotal.WithLabelValues("sheet", "merge").Add(float64(len(rows)))
	res, err := s.post(ctx, mergeEnvelope{
		SheetName: sheet,
		Data:      rows,
		Mode:      "merge",
		KeyColumn: keyColumn,
	})
	s.observe("merge", err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("sheet", sheet).
		Int("rows", len(rows)).
		Int("matched", res.Matched).
		Int("not_found", res.NotFound).
		Msg("Merged rows into sheet")
	return res, nil
}

// FetchKeys reads one page of identifiers from a sheet column.
func (s *SheetSink) FetchKeys(ctx context.Context, sheet, column string, start, limit int) (*KeyPage, error) {
	if limit <= 0 {
		limit = DefaultKeyBatch
	}

	q := url.Values{}
	q.Set("action", "getIds")
	q.Set("sheet", sheet)
	q.Set("column", column)
	q.Set("start", strconv.Itoa(start))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create keys request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch keys: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read keys response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: keys read returned HTTP %d", ErrDelivery, resp.StatusCode)
	}

	var kr keysResponse
	if err := json.Unmarshal(body, &kr); err != nil {
		return nil, fmt.Errorf("decode keys response: %w", err)
	}
	if !kr.Success {
		return nil, fmt.Errorf("%w: %s", ErrDelivery, kr.Error)
	}

	return &KeyPage{
		IDs:       kr.IDs,
		Total:     kr.Total,
		Returned:  kr.Returned,
		NextStart: kr.NextStart,
		HasMore:   kr.HasMore,
	}, nil
}

// post sends a JSON envelope and decodes the write response.
func (s *SheetSink) post(ctx context.Context, envelope any) (*WriteResult, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrDelivery, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: receiver returned HTTP %d", ErrDelivery, resp.StatusCode)
	}

	var wr writeResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDelivery, err)
	}
	if !wr.Success {
		return nil, fmt.Errorf("%w: %s", ErrDelivery, wr.Error)
	}

	return &WriteResult{
		Success:  wr.Success,
		Result:   wr.Result,
		Matched:  wr.Matched,
		NotFound: wr.NotFound,
	}, nil
}

func (s *SheetSink) observe(mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sinkWritesTotal.WithLabelValues("sheet", mode, outcome).Inc()
}
