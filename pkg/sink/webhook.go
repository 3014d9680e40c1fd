package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookSink posts batches to a workflow webhook. The wire contract is
// fire-and-forget: any 2xx status is success and no response body is
// required.
type WebhookSink struct {
	endpoint string
	source   string
	client   *http.Client
	logger   zerolog.Logger
}

// webhookEnvelope is the wire shape of a webhook delivery.
type webhookEnvelope struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// NewWebhookSink creates a webhook sink. source labels the sender in the
// envelope. A nil client gets a 30s-timeout default.
func NewWebhookSink(endpoint, source string, client *http.Client, logger zerolog.Logger) (*WebhookSink, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if source == "" {
		source = "pagepump"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookSink{endpoint: endpoint, source: source, client: client, logger: logger}, nil
}

// Append posts rows in a single envelope. The sheet name is ignored;
// webhooks have no tabs.
func (w *WebhookSink) Append(ctx context.Context, _ string, rows []map[string]any) (*WriteResult, error) {
	sinkRowsTotal.WithLabelValues("webhook", "append").Add(float64(len(rows)))
	err := w.post(ctx, rows)
	w.observe("append", err)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Success: true}, nil
}

// Merge degrades to a plain post: the webhook contract has no merge
// semantics, so rows are delivered as-is for the receiving workflow to
// reconcile.
func (w *WebhookSink) Merge(ctx context.Context, _ string, _ string, rows []map[string]any) (*WriteResult, error) {
	sinkRowsTotal.WithLabelValues("webhook", "merge").Add(float64(len(rows)))
	err := w.post(ctx, rows)
	w.observe("merge", err)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Success: true, Matched: len(rows)}, nil
}

// FetchKeys is not available on webhooks.
func (w *WebhookSink) FetchKeys(_ context.Context, _, _ string, _, _ int) (*KeyPage, error) {
	return nil, fmt.Errorf("%w: webhook sinks cannot be read", ErrUnsupported)
}

func (w *WebhookSink) post(ctx context.Context, data any) error {
	payload, err := json.Marshal(webhookEnvelope{
		Source:    w.source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned HTTP %d", ErrDelivery, resp.StatusCode)
	}

	w.logger.Debug().Str("endpoint", w.endpoint).Msg("Webhook delivery accepted")
	return nil
}

func (w *WebhookSink) observe(mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sinkWritesTotal.WithLabelValues("webhook", mode, outcome).Inc()
}
