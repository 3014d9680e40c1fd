// Package walker produces a lazy, restartable sequence of pages from a
// paginated API, driven one fetch at a time through the rate governor.
package walker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagepump/pagepump/pkg/ratelimit"
	"github.com/pagepump/pagepump/pkg/request"
)

// Transport issues a single HTTP request for a descriptor. Injected so that
// jobs and tests control the wire without the walker knowing about clients.
type Transport interface {
	Fetch(ctx context.Context, d *request.Descriptor) (*ratelimit.Result, error)
}

// HTTPTransport is the default net/http-backed transport.
type HTTPTransport struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPTransport creates a transport. A nil client gets a 30s-timeout default.
func NewHTTPTransport(client *http.Client, logger zerolog.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{client: client, logger: logger}
}

// Fetch executes the descriptor and returns the structured result. A non-nil
// error means a transport-level failure (no HTTP response was produced).
func (t *HTTPTransport) Fetch(ctx context.Context, d *request.Descriptor) (*ratelimit.Result, error) {
	var body io.Reader
	if d.Body != "" {
		body = strings.NewReader(d.Body)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, d.FullURL(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if d.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error().Err(err).Str("url", d.URL).Msg("HTTP request failed")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.logger.Error().Err(err).Str("url", d.URL).Msg("Failed to read response body")
		return nil, err
	}

	t.logger.Debug().
		Str("method", d.Method).
		Str("url", d.URL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Request complete")

	return &ratelimit.Result{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}
