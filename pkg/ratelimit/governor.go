// Package ratelimit implements the rate governor that wraps every single
// HTTP call of a job: inter-request delay enforcement, 429-triggered
// exponential backoff honoring Retry-After, and network-failure retries.
// One call is in flight at a time; jobs never fan out.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for governor operations.
var (
	governorRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepump_retries_total",
		Help: "Total retry attempts by cause",
	}, []string{"cause"})

	governorBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagepump_retry_backoff_seconds",
		Help:    "Backoff duration before retries by cause",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"cause"})

	governorRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepump_retry_exhausted_total",
		Help: "Total times the retry budget was exhausted by cause",
	}, []string{"cause"})

	governorDelayWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagepump_delay_waits_total",
		Help: "Total inter-request delay waits applied",
	})
)

// Common errors returned by the governor.
var (
	// ErrRetryExhausted is returned when all retry attempts are used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a wait
	// or while a fetch is in flight.
	ErrContextCancelled = errors.New("context cancelled")
)

// Result is a structured HTTP outcome. A Result is returned for every
// response the server produced, including error statuses; transport-level
// failures surface as errors instead.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// FetchFunc issues one HTTP attempt.
type FetchFunc func(ctx context.Context) (*Result, error)

// Config holds governor tuning.
type Config struct {
	// MinDelay is the minimum spacing between consecutive requests.
	MinDelay time.Duration

	// RetryBudget is the number of retries allowed per request for 429
	// responses and for network failures (tracked separately).
	RetryBudget int

	// BaseBackoff seeds the exponential 429 backoff (base * 2^(n-1)).
	BaseBackoff time.Duration

	// MaxBackoff caps a single backoff wait.
	MaxBackoff time.Duration
}

// DefaultConfig returns a safe default governor configuration.
func DefaultConfig() Config {
	return Config{
		MinDelay:    200 * time.Millisecond,
		RetryBudget: 3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Governor enforces request-at-a-time discipline for one job. It is safe
// for the owning job goroutine plus observers reading Hints().
type Governor struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
	consumed429 int
	hints       QuotaHints
}

// New creates a governor. Zero config fields fall back to defaults.
func New(cfg Config, logger zerolog.Logger) *Governor {
	def := DefaultConfig()
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = def.RetryBudget
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &Governor{cfg: cfg, logger: logger}
}

// Execute runs fetch through the governor: waits out the inter-request
// delay, retries 429 responses and network failures within budget, and
// updates quota hints from response headers. HTTP error statuses other than
// 429 are returned as Results for the caller to classify; the governor
// never panics and never returns a half-made result.
func (g *Governor) Execute(ctx context.Context, fetch FetchFunc) (*Result, error) {
	if err := g.waitMinDelay(ctx); err != nil {
		return nil, err
	}

	networkAttempts := 0
	for {
		g.mu.Lock()
		g.lastRequest = time.Now()
		g.mu.Unlock()

		res, err := fetch(ctx)

		if err != nil {
			// A cancelled context surfaces as a fetch error too; it is
			// not a network failure and spends no retry budget.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}

			networkAttempts++
			governorRetriesTotal.WithLabelValues("network").Inc()
			if networkAttempts > g.cfg.RetryBudget {
				governorRetryExhaustedTotal.WithLabelValues("network").Inc()
				g.logger.Warn().
					Err(err).
					Int("attempts", networkAttempts).
					Msg("Network retry budget exhausted")
				return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, networkAttempts, err)
			}

			// Linear backoff for connection-level failures.
			backoff := g.cfg.BaseBackoff * time.Duration(networkAttempts)
			governorBackoffSeconds.WithLabelValues("network").Observe(backoff.Seconds())
			g.logger.Warn().
				Err(err).
				Int("attempt", networkAttempts).
				Dur("backoff", backoff).
				Msg("Network failure, retrying")
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		g.updateHints(res.Headers)

		if res.StatusCode == http.StatusTooManyRequests {
			g.mu.Lock()
			consumed := g.consumed429
			g.mu.Unlock()

			if consumed >= g.cfg.RetryBudget {
				governorRetryExhaustedTotal.WithLabelValues("rate_limit").Inc()
				g.logger.Warn().
					Int("consumed_retries", consumed).
					Msg("Rate limit retry budget exhausted, returning 429")
				return res, nil
			}

			g.mu.Lock()
			g.consumed429++
			consumed = g.consumed429
			g.mu.Unlock()

			wait := g.backoffFor429(res.Headers, consumed)
			governorRetriesTotal.WithLabelValues("rate_limit").Inc()
			governorBackoffSeconds.WithLabelValues("rate_limit").Observe(wait.Seconds())
			g.logger.Warn().
				Int("consumed_retries", consumed).
				Dur("backoff", wait).
				Msg("Rate limited, backing off")

			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		// Any non-429 result resets the 429 streak.
		g.mu.Lock()
		g.consumed429 = 0
		g.mu.Unlock()

		return res, nil
	}
}

// backoffFor429 prefers the Retry-After header (integer seconds, then HTTP
// date); falls back to exponential backoff capped at MaxBackoff.
func (g *Governor) backoffFor429(headers http.Header, consumed int) time.Duration {
	if headers != nil {
		if d, ok := parseRetryAfter(headers.Get("Retry-After")); ok {
			return d
		}
	}
	backoff := g.cfg.BaseBackoff << (consumed - 1)
	if backoff > g.cfg.MaxBackoff || backoff <= 0 {
		backoff = g.cfg.MaxBackoff
	}
	return backoff
}

// waitMinDelay suspends until MinDelay has elapsed since the last request.
func (g *Governor) waitMinDelay(ctx context.Context) error {
	g.mu.Lock()
	last := g.lastRequest
	g.mu.Unlock()

	if g.cfg.MinDelay <= 0 || last.IsZero() {
		return nil
	}
	elapsed := time.Since(last)
	if elapsed >= g.cfg.MinDelay {
		return nil
	}

	remaining := g.cfg.MinDelay - elapsed
	governorDelayWaitsTotal.Inc()
	g.logger.Debug().Dur("wait", remaining).Msg("Waiting for inter-request delay")
	return sleepCtx(ctx, remaining)
}

// sleepCtx waits for d or until the context ends, whichever comes first.
// All governor waits go through here so cancellation is observable mid-wait.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
