package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// Known header spellings for quota information, checked in order.
var (
	remainingHeaders = []string{"X-RateLimit-Remaining", "RateLimit-Remaining", "X-Rate-Limit-Remaining"}
	limitHeaders     = []string{"X-RateLimit-Limit", "RateLimit-Limit", "X-Rate-Limit-Limit"}
	resetHeaders     = []string{"X-RateLimit-Reset", "RateLimit-Reset", "X-Rate-Limit-Reset"}
)

// QuotaHints is the advisory rate-limit quota parsed from response headers.
// Display only; hints never gate control flow.
type QuotaHints struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hints returns a copy of the latest quota hints.
func (g *Governor) Hints() QuotaHints {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hints
}

// updateHints parses quota headers from a response. Headers that are absent
// or unparseable leave the previous hint values in place.
func (g *Governor) updateHints(headers http.Header) {
	if headers == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	updated := false
	if v, ok := firstIntHeader(headers, remainingHeaders); ok {
		g.hints.Remaining = v
		updated = true
	}
	if v, ok := firstIntHeader(headers, limitHeaders); ok {
		g.hints.Limit = v
		updated = true
	}
	if v, ok := firstIntHeader(headers, resetHeaders); ok {
		// Reset headers carry either an epoch timestamp or seconds-from-now.
		if v > 1e9 {
			g.hints.ResetAt = time.Unix(int64(v), 0)
		} else {
			g.hints.ResetAt = time.Now().Add(time.Duration(v) * time.Second)
		}
		updated = true
	}
	if updated {
		g.hints.UpdatedAt = time.Now()
	}
}

func firstIntHeader(headers http.Header, names []string) (int, bool) {
	for _, name := range names {
		if raw := headers.Get(name); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

// parseRetryAfter interprets a Retry-After header value: integer seconds
// first, then an HTTP date. Past dates and garbage report !ok.
func parseRetryAfter(raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if t, err := time.Parse(time.RFC1123, raw); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}
