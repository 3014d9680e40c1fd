package paginate

import (
	"fmt"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// nextSignal is a next-page signal extracted from a response body.
// Exactly one of token or fullURL is set.
type nextSignal struct {
	token   string
	fullURL string
}

// patternMatcher inspects a parsed response body for one known next-page
// shape. Returns nil when the shape is absent. param names the cursor query
// parameter a token pattern implies, adopted when the request itself named
// none (the size-only tentative guess).
type patternMatcher struct {
	name  string
	param string
	match func(c *gabs.Container) *nextSignal
}

// responsePatterns is the fixed, ordered list of known response shapes.
// Evaluated top-down; the first match wins. APIs exposing several candidate
// fields are resolved by this priority, not by scoring.
var responsePatterns = []patternMatcher{
	{"paging.next", "", urlPattern("paging.next")},
	{"next", "", urlPattern("next")},
	{"meta.next_cursor", "cursor", tokenPattern("meta.next_cursor")},
	{"next_cursor", "cursor", tokenPattern("next_cursor")},
	{"nextPageToken", "pageToken", tokenPattern("nextPageToken")},
	{"paging.cursors.after", "after", tokenPattern("paging.cursors.after")},
	{"_links.next.href", "", urlPattern("_links.next.href")},
	{"has_more+last_id", "starting_after", matchHasMore},
}

// urlPattern matches a non-empty string URL at the given path.
func urlPattern(path string) func(*gabs.Container) *nextSignal {
	return func(c *gabs.Container) *nextSignal {
		u, ok := stringAt(c, path)
		if !ok || !looksLikeURL(u) {
			return nil
		}
		return &nextSignal{fullURL: u}
	}
}

// tokenPattern matches a non-empty token at the given path. Numeric tokens
// are accepted and rendered as their literal representation.
func tokenPattern(path string) func(*gabs.Container) *nextSignal {
	return func(c *gabs.Container) *nextSignal {
		v := c.Path(path)
		if v == nil {
			return nil
		}
		switch t := v.Data().(type) {
		case string:
			if t == "" {
				return nil
			}
			return &nextSignal{token: t}
		case float64:
			return &nextSignal{token: trimFloat(t)}
		default:
			return nil
		}
	}
}

// matchHasMore synthesizes a cursor from a boolean has_more flag combined
// with the identifier of the last item on the page (Stripe-style paging).
func matchHasMore(c *gabs.Container) *nextSignal {
	more, ok := c.Path("has_more").Data().(bool)
	if !ok || !more {
		return nil
	}
	items := extractItemsContainer(c)
	if len(items) == 0 {
		return nil
	}
	last, ok := items[len(items)-1].(map[string]any)
	if !ok {
		return nil
	}
	switch id := last["id"].(type) {
	case string:
		if id != "" {
			return &nextSignal{token: id}
		}
	case float64:
		return &nextSignal{token: trimFloat(id)}
	}
	return nil
}

// RefineFromResponse inspects a response body for a next-page signal and
// returns an updated copy of the state. The input state is not modified;
// callers thread state explicitly through every suspension point.
//
// In cursor mode the absence of any matching pattern means end-of-data. A
// tentative size-only cursor guess that finds no pattern in its first
// response collapses to ModeNone; a token match confirms the guess and, when
// the request named no cursor parameter, adopts the matched pattern's
// conventional one. Calling twice with the same body yields the same result.
func RefineFromResponse(s *State, body []byte) *State {
	next := s.Clone()
	if next.Mode == ModeNone {
		return next
	}

	c, err := gabs.ParseJSON(body)
	if err != nil {
		// Non-JSON bodies carry no recognizable signal.
		next.clearNext()
		if next.SizeOnlyGuess {
			next.Mode = ModeNone
			next.SizeOnlyGuess = false
		}
		return next
	}

	for _, p := range responsePatterns {
		if sig := p.match(c); sig != nil {
			if sig.fullURL != "" {
				next.setNextURL(sig.fullURL)
			} else {
				next.setNextToken(sig.token)
				if next.CursorParam == "" {
					next.CursorParam = p.param
				}
			}
			next.SizeOnlyGuess = false
			return next
		}
	}

	next.clearNext()
	if next.SizeOnlyGuess {
		next.Mode = ModeNone
		next.SizeOnlyGuess = false
	}
	return next
}

func stringAt(c *gabs.Container, path string) (string, bool) {
	v := c.Path(path)
	if v == nil {
		return "", false
	}
	s, ok := v.Data().(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}
