// Package paginate classifies an API's pagination contract from a sample
// request and refines that classification from response bodies. The
// heuristics are represented as fixed, ordered lists evaluated in priority
// order: the first match wins.
package paginate

// Mode is the pagination style of an API.
type Mode string

const (
	// ModeNone means the API is treated as a single fetch; no next-page
	// signal is ever produced.
	ModeNone Mode = "none"

	// ModePageNumber means the next page is reached by incrementing a known
	// query parameter.
	ModePageNumber Mode = "page-number"

	// ModeCursor means the next page is identified by an opaque token or a
	// full URL returned in the current response.
	ModeCursor Mode = "cursor"
)

// CursorRef identifies one previously-visited cursor position. Exactly one
// of Token or FullURL is set.
type CursorRef struct {
	Token   string `json:"token,omitempty"`
	FullURL string `json:"full_url,omitempty"`
}

// State is the pagination state owned by the active job.
//
// Invariant: at most one of NextCursorToken and NextFullURL is set at a
// time. ModeNone implies neither is ever set.
type State struct {
	Mode Mode `json:"mode"`

	// CurrentPage is a 1-based counter, meaningful only in page-number mode.
	CurrentPage  int `json:"current_page"`
	ItemsPerPage int `json:"items_per_page"`

	// Query parameter names carrying the page number and page size
	// (page-number mode only).
	PageParam string `json:"page_param,omitempty"`
	SizeParam string `json:"size_param,omitempty"`

	// CursorParam is the query parameter carrying a cursor token
	// (cursor mode, token style only).
	CursorParam string `json:"cursor_param,omitempty"`

	// NextCursorToken is the most recent cursor extracted from a response.
	NextCursorToken string `json:"next_cursor_token,omitempty"`

	// NextFullURL is a complete next-page URL extracted from a response.
	// Takes precedence over NextCursorToken when present.
	NextFullURL string `json:"next_full_url,omitempty"`

	// PriorCursors are previously-consumed cursor positions, newest last,
	// enabling backward navigation.
	PriorCursors []CursorRef `json:"prior_cursors,omitempty"`

	// SizeOnlyGuess marks a tentative cursor classification made from a
	// size parameter alone, pending confirmation by response shape.
	SizeOnlyGuess bool `json:"size_only_guess,omitempty"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	if s.PriorCursors != nil {
		c.PriorCursors = make([]CursorRef, len(s.PriorCursors))
		copy(c.PriorCursors, s.PriorCursors)
	}
	return &c
}

// HasNext reports whether a next-page signal is pending.
func (s *State) HasNext() bool {
	return s.NextCursorToken != "" || s.NextFullURL != ""
}

// setNextToken records a token cursor, clearing any full URL.
func (s *State) setNextToken(token string) {
	s.NextCursorToken = token
	s.NextFullURL = ""
}

// setNextURL records a full-URL cursor, clearing any token.
func (s *State) setNextURL(u string) {
	s.NextFullURL = u
	s.NextCursorToken = ""
}

// clearNext removes any pending next-page signal.
func (s *State) clearNext() {
	s.NextCursorToken = ""
	s.NextFullURL = ""
}

// PushCursor records a consumed cursor position for backward navigation.
func (s *State) PushCursor(ref CursorRef) {
	s.PriorCursors = append(s.PriorCursors, ref)
}

// PopCursor removes and returns the most recent cursor position.
// ok is false when the stack is empty.
func (s *State) PopCursor() (CursorRef, bool) {
	if len(s.PriorCursors) == 0 {
		return CursorRef{}, false
	}
	ref := s.PriorCursors[len(s.PriorCursors)-1]
	s.PriorCursors = s.PriorCursors[:len(s.PriorCursors)-1]
	return ref, true
}
