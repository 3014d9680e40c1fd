package paginate

import (
	"strconv"
	"strings"

	"github.com/pagepump/pagepump/pkg/request"
)

// Ranked query parameter name pools. Within each pool the first name that
// appears in the request wins; later names are ignored.
var (
	pageParamNames   = []string{"page", "p", "pageNumber", "page_number", "offset", "skip", "start"}
	cursorParamNames = []string{"cursor", "after", "since_id", "next_token", "pageToken", "starting_after"}
	sizeParamNames   = []string{"per_page", "limit", "pageSize", "page_size", "count", "maxResults"}
)

// InferFromRequest classifies the pagination style of an API from the query
// parameters of a sample request.
//
// A cursor-style parameter name wins over a page-number name. A size
// parameter alone yields a tentative cursor classification (SizeOnlyGuess),
// confirmed or collapsed to ModeNone by the first RefineFromResponse call.
// No recognized parameter at all yields ModeNone.
func InferFromRequest(d *request.Descriptor) *State {
	s := &State{Mode: ModeNone, CurrentPage: 1}

	pageParam, pageVal := findParam(d.Query, pageParamNames)
	cursorParam, _ := findParam(d.Query, cursorParamNames)
	sizeParam, sizeVal := findParam(d.Query, sizeParamNames)

	if sizeParam != "" {
		s.SizeParam = sizeParam
		if n, err := strconv.Atoi(sizeVal); err == nil && n > 0 {
			s.ItemsPerPage = n
		}
	}

	switch {
	case cursorParam != "":
		s.Mode = ModeCursor
		s.CursorParam = cursorParam
	case pageParam != "":
		s.Mode = ModePageNumber
		s.PageParam = pageParam
		if n, err := strconv.Atoi(pageVal); err == nil && n > 0 {
			s.CurrentPage = n
		}
	case sizeParam != "":
		// A size parameter alone often signals cursor pagination whose
		// cursor only appears in responses. Confirmed by response shape.
		s.Mode = ModeCursor
		s.SizeOnlyGuess = true
	}

	return s
}

// findParam returns the first pool name present in the query, along with the
// query's actual key spelling and value. Matching is case-insensitive; pool
// order decides ties.
func findParam(query map[string]string, pool []string) (string, string) {
	for _, name := range pool {
		for key, val := range query {
			if strings.EqualFold(key, name) {
				return key, val
			}
		}
	}
	return "", ""
}
