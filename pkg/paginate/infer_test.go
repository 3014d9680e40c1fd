package paginate

import (
	"testing"

	"github.com/pagepump/pagepump/pkg/request"
)

func TestInferFromRequest(t *testing.T) {
	tests := []struct {
		name            string
		query           map[string]string
		wantMode        Mode
		wantPageParam   string
		wantCursorParam string
		wantSizeParam   string
		wantPerPage     int
		wantGuess       bool
	}{
		{
			name:          "page param yields page-number mode",
			query:         map[string]string{"page": "1", "per_page": "50"},
			wantMode:      ModePageNumber,
			wantPageParam: "page",
			wantSizeParam: "per_page",
			wantPerPage:   50,
		},
		{
			name:            "cursor wins over page",
			query:           map[string]string{"page": "1", "cursor": "abc"},
			wantMode:        ModeCursor,
			wantCursorParam: "cursor",
		},
		{
			name:            "after is a cursor name",
			query:           map[string]string{"after": "obj_123", "limit": "25"},
			wantMode:        ModeCursor,
			wantCursorParam: "after",
			wantSizeParam:   "limit",
			wantPerPage:     25,
		},
		{
			name:          "size only yields tentative cursor",
			query:         map[string]string{"limit": "100"},
			wantMode:      ModeCursor,
			wantSizeParam: "limit",
			wantPerPage:   100,
			wantGuess:     true,
		},
		{
			name:     "no recognized params yields none",
			query:    map[string]string{"q": "search term"},
			wantMode: ModeNone,
		},
		{
			name:     "empty query yields none",
			query:    nil,
			wantMode: ModeNone,
		},
		{
			name:          "offset counts as page-number",
			query:         map[string]string{"offset": "0", "count": "20"},
			wantMode:      ModePageNumber,
			wantPageParam: "offset",
			wantSizeParam: "count",
			wantPerPage:   20,
		},
		{
			name:          "pool order beats key order",
			query:         map[string]string{"start": "0", "page": "2"},
			wantMode:      ModePageNumber,
			wantPageParam: "page",
		},
		{
			name:          "case-insensitive match keeps original spelling",
			query:         map[string]string{"Page": "1"},
			wantMode:      ModePageNumber,
			wantPageParam: "Page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &request.Descriptor{URL: "https://api.example.com/items", Query: tt.query}
			s := InferFromRequest(d)

			if s.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", s.Mode, tt.wantMode)
			}
			if s.PageParam != tt.wantPageParam {
				t.Errorf("PageParam = %q, want %q", s.PageParam, tt.wantPageParam)
			}
			if s.CursorParam != tt.wantCursorParam {
				t.Errorf("CursorParam = %q, want %q", s.CursorParam, tt.wantCursorParam)
			}
			if s.SizeParam != tt.wantSizeParam {
				t.Errorf("SizeParam = %q, want %q", s.SizeParam, tt.wantSizeParam)
			}
			if s.ItemsPerPage != tt.wantPerPage {
				t.Errorf("ItemsPerPage = %d, want %d", s.ItemsPerPage, tt.wantPerPage)
			}
			if s.SizeOnlyGuess != tt.wantGuess {
				t.Errorf("SizeOnlyGuess = %v, want %v", s.SizeOnlyGuess, tt.wantGuess)
			}
		})
	}
}

func TestInferFromRequest_CurrentPageFromValue(t *testing.T) {
	d := &request.Descriptor{
		URL:   "https://api.example.com/items",
		Query: map[string]string{"page": "7"},
	}

	s := InferFromRequest(d)
	if s.CurrentPage != 7 {
		t.Errorf("CurrentPage = %d, want 7", s.CurrentPage)
	}
}
