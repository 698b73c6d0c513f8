package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("")

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor("?limit=25&offset=10")

	if p.Limit != 25 {
		t.Errorf("expected limit 25, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_Clamping(t *testing.T) {
	if p := paramsFor("?limit=100000"); p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
	if p := paramsFor("?limit=-3&offset=-5"); p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected defaults for negative values, got %+v", p)
	}
	if p := paramsFor("?limit=abc"); p.Limit != DefaultLimit {
		t.Errorf("expected default limit for garbage, got %d", p.Limit)
	}
}

func TestPage(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name string
		p    Params
		want []int
	}{
		{"first page", Params{Limit: 2, Offset: 0}, []int{1, 2}},
		{"middle page", Params{Limit: 2, Offset: 2}, []int{3, 4}},
		{"short last page", Params{Limit: 2, Offset: 4}, []int{5}},
		{"past the end", Params{Limit: 2, Offset: 9}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Page(rows, tt.p)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a"}, 10, 5, 0)
	if !r.HasMore {
		t.Error("expected HasMore with 10 total and 5 shown")
	}
	r = NewResponse([]string{"a"}, 10, 5, 5)
	if r.HasMore {
		t.Error("expected no more rows on the last page")
	}
}

func TestOffsets(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if p.NextOffset() != 15 {
		t.Errorf("expected next offset 15, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected previous offset clamped to 0, got %d", p.PreviousOffset())
	}
	if !p.HasPrevious() || !p.HasNext(16) || p.HasNext(15) {
		t.Errorf("unexpected navigation for %+v", p)
	}
}

func TestLinks(t *testing.T) {
	p := Params{Limit: 10, Offset: 10}
	query := url.Values{"city": {"Austin"}, "limit": {"999"}}

	links := p.Links("/api/v1/reports/measures/patient-directory/evaluate", query, 35)
	if len(links) != 3 {
		t.Fatalf("expected self, next and previous, got %+v", links)
	}
	if links[0].Relation != "self" || !strings.Contains(links[0].URL, "offset=10") {
		t.Errorf("unexpected self link %+v", links[0])
	}
	if !strings.Contains(links[1].URL, "offset=20") || !strings.Contains(links[1].URL, "limit=10") {
		t.Errorf("unexpected next link %+v", links[1])
	}
	if !strings.Contains(links[2].URL, "offset=0") || !strings.Contains(links[2].URL, "city=Austin") {
		t.Errorf("unexpected previous link %+v", links[2])
	}

	links = Params{Limit: 10}.Links("/x", nil, 5)
	if len(links) != 1 {
		t.Errorf("expected only self link, got %+v", links)
	}
}
