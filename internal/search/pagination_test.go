package search

import (
	"reflect"
	"strconv"
	"testing"

	"tutormarket/searchservice/internal/domain"
)

func catalogPage(page, count, total, perPage int) domain.NormalizedPage {
	results := make([]domain.SearchResult, 0, count)
	for i := 0; i < count; i++ {
		results = append(results, domain.SearchResult{InstructorID: "p" + strconv.Itoa(page) + "-" + strconv.Itoa(i)})
	}
	totalPages := (total + perPage - 1) / perPage
	return domain.NormalizedPage{
		Mode:    domain.ModeCatalog,
		Results: results,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasMore: page < totalPages,
	}
}

func TestPageControllerScrollsThroughCatalog(t *testing.T) {
	c := NewPageController()
	c.Reset("q1")

	wantLoaded := []int{20, 40, 45}
	wantMore := []bool{true, true, false}
	for i := 0; i < 3; i++ {
		next, ok := c.NextPage()
		if !ok || next != i+1 {
			t.Fatalf("step %d: expected next page %d, got %d ok=%v", i, i+1, next, ok)
		}
		count := 20
		if next == 3 {
			count = 5
		}
		outcome := c.Apply(PageResponse{QueryKey: "q1", RequestedPage: next, Page: catalogPage(next, count, 45, 20)})
		if i == 0 && outcome != MergeReplaced {
			t.Fatalf("page 1 should replace, got %s", outcome)
		}
		if i > 0 && outcome != MergeAppended {
			t.Fatalf("page %d should append, got %s", next, outcome)
		}
		if got := len(c.Results()); got != wantLoaded[i] {
			t.Fatalf("after page %d: loaded %d, want %d", next, got, wantLoaded[i])
		}
		if c.State().HasMore != wantMore[i] {
			t.Fatalf("after page %d: hasMore %v, want %v", next, c.State().HasMore, wantMore[i])
		}
	}
	if _, ok := c.NextPage(); ok {
		t.Fatal("no further page expected")
	}
	if !reflect.DeepEqual(c.MergedPages(), []int{1, 2, 3}) {
		t.Fatalf("unexpected merged pages: %v", c.MergedPages())
	}
}

func TestPageControllerDuplicatePageIsIdempotent(t *testing.T) {
	c := NewPageController()
	c.Reset("q")
	c.Apply(PageResponse{QueryKey: "q", RequestedPage: 1, Page: catalogPage(1, 20, 45, 20)})

	page2 := PageResponse{QueryKey: "q", RequestedPage: 2, Page: catalogPage(2, 20, 45, 20)}
	if outcome := c.Apply(page2); outcome != MergeAppended {
		t.Fatalf("expected append, got %s", outcome)
	}
	before := c.Results()
	if outcome := c.Apply(page2); outcome != MergeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if !reflect.DeepEqual(before, c.Results()) {
		t.Fatal("second application must not change the list")
	}
}

func TestPageControllerPageOneSupersedes(t *testing.T) {
	c := NewPageController()
	c.Reset("q")
	c.Apply(PageResponse{QueryKey: "q", RequestedPage: 1, Page: catalogPage(1, 20, 45, 20)})
	c.Apply(PageResponse{QueryKey: "q", RequestedPage: 2, Page: catalogPage(2, 20, 45, 20)})

	fresh := catalogPage(1, 3, 3, 20)
	fresh.Results[0].InstructorID = "fresh"
	if outcome := c.Apply(PageResponse{QueryKey: "q", RequestedPage: 1, Page: fresh}); outcome != MergeReplaced {
		t.Fatalf("expected replace, got %s", outcome)
	}
	results := c.Results()
	if len(results) != 3 || results[0].InstructorID != "fresh" {
		t.Fatalf("page 1 must replace everything, got %d results", len(results))
	}
	if !reflect.DeepEqual(c.MergedPages(), []int{1}) {
		t.Fatalf("merged set must reset to {1}, got %v", c.MergedPages())
	}
	if next, ok := c.NextPage(); ok {
		t.Fatalf("fresh page reports no more pages, got next=%d", next)
	}
}

func TestPageControllerIgnoresStaleQuery(t *testing.T) {
	c := NewPageController()
	c.Reset("old")
	c.Reset("new")
	outcome := c.Apply(PageResponse{QueryKey: "old", RequestedPage: 1, Page: catalogPage(1, 20, 45, 20)})
	if outcome != MergeStale {
		t.Fatalf("expected stale, got %s", outcome)
	}
	if len(c.Results()) != 0 {
		t.Fatal("stale page must not be merged")
	}
	if next, ok := c.NextPage(); !ok || next != 1 {
		t.Fatalf("expected page 1 after reset, got %d ok=%v", next, ok)
	}
}

func TestPageControllerNLIsSinglePage(t *testing.T) {
	c := NewPageController()
	c.Reset("nl")
	meta := &domain.SearchMeta{SearchQueryID: "sq"}
	page := domain.NormalizedPage{
		Mode:    domain.ModeNL,
		Results: []domain.SearchResult{{InstructorID: "a"}, {InstructorID: "b"}},
		Total:   2,
		Page:    1,
		Meta:    meta,
	}
	// Even if asked for a later page, nl answers page 1.
	if outcome := c.Apply(PageResponse{QueryKey: "nl", RequestedPage: 4, Page: page}); outcome != MergeReplaced {
		t.Fatalf("expected replace, got %s", outcome)
	}
	if _, ok := c.NextPage(); ok {
		t.Fatal("nl mode never pages")
	}
	if c.Meta() != meta {
		t.Fatal("expected meta retained")
	}
}

func TestPageControllerSkipsRepeatedInstructors(t *testing.T) {
	c := NewPageController()
	c.Reset("q")
	first := catalogPage(1, 2, 4, 2)
	second := catalogPage(2, 2, 4, 2)
	second.Results[0].InstructorID = first.Results[1].InstructorID
	c.Apply(PageResponse{QueryKey: "q", RequestedPage: 1, Page: first})
	c.Apply(PageResponse{QueryKey: "q", RequestedPage: 2, Page: second})

	results := c.Results()
	if len(results) != 3 {
		t.Fatalf("expected repeated instructor to be skipped, got %d results", len(results))
	}
}

func TestPageControllerHalt(t *testing.T) {
	c := NewPageController()
	c.Reset("q")
	c.Apply(PageResponse{QueryKey: "q", RequestedPage: 1, Page: catalogPage(1, 20, 45, 20)})
	c.Halt()
	if _, ok := c.NextPage(); ok {
		t.Fatal("halted controller must not offer another page")
	}
	c.Reset("q")
	if _, ok := c.NextPage(); !ok {
		t.Fatal("reset re-enables paging")
	}
}
