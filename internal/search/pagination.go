package search

import (
	"sort"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/metrics"
)

type MergeOutcome string

const (
	MergeReplaced  MergeOutcome = "replaced"
	MergeAppended  MergeOutcome = "appended"
	MergeDuplicate MergeOutcome = "duplicate"
	MergeStale     MergeOutcome = "stale"
)

// PageResponse is one upstream page tagged with the query it was fetched for.
type PageResponse struct {
	QueryKey      string
	RequestedPage int
	Page          domain.NormalizedPage
}

// PageController owns the pagination state and the accumulated result list of
// one query. It is not safe for concurrent use; callers hold their own lock.
type PageController struct {
	queryKey string
	state    domain.PaginationState
	results  []domain.SearchResult
	ids      map[string]struct{}
	meta     *domain.SearchMeta
}

func NewPageController() *PageController {
	c := &PageController{}
	c.Reset("")
	return c
}

// Reset starts a new query: page 1, nothing merged, more pages assumed.
func (c *PageController) Reset(queryKey string) {
	c.queryKey = queryKey
	c.state = domain.PaginationState{
		Page:    1,
		Merged:  make(map[int]struct{}),
		HasMore: true,
	}
	c.results = nil
	c.ids = make(map[string]struct{})
	c.meta = nil
}

func (c *PageController) QueryKey() string {
	return c.queryKey
}

// Apply merges a page into the accumulated list. Page 1 replaces, later pages
// append once, and responses for another query are ignored.
func (c *PageController) Apply(resp PageResponse) MergeOutcome {
	outcome := c.apply(resp)
	metrics.PagesMergedTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (c *PageController) apply(resp PageResponse) MergeOutcome {
	if resp.QueryKey != c.queryKey {
		return MergeStale
	}
	page := answeredPage(resp)

	if page <= 1 {
		c.results = make([]domain.SearchResult, 0, len(resp.Page.Results))
		c.ids = make(map[string]struct{}, len(resp.Page.Results))
		c.appendResults(resp.Page.Results)
		c.state.Merged = map[int]struct{}{1: {}}
		c.state.Page = 1
		c.state.HasMore = resp.Page.HasMore
		c.state.Total = resp.Page.Total
		c.meta = resp.Page.Meta
		return MergeReplaced
	}

	if _, merged := c.state.Merged[page]; merged {
		return MergeDuplicate
	}
	c.appendResults(resp.Page.Results)
	c.state.Merged[page] = struct{}{}
	if page > c.state.Page {
		c.state.Page = page
	}
	c.state.HasMore = resp.Page.HasMore
	c.state.Total = resp.Page.Total
	if c.meta == nil {
		c.meta = resp.Page.Meta
	}
	return MergeAppended
}

func answeredPage(resp PageResponse) int {
	if resp.Page.Mode == domain.ModeNL {
		return 1
	}
	if resp.Page.Page > 0 {
		return resp.Page.Page
	}
	return resp.RequestedPage
}

func (c *PageController) appendResults(items []domain.SearchResult) {
	for _, item := range items {
		if _, exists := c.ids[item.InstructorID]; exists {
			continue
		}
		c.ids[item.InstructorID] = struct{}{}
		c.results = append(c.results, item)
	}
}

// NextPage reports the page to request next, if any.
func (c *PageController) NextPage() (int, bool) {
	if !c.state.HasMore {
		return 0, false
	}
	if len(c.state.Merged) == 0 {
		return 1, true
	}
	return c.state.Page + 1, true
}

// Halt stops further paging after an error or rate limit.
func (c *PageController) Halt() {
	c.state.HasMore = false
}

func (c *PageController) Results() []domain.SearchResult {
	return append([]domain.SearchResult(nil), c.results...)
}

func (c *PageController) Meta() *domain.SearchMeta {
	return c.meta
}

func (c *PageController) State() domain.PaginationState {
	merged := make(map[int]struct{}, len(c.state.Merged))
	for page := range c.state.Merged {
		merged[page] = struct{}{}
	}
	state := c.state
	state.Merged = merged
	return state
}

func (c *PageController) MergedPages() []int {
	pages := make([]int, 0, len(c.state.Merged))
	for page := range c.state.Merged {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}
