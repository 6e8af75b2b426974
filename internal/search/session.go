package search

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/geo"
)

const (
	defaultPerPage   = 20
	maxPerPage       = 100
	clickInteraction = "click"
)

// Session is one user's search page: the current query, the merged result
// list, the map state and the last upstream outcome. Upstream calls run
// outside the lock; results are merged under it.
type Session struct {
	id  string
	svc *Service

	mu         sync.Mutex
	params     domain.SearchParams
	queryKey   string
	generation uint64
	pages      *PageController
	guard      *Guard
	mapSync    *geo.MapSync
	coverage   *domain.CoverageCollection
	version    uint64
	updatedAt  time.Time
}

func (s *Service) StartSession(ctx context.Context, params domain.SearchParams) (domain.SessionView, error) {
	params, err := ValidateParams(params)
	if err != nil {
		return domain.SessionView{}, err
	}
	now := time.Now()
	session := &Session{
		id:        uuid.NewString(),
		svc:       s,
		pages:     NewPageController(),
		guard:     NewGuard(upstreamSearch, s.logger),
		mapSync:   geo.NewMapSync(s.matchMode),
		updatedAt: now,
	}
	s.sessions.add(session, now)
	return session.Search(ctx, params)
}

func (s *Service) Session(id string) (*Session, error) {
	session, ok := s.sessions.get(strings.TrimSpace(id), time.Now())
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) CloseSession(id string) error {
	if !s.sessions.remove(strings.TrimSpace(id)) {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Session) ID() string {
	return s.id
}

// Search starts a new query. State is reset before the first page is fetched,
// so responses still in flight for the previous query are discarded.
func (s *Session) Search(ctx context.Context, params domain.SearchParams) (domain.SessionView, error) {
	params, err := ValidateParams(params)
	if err != nil {
		return domain.SessionView{}, err
	}

	s.mu.Lock()
	s.generation++
	key := buildQueryKey(params) + "#" + strconv.FormatUint(s.generation, 10)
	s.params = params
	s.queryKey = key
	s.pages.Reset(key)
	s.guard = NewGuard(upstreamSearch, s.svc.logger)
	s.coverage = nil
	s.version++
	s.mapSync.Rebuild(nil, geo.BuildIndex(nil, nil), true)
	s.updatedAt = time.Now()
	guard := s.guard
	s.mu.Unlock()

	s.fetchShared(ctx, params, key, 1, guard)
	return s.View(), nil
}

// NextPage fetches the page after the last merged one. It is a no-op when
// there is nothing more to load or paging was halted by an upstream failure.
func (s *Session) NextPage(ctx context.Context) (domain.SessionView, error) {
	s.mu.Lock()
	page, ok := s.pages.NextPage()
	params, key, guard := s.params, s.queryKey, s.guard
	s.mu.Unlock()

	if ok {
		s.fetchShared(ctx, params, key, page, guard)
	}
	return s.View(), nil
}

// fetchShared collapses concurrent requests for the same page of the same
// query into one upstream call. The call is detached from the caller's
// cancellation because other callers may be waiting on it.
func (s *Session) fetchShared(ctx context.Context, params domain.SearchParams, key string, page int, guard *Guard) {
	flightKey := s.id + "|" + key + "|" + strconv.Itoa(page)
	_, _, _ = s.svc.flight.Do(flightKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*s.svc.timeout)
		defer cancel()
		s.fetch(fetchCtx, params, key, page, guard)
		return nil, nil
	})
}

func (s *Session) fetch(ctx context.Context, params domain.SearchParams, key string, page int, guard *Guard) {
	payload, outcome := guard.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return s.svc.searchUpstream(ctx, params, page)
	})
	if !outcome.OK() {
		s.mu.Lock()
		if s.queryKey == key {
			s.pages.Halt()
			s.updatedAt = time.Now()
		}
		s.mu.Unlock()
		return
	}

	normalized := Normalize(params.Mode, payload, NormalizeOptions{
		CatalogID:     params.Filters.CatalogID,
		RequestedPage: page,
		PerPage:       params.PerPage,
		Logger:        s.svc.logger,
	})

	s.mu.Lock()
	merge := s.pages.Apply(PageResponse{QueryKey: key, RequestedPage: page, Page: normalized})
	if merge == MergeStale || merge == MergeDuplicate {
		s.mu.Unlock()
		return
	}
	results := s.pages.Results()
	s.version++
	version := s.version
	s.mapSync.Rebuild(results, geo.BuildIndex(results, s.coverage), merge == MergeReplaced)
	s.updatedAt = time.Now()
	s.mu.Unlock()

	coverage := s.svc.loadCoverage(ctx, travellingIDs(results))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return
	}
	s.coverage = coverage
	s.mapSync.Rebuild(results, geo.BuildIndex(results, coverage), false)
}

func travellingIDs(results []domain.SearchResult) []string {
	ids := make([]string, 0, len(results))
	for _, result := range results {
		if result.OffersTravel() {
			ids = append(ids, result.InstructorID)
		}
	}
	return ids
}

func (s *Session) Viewport(vp domain.Viewport) (domain.MapView, error) {
	if !vp.Valid() || vp.SouthWest.Lat > vp.NorthEast.Lat {
		return domain.MapView{}, ErrInvalidViewport
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapSync.OnViewportChange(vp)
	s.updatedAt = time.Now()
	return s.mapSync.View(), nil
}

// ApplyArea restricts the list to the current viewport.
func (s *Session) ApplyArea() (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mapSync.ApplyArea() {
		return domain.SessionView{}, ErrNoViewport
	}
	s.updatedAt = time.Now()
	return s.viewLocked(), nil
}

func (s *Session) ClearArea() domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapSync.ClearArea()
	s.updatedAt = time.Now()
	return s.viewLocked()
}

// Focus highlights an instructor on the map; an empty id clears focus.
func (s *Session) Focus(instructorID string) (domain.MapView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mapSync.Focus(strings.TrimSpace(instructorID)) {
		return domain.MapView{}, ErrUnknownInstructor
	}
	return s.mapSync.View(), nil
}

func (s *Session) MapView() domain.MapView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapSync.View()
}

func (s *Session) View() domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() domain.SessionView {
	state := s.pages.State()
	outcome := s.guard.State()
	results := s.mapSync.Displayed()
	if results == nil {
		results = []domain.SearchResult{}
	}
	view := domain.SessionView{
		ID:          s.id,
		Params:      s.params,
		Results:     results,
		Loaded:      len(s.pages.Results()),
		Total:       state.Total,
		Page:        state.Page,
		MergedPages: s.pages.MergedPages(),
		HasMore:     state.HasMore,
		Banner:      outcome.RateLimit,
		Error:       outcome.Error,
		Map:         s.mapSync.View(),
		UpdatedAt:   s.updatedAt,
	}
	if meta := s.pages.Meta(); meta != nil {
		copied := *meta
		view.Meta = &copied
	}
	return view
}

// TrackClick records a profile click on a displayed instructor. Delivery is
// asynchronous and failures are never reported to the caller.
func (s *Session) TrackClick(ctx context.Context, instructorID, offeringID string) error {
	instructorID = strings.TrimSpace(instructorID)

	s.mu.Lock()
	displayed := s.mapSync.Displayed()
	meta := s.pages.Meta()
	s.mu.Unlock()

	position := 0
	var clicked domain.SearchResult
	for i, result := range displayed {
		if result.InstructorID == instructorID {
			position = i + 1
			clicked = result
			break
		}
	}
	if position == 0 {
		return ErrUnknownInstructor
	}

	queryID := s.id
	if meta != nil && meta.SearchQueryID != "" {
		queryID = meta.SearchQueryID
	}
	offeringID = strings.TrimSpace(offeringID)
	if offeringID == "" {
		switch {
		case clicked.Highlight != nil && clicked.Highlight.ServiceID != "":
			offeringID = clicked.Highlight.ServiceID
		case len(clicked.Services) > 0:
			offeringID = clicked.Services[0].ID
		}
	}

	if s.svc.tracker != nil {
		s.svc.tracker.Track(ctx, domain.ClickEvent{
			SearchQueryID:   queryID,
			InstructorID:    instructorID,
			OfferingID:      offeringID,
			Position:        position,
			InteractionType: clickInteraction,
			OccurredAt:      time.Now().UTC(),
		})
	}
	return nil
}
