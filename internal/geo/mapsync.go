package geo

import (
	"tutormarket/searchservice/internal/domain"
)

// MapSync keeps the map and the result list consistent for one session:
// idle until the first viewport, viewport-changed while the user pans, and
// applied once "search this area" filters the list. It is not safe for
// concurrent use.
type MapSync struct {
	mode  MatchMode
	phase domain.MapPhase

	results []domain.SearchResult
	index   *Index

	viewport  *domain.Viewport
	applied   *domain.Viewport
	candidate []domain.SearchResult
	displayed []domain.SearchResult
	focused   string
	showArea  bool
}

func NewMapSync(mode MatchMode) *MapSync {
	if mode == "" {
		mode = MatchIntersect
	}
	return &MapSync{mode: mode, phase: domain.MapIdle}
}

// Rebuild swaps in a new result list and index. resetArea drops an applied
// area, which is what a fresh query needs; appended pages keep it and are
// filtered by it.
func (m *MapSync) Rebuild(results []domain.SearchResult, idx *Index, resetArea bool) {
	m.results = results
	m.index = idx
	if resetArea {
		m.applied = nil
		if m.viewport != nil {
			m.phase = domain.MapViewportChanged
		} else {
			m.phase = domain.MapIdle
		}
	}
	m.recompute()
	if m.focused != "" && !containsID(m.displayed, m.focused) {
		m.focused = ""
	}
}

func (m *MapSync) OnViewportChange(vp domain.Viewport) {
	copied := vp
	m.viewport = &copied
	m.phase = domain.MapViewportChanged
	m.recompute()
}

// ApplyArea filters the list to the current viewport. It reports false when
// no viewport has been seen yet.
func (m *MapSync) ApplyArea() bool {
	if m.viewport == nil {
		return false
	}
	applied := *m.viewport
	m.applied = &applied
	m.phase = domain.MapApplied
	m.focused = ""
	m.recompute()
	return true
}

func (m *MapSync) ClearArea() {
	m.applied = nil
	if m.viewport != nil {
		m.phase = domain.MapViewportChanged
	} else {
		m.phase = domain.MapIdle
	}
	m.recompute()
}

// Focus highlights one displayed instructor; an empty id clears focus.
func (m *MapSync) Focus(instructorID string) bool {
	if instructorID == "" {
		m.focused = ""
		return true
	}
	if !containsID(m.displayed, instructorID) {
		return false
	}
	m.focused = instructorID
	return true
}

func (m *MapSync) Displayed() []domain.SearchResult {
	return append([]domain.SearchResult(nil), m.displayed...)
}

func (m *MapSync) AreaApplied() bool {
	return m.applied != nil
}

func (m *MapSync) View() domain.MapView {
	ids := idSet(m.displayed)
	view := domain.MapView{
		Phase:               m.phase,
		Features:            m.index.FeatureCollection(ids),
		Pins:                m.index.Pins(ids),
		FocusedInstructorID: m.focused,
		ShowSearchArea:      m.showArea,
		CandidateCount:      len(m.candidate),
	}
	if m.viewport != nil {
		vp := *m.viewport
		view.Viewport = &vp
	}
	if m.applied != nil {
		vp := *m.applied
		view.AppliedViewport = &vp
	}
	return view
}

func (m *MapSync) recompute() {
	if m.viewport != nil {
		m.candidate = Filter(*m.viewport, m.results, m.index, m.mode)
	} else {
		m.candidate = nil
	}
	if m.applied != nil {
		m.displayed = Filter(*m.applied, m.results, m.index, m.mode)
	} else {
		m.displayed = append([]domain.SearchResult(nil), m.results...)
	}
	m.showArea = m.computeShowArea()
}

// computeShowArea decides whether "search this area" is worth offering.
// Instructors without any geometry never count as filtered out.
func (m *MapSync) computeShowArea() bool {
	if m.viewport == nil || m.index.Empty() {
		return false
	}
	if m.phase == domain.MapApplied {
		return false
	}
	if m.applied != nil {
		return !sameIDs(m.candidate, m.displayed)
	}
	inside := idSet(m.candidate)
	for _, result := range m.results {
		if !m.index.HasGeo(result.InstructorID) {
			continue
		}
		if _, ok := inside[result.InstructorID]; !ok {
			return true
		}
	}
	return false
}

func idSet(results []domain.SearchResult) map[string]struct{} {
	set := make(map[string]struct{}, len(results))
	for _, result := range results {
		set[result.InstructorID] = struct{}{}
	}
	return set
}

func containsID(results []domain.SearchResult, id string) bool {
	for _, result := range results {
		if result.InstructorID == id {
			return true
		}
	}
	return false
}

func sameIDs(a, b []domain.SearchResult) bool {
	if len(a) != len(b) {
		return false
	}
	set := idSet(a)
	for _, result := range b {
		if _, ok := set[result.InstructorID]; !ok {
			return false
		}
	}
	return true
}
