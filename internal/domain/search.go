package domain

import (
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// SearchMode tags which upstream shape produced a page of results.
type SearchMode string

const (
	ModeNL      SearchMode = "nl"
	ModeCatalog SearchMode = "catalog"
)

func NormalizeMode(raw string) (SearchMode, bool) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeNL, "natural", "natural-language":
		return ModeNL, true
	case ModeCatalog, "filter", "service":
		return ModeCatalog, true
	default:
		return "", false
	}
}

type SearchFilters struct {
	CatalogID     string   `json:"catalogId,omitempty"`
	MinPrice      float64  `json:"minPrice,omitempty"`
	MaxPrice      float64  `json:"maxPrice,omitempty"`
	AgeGroup      string   `json:"ageGroup,omitempty"`
	SkillLevels   []string `json:"skillLevels,omitempty"`
	LocationTypes []string `json:"locationTypes,omitempty"`
	Duration      int      `json:"duration,omitempty"`
	Date          string   `json:"date,omitempty"`
}

type SearchParams struct {
	Mode    SearchMode    `json:"mode"`
	Query   string        `json:"query,omitempty"`
	Filters SearchFilters `json:"filters"`
	PerPage int           `json:"perPage"`
}

// ServiceOffering is one service an instructor teaches. Capability flags are
// tri-state: nil means the upstream did not say.
type ServiceOffering struct {
	ID               string   `json:"id,omitempty"`
	CatalogID        string   `json:"catalogId,omitempty"`
	Name             string   `json:"name,omitempty"`
	Description      string   `json:"description,omitempty"`
	HourlyRate       float64  `json:"hourlyRate,omitempty"`
	DurationOptions  []int    `json:"durationOptions,omitempty"`
	Active           *bool    `json:"active,omitempty"`
	Levels           []string `json:"levels,omitempty"`
	AgeGroups        []string `json:"ageGroups,omitempty"`
	LocationTypes    []string `json:"locationTypes,omitempty"`
	OffersTravel     *bool    `json:"offersTravel,omitempty"`
	OffersAtLocation *bool    `json:"offersAtLocation,omitempty"`
	OffersOnline     *bool    `json:"offersOnline,omitempty"`
}

type Rating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type TeachingLocation struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Neighborhood string  `json:"neighborhood,omitempty"`
}

// Highlight describes the offering that matched the active catalog filter.
type Highlight struct {
	ServiceID     string   `json:"serviceId,omitempty"`
	CatalogID     string   `json:"catalogId,omitempty"`
	Levels        []string `json:"levels,omitempty"`
	AgeGroups     []string `json:"ageGroups,omitempty"`
	LocationTypes []string `json:"locationTypes,omitempty"`
}

type SearchResult struct {
	InstructorID      string             `json:"instructorId"`
	Name              string             `json:"name"`
	Bio               string             `json:"bio,omitempty"`
	AvatarURL         string             `json:"avatarUrl,omitempty"`
	YearsExperience   int                `json:"yearsExperience,omitempty"`
	Verified          bool               `json:"verified"`
	Rating            Rating             `json:"rating"`
	CoverageAreas     []string           `json:"coverageAreas,omitempty"`
	DistanceKM        *float64           `json:"distanceKm,omitempty"`
	Services          []ServiceOffering  `json:"services"`
	TeachingLocations []TeachingLocation `json:"teachingLocations,omitempty"`
	Highlight         *Highlight         `json:"highlight,omitempty"`
	Source            SearchMode         `json:"source"`
	RelevanceScore    float64            `json:"relevanceScore,omitempty"`
}

// OffersTravel reports whether any offering explicitly comes to the student.
func (r SearchResult) OffersTravel() bool {
	for _, service := range r.Services {
		if BoolValue(service.OffersTravel) {
			return true
		}
	}
	return false
}

// OffersAtLocation reports whether any offering is taught at the instructor's place.
func (r SearchResult) OffersAtLocation() bool {
	for _, service := range r.Services {
		if BoolValue(service.OffersAtLocation) {
			return true
		}
	}
	return false
}

func BoolValue(value *bool) bool {
	return value != nil && *value
}

func BoolPtr(value bool) *bool {
	return &value
}

type SearchMeta struct {
	SearchQueryID     string   `json:"searchQueryId,omitempty"`
	SoftFilteringUsed bool     `json:"softFilteringUsed,omitempty"`
	FiltersRelaxed    []string `json:"filtersRelaxed,omitempty"`
	LocationResolved  string   `json:"locationResolved,omitempty"`
	CorrectedQuery    string   `json:"correctedQuery,omitempty"`
}

type NormalizedPage struct {
	Mode    SearchMode     `json:"mode"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	HasMore bool           `json:"hasMore"`
	Page    int            `json:"page"`
	PerPage int            `json:"perPage,omitempty"`
	Meta    *SearchMeta    `json:"meta,omitempty"`
	Dropped int            `json:"-"`
}

type PaginationState struct {
	Page    int              `json:"page"`
	Merged  map[int]struct{} `json:"-"`
	HasMore bool             `json:"hasMore"`
	Total   int              `json:"total"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Viewport is the visible map rectangle.
type Viewport struct {
	SouthWest LatLng `json:"sw"`
	NorthEast LatLng `json:"ne"`
}

func (v Viewport) Valid() bool {
	return v.SouthWest.Valid() && v.NorthEast.Valid()
}

// CoverageFeature is an area (polygon or multi-polygon) covered by one or more instructors.
type CoverageFeature struct {
	ID            string
	Geometry      geom.T
	InstructorIDs []string
}

type CoverageCollection struct {
	Features []CoverageFeature
}

func (c *CoverageCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

type TeachingLocationPin struct {
	InstructorID string  `json:"instructorId"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Label        string  `json:"label,omitempty"`
}

type MapPhase string

const (
	MapIdle            MapPhase = "idle"
	MapViewportChanged MapPhase = "viewport_changed"
	MapApplied         MapPhase = "applied"
)

type MapView struct {
	Phase               MapPhase                   `json:"phase"`
	Viewport            *Viewport                  `json:"viewport,omitempty"`
	AppliedViewport     *Viewport                  `json:"appliedViewport,omitempty"`
	Features            *geojson.FeatureCollection `json:"features"`
	Pins                []TeachingLocationPin      `json:"pins"`
	FocusedInstructorID string                     `json:"focusedInstructorId,omitempty"`
	ShowSearchArea      bool                       `json:"showSearchArea"`
	CandidateCount      int                        `json:"candidateCount"`
}

type RateLimitBanner struct {
	Seconds int `json:"seconds"`
}

type ErrorState struct {
	Message string `json:"message"`
}

type SessionView struct {
	ID          string           `json:"id"`
	Params      SearchParams     `json:"params"`
	Results     []SearchResult   `json:"results"`
	Loaded      int              `json:"loaded"`
	Total       int              `json:"total"`
	Page        int              `json:"page"`
	MergedPages []int            `json:"mergedPages"`
	HasMore     bool             `json:"hasMore"`
	Meta        *SearchMeta      `json:"meta,omitempty"`
	Banner      *RateLimitBanner `json:"banner,omitempty"`
	Error       *ErrorState      `json:"error,omitempty"`
	Map         MapView          `json:"map"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DayAvailability struct {
	Date  string     `json:"date"`
	Slots []TimeSlot `json:"slots"`
}

type InstructorAvailability struct {
	InstructorID string            `json:"instructorId"`
	Days         []DayAvailability `json:"days"`
}

type ClickEvent struct {
	SearchQueryID   string    `json:"searchQueryId"`
	InstructorID    string    `json:"instructorId"`
	OfferingID      string    `json:"offeringId,omitempty"`
	Position        int       `json:"position"`
	InteractionType string    `json:"interactionType"`
	OccurredAt      time.Time `json:"occurredAt"`
}

type UpstreamDiagnostics struct {
	Name                string     `json:"name"`
	Available           bool       `json:"available"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastStatus          int        `json:"lastStatus,omitempty"`
	LastRetryAfterSec   int        `json:"lastRetryAfterSec,omitempty"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	RateLimitedCount    int64      `json:"rateLimitedCount,omitempty"`
}
