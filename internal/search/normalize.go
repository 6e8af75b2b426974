package search

import (
	"log/slog"
	"math"
	"strings"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/metrics"
	"tutormarket/searchservice/internal/providers/common"
)

type NormalizeOptions struct {
	// CatalogID is the active catalog filter; it picks the highlighted offering.
	CatalogID     string
	RequestedPage int
	PerPage       int
	Logger        *slog.Logger
}

// Normalize converts a raw upstream payload into the canonical page shape.
// It never fails: malformed records are dropped and a payload without a
// results array yields an empty page.
func Normalize(mode domain.SearchMode, payload []byte, opts NormalizeOptions) domain.NormalizedPage {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	root, ok := decodeRecord(payload)
	if !ok {
		opts.Logger.Debug("search payload is not an object", slog.String("mode", string(mode)), slog.Int("bytes", len(payload)))
	}

	var page domain.NormalizedPage
	switch mode {
	case domain.ModeCatalog:
		page = normalizeCatalog(root, opts)
	default:
		page = normalizeNL(root, opts)
	}
	if page.Dropped > 0 {
		metrics.NormalizerDroppedTotal.WithLabelValues(string(page.Mode)).Add(float64(page.Dropped))
		opts.Logger.Debug("dropped malformed search records",
			slog.String("mode", string(page.Mode)),
			slog.Int("dropped", page.Dropped),
		)
	}
	return page
}

func normalizeNL(root record, opts NormalizeOptions) domain.NormalizedPage {
	page := domain.NormalizedPage{
		Mode:    domain.ModeNL,
		Results: []domain.SearchResult{},
		Page:    1,
		PerPage: opts.PerPage,
	}
	seen := make(map[string]struct{})
	for _, raw := range root.List("results") {
		entry, ok := asRecord(raw)
		if !ok {
			page.Dropped++
			continue
		}
		result, ok := nlResult(entry)
		if !ok {
			page.Dropped++
			continue
		}
		if _, dup := seen[result.InstructorID]; dup {
			continue
		}
		seen[result.InstructorID] = struct{}{}
		page.Results = append(page.Results, result)
	}

	meta := root.Record("meta", "metadata")
	if meta != nil {
		page.Meta = &domain.SearchMeta{
			SearchQueryID:     meta.String("search_query_id", "searchQueryId"),
			SoftFilteringUsed: meta.Bool("soft_filtering_used", "softFilteringUsed"),
			FiltersRelaxed:    meta.Strings("filters_relaxed", "filtersRelaxed"),
			LocationResolved:  meta.String("location_resolved", "locationResolved"),
			CorrectedQuery:    meta.String("corrected_query", "correctedQuery"),
		}
	}
	if meta.Has("total_results") {
		page.Total = meta.Int("total_results")
	} else {
		page.Total = len(page.Results)
	}
	// The nl upstream has no incremental paging.
	page.HasMore = false
	return page
}

func nlResult(entry record) (domain.SearchResult, bool) {
	instructor := entry.Record("instructor")
	if instructor == nil {
		return domain.SearchResult{}, false
	}
	result, ok := instructorFields(instructor)
	if !ok {
		return domain.SearchResult{}, false
	}
	result.Source = domain.ModeNL

	rating := entry.Record("rating")
	if rating == nil {
		rating = instructor.Record("rating")
	}
	result.Rating = domain.Rating{
		Average: rating.Float("average", "avg", "value"),
		Count:   rating.Int("count", "total_reviews", "review_count"),
	}
	result.RelevanceScore = entry.Float("relevance_score", "score")
	result.DistanceKM = entry.OptFloat("distance_km")
	if result.DistanceKM == nil {
		if miles := entry.OptFloat("distance_mi"); miles != nil {
			km := *miles * 1.609344
			result.DistanceKM = &km
		}
	}
	if areas := entry.Strings("coverage_areas"); len(areas) > 0 {
		result.CoverageAreas = areas
	}

	offerings := make([]domain.ServiceOffering, 0, 4)
	best, hasBest := offeringFromRaw(entry["best_match"])
	if hasBest {
		offerings = append(offerings, best)
	}
	for _, raw := range entry.List("other_matches") {
		if offering, ok := offeringFromRaw(raw); ok {
			offerings = append(offerings, offering)
		}
	}
	for _, raw := range instructor.List("services") {
		if offering, ok := offeringFromRaw(raw); ok {
			offerings = append(offerings, offering)
		}
	}
	highlight := ""
	if hasBest {
		highlight = best.CatalogID
	}
	result.Services = DedupeOfferings(offerings, highlight)
	if result.Services == nil {
		result.Services = []domain.ServiceOffering{}
	}
	return result, true
}

func normalizeCatalog(root record, opts NormalizeOptions) domain.NormalizedPage {
	page := domain.NormalizedPage{
		Mode:    domain.ModeCatalog,
		Results: []domain.SearchResult{},
	}

	page.Page = root.Int("page")
	if page.Page <= 0 {
		page.Page = opts.RequestedPage
	}
	if page.Page <= 0 {
		page.Page = 1
	}
	page.PerPage = root.Int("per_page", "perPage", "page_size")
	if page.PerPage <= 0 {
		page.PerPage = opts.PerPage
	}

	seen := make(map[string]struct{})
	for _, raw := range root.List("items", "results") {
		item, ok := asRecord(raw)
		if !ok {
			page.Dropped++
			continue
		}
		result, ok := catalogResult(item, opts.CatalogID)
		if !ok {
			page.Dropped++
			continue
		}
		if _, dup := seen[result.InstructorID]; dup {
			continue
		}
		seen[result.InstructorID] = struct{}{}
		page.Results = append(page.Results, result)
	}

	totalKnown := root.Has("total")
	if totalKnown {
		page.Total = root.Int("total")
	} else {
		page.Total = len(page.Results)
	}
	switch {
	case totalKnown && page.PerPage > 0:
		totalPages := int(math.Ceil(float64(page.Total) / float64(page.PerPage)))
		page.HasMore = page.Page < totalPages
	default:
		page.HasMore = root.Bool("has_next", "hasNext")
	}
	return page
}

func catalogResult(item record, catalogID string) (domain.SearchResult, bool) {
	instructor := item.Record("instructor")
	if instructor == nil {
		instructor = item
	}
	result, ok := instructorFields(instructor)
	if !ok {
		return domain.SearchResult{}, false
	}
	result.Source = domain.ModeCatalog

	rating := item.Record("rating")
	if rating != nil {
		result.Rating = domain.Rating{
			Average: rating.Float("average", "avg", "value"),
			Count:   rating.Int("count", "total_reviews", "review_count"),
		}
	} else {
		result.Rating = domain.Rating{
			Average: item.Float("rating_average", "average_rating", "rating"),
			Count:   item.Int("rating_count", "review_count", "total_reviews"),
		}
	}
	result.DistanceKM = item.OptFloat("distance_km")
	result.RelevanceScore = item.Float("relevance_score")

	raws := item.List("services")
	if len(raws) == 0 {
		raws = instructor.List("services")
	}
	offerings := make([]domain.ServiceOffering, 0, len(raws))
	for _, raw := range raws {
		if offering, ok := offeringFromRaw(raw); ok {
			offerings = append(offerings, offering)
		}
	}
	result.Services = DedupeOfferings(offerings, catalogID)
	if result.Services == nil {
		result.Services = []domain.ServiceOffering{}
	}
	result.Highlight = highlightFor(result.Services, catalogID)
	return result, true
}

// instructorFields reads the fields shared by both shapes. The id is the only
// required field.
func instructorFields(inst record) (domain.SearchResult, bool) {
	id := inst.String("id", "instructor_id", "user_id")
	if id == "" {
		return domain.SearchResult{}, false
	}
	result := domain.SearchResult{
		InstructorID:    id,
		Name:            displayName(inst),
		Bio:             common.CleanHTMLText(inst.String("bio_snippet", "bio", "bio_excerpt")),
		AvatarURL:       inst.String("profile_picture_url", "avatar_url", "photo_url"),
		YearsExperience: inst.Int("years_experience", "yearsExperience"),
		Verified:        inst.Bool("is_verified", "verified", "background_check_verified"),
		CoverageAreas:   inst.Strings("coverage_areas", "service_area_boroughs", "service_areas"),
	}
	if user := inst.Record("user"); user != nil {
		if result.Name == "" {
			result.Name = displayName(user)
		}
		if result.AvatarURL == "" {
			result.AvatarURL = user.String("profile_picture_url", "avatar_url")
		}
	}
	for _, raw := range inst.List("teaching_locations") {
		loc, ok := asRecord(raw)
		if !ok || !loc.Has("lat") || !loc.Has("lng") {
			continue
		}
		result.TeachingLocations = append(result.TeachingLocations, domain.TeachingLocation{
			Lat:          loc.Float("lat", "latitude"),
			Lng:          loc.Float("lng", "longitude"),
			Neighborhood: loc.String("neighborhood", "label", "name"),
		})
	}
	return result, true
}

func displayName(inst record) string {
	first := inst.String("first_name", "firstName")
	last := inst.String("last_initial", "lastInitial")
	if first != "" {
		if last != "" {
			return first + " " + strings.TrimSuffix(last, ".") + "."
		}
		return first
	}
	return inst.String("name", "display_name")
}

func offeringFromRaw(raw any) (domain.ServiceOffering, bool) {
	rec, ok := asRecord(raw)
	if !ok {
		return domain.ServiceOffering{}, false
	}
	catalog := rec.Record("service_catalog", "catalog")
	offering := domain.ServiceOffering{
		ID:               rec.String("service_id", "id", "instructor_service_id"),
		CatalogID:        rec.String("service_catalog_id", "catalog_id"),
		Name:             rec.String("name", "service_catalog_name", "display_name", "skill"),
		Description:      rec.String("description"),
		HourlyRate:       rec.Float("hourly_rate", "price_per_hour", "min_hourly_rate"),
		DurationOptions:  rec.Ints("duration_options", "durations"),
		Active:           rec.OptBool("is_active", "active"),
		Levels:           rec.Strings("levels_taught", "levels", "skill_levels"),
		AgeGroups:        rec.Strings("age_groups"),
		LocationTypes:    rec.Strings("location_types"),
		OffersTravel:     rec.OptBool("offers_travel"),
		OffersAtLocation: rec.OptBool("offers_at_location"),
		OffersOnline:     rec.OptBool("offers_online"),
	}
	if catalog != nil {
		if offering.CatalogID == "" {
			offering.CatalogID = catalog.String("id")
		}
		if offering.Name == "" {
			offering.Name = catalog.String("name")
		}
	}
	return offering, true
}

func highlightFor(services []domain.ServiceOffering, catalogID string) *domain.Highlight {
	if len(services) == 0 {
		return nil
	}
	chosen := services[0]
	target := strings.TrimSpace(catalogID)
	if target != "" {
		for _, service := range services {
			if strings.EqualFold(strings.TrimSpace(service.CatalogID), target) {
				chosen = service
				break
			}
		}
	}
	return &domain.Highlight{
		ServiceID:     chosen.ID,
		CatalogID:     chosen.CatalogID,
		Levels:        append([]string(nil), chosen.Levels...),
		AgeGroups:     append([]string(nil), chosen.AgeGroups...),
		LocationTypes: append([]string(nil), chosen.LocationTypes...),
	}
}
