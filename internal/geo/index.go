// Package geo maps search results onto coverage areas and teaching-location
// pins and filters them by the visible map rectangle.
package geo

import (
	"github.com/twpayne/go-geom/encoding/geojson"

	"tutormarket/searchservice/internal/domain"
)

// Index is an immutable lookup from instructor id to coverage features and
// pins. Rebuild it whenever the result list or coverage data changes.
type Index struct {
	coverage *domain.CoverageCollection
	features map[string][]int
	pins     []domain.TeachingLocationPin
	pinsByID map[string][]int
}

// BuildIndex keeps coverage only for instructors that travel to students and
// pins only for instructors that teach at their own location. A nil coverage
// collection yields no features; pins still work.
func BuildIndex(results []domain.SearchResult, coverage *domain.CoverageCollection) *Index {
	idx := &Index{
		coverage: &domain.CoverageCollection{},
		features: make(map[string][]int),
		pinsByID: make(map[string][]int),
	}

	travelling := make(map[string]struct{})
	for _, result := range results {
		if result.OffersTravel() {
			travelling[result.InstructorID] = struct{}{}
		}
		if !result.OffersAtLocation() {
			continue
		}
		for _, loc := range result.TeachingLocations {
			point := domain.LatLng{Lat: loc.Lat, Lng: loc.Lng}
			if !point.Valid() {
				continue
			}
			idx.pinsByID[result.InstructorID] = append(idx.pinsByID[result.InstructorID], len(idx.pins))
			idx.pins = append(idx.pins, domain.TeachingLocationPin{
				InstructorID: result.InstructorID,
				Lat:          loc.Lat,
				Lng:          loc.Lng,
				Label:        loc.Neighborhood,
			})
		}
	}

	if coverage == nil {
		return idx
	}
	for _, feature := range coverage.Features {
		if feature.Geometry == nil {
			continue
		}
		ids := make([]string, 0, len(feature.InstructorIDs))
		for _, id := range feature.InstructorIDs {
			if _, ok := travelling[id]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		pos := len(idx.coverage.Features)
		idx.coverage.Features = append(idx.coverage.Features, domain.CoverageFeature{
			ID:            feature.ID,
			Geometry:      feature.Geometry,
			InstructorIDs: ids,
		})
		for _, id := range ids {
			idx.features[id] = append(idx.features[id], pos)
		}
	}
	return idx
}

// Empty reports whether the index holds no geometry at all.
func (i *Index) Empty() bool {
	return i == nil || (len(i.coverage.Features) == 0 && len(i.pins) == 0)
}

func (i *Index) HasGeo(instructorID string) bool {
	if i == nil {
		return false
	}
	return len(i.features[instructorID]) > 0 || len(i.pinsByID[instructorID]) > 0
}

func (i *Index) FeaturesFor(instructorID string) []domain.CoverageFeature {
	if i == nil {
		return nil
	}
	positions := i.features[instructorID]
	out := make([]domain.CoverageFeature, 0, len(positions))
	for _, pos := range positions {
		out = append(out, i.coverage.Features[pos])
	}
	return out
}

func (i *Index) PinsFor(instructorID string) []domain.TeachingLocationPin {
	if i == nil {
		return nil
	}
	positions := i.pinsByID[instructorID]
	out := make([]domain.TeachingLocationPin, 0, len(positions))
	for _, pos := range positions {
		out = append(out, i.pins[pos])
	}
	return out
}

// Pins returns pins for the given ids, or every pin when ids is nil.
func (i *Index) Pins(ids map[string]struct{}) []domain.TeachingLocationPin {
	out := []domain.TeachingLocationPin{}
	if i == nil {
		return out
	}
	for _, pin := range i.pins {
		if ids != nil {
			if _, ok := ids[pin.InstructorID]; !ok {
				continue
			}
		}
		out = append(out, pin)
	}
	return out
}

// FeatureCollection renders coverage for the given ids (all when nil) as GeoJSON.
func (i *Index) FeatureCollection(ids map[string]struct{}) *geojson.FeatureCollection {
	if i == nil {
		return featureCollection(nil, nil)
	}
	return featureCollection(i.coverage, ids)
}

// Coverage exposes the filtered coverage collection.
func (i *Index) Coverage() *domain.CoverageCollection {
	if i == nil {
		return &domain.CoverageCollection{}
	}
	return i.coverage
}
