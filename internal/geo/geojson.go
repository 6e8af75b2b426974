package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"tutormarket/searchservice/internal/domain"
)

var ErrNotFeatureCollection = errors.New("payload is not a GeoJSON FeatureCollection")

type rawCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

type rawFeature struct {
	ID         json.RawMessage `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// DecodeCoverage parses a coverage FeatureCollection. Features that are not
// polygons or multi-polygons, or that name no instructors, are skipped and
// counted in the returned drop count.
func DecodeCoverage(payload []byte) (*domain.CoverageCollection, int, error) {
	var raw rawCollection
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode coverage: %w", err)
	}
	if !strings.EqualFold(raw.Type, "FeatureCollection") && raw.Features == nil {
		return nil, 0, ErrNotFeatureCollection
	}

	collection := &domain.CoverageCollection{Features: make([]domain.CoverageFeature, 0, len(raw.Features))}
	dropped := 0
	for _, item := range raw.Features {
		feature, ok := decodeFeature(item)
		if !ok {
			dropped++
			continue
		}
		collection.Features = append(collection.Features, feature)
	}
	return collection, dropped, nil
}

func decodeFeature(data json.RawMessage) (domain.CoverageFeature, bool) {
	var raw rawFeature
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.CoverageFeature{}, false
	}
	if len(raw.Geometry) == 0 || string(raw.Geometry) == "null" {
		return domain.CoverageFeature{}, false
	}
	var g geom.T
	if err := geojson.Unmarshal(raw.Geometry, &g); err != nil {
		return domain.CoverageFeature{}, false
	}
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
	default:
		return domain.CoverageFeature{}, false
	}

	ids := propertyIDs(raw.Properties, "instructors", "instructor_ids")
	if len(ids) == 0 {
		return domain.CoverageFeature{}, false
	}
	id := scalarID(raw.ID)
	if id == "" {
		id = propertyString(raw.Properties, "coverage_id", "id", "region_id")
	}
	return domain.CoverageFeature{ID: id, Geometry: g, InstructorIDs: ids}, true
}

func scalarID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return scalarString(value)
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func propertyString(props map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := scalarString(props[key]); value != "" {
			return value
		}
	}
	return ""
}

func propertyIDs(props map[string]any, keys ...string) []string {
	for _, key := range keys {
		items, ok := props[key].([]any)
		if !ok {
			continue
		}
		ids := make([]string, 0, len(items))
		seen := make(map[string]struct{}, len(items))
		for _, item := range items {
			id := scalarString(item)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return nil
}

// EncodeCoverage is the inverse of DecodeCoverage, used by the coverage cache.
func EncodeCoverage(collection *domain.CoverageCollection) ([]byte, error) {
	return json.Marshal(featureCollection(collection, nil))
}

// featureCollection builds GeoJSON output. When keep is non-nil only those
// instructor ids are listed and features left without any are omitted.
func featureCollection(collection *domain.CoverageCollection, keep map[string]struct{}) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	if collection == nil {
		return fc
	}
	for _, feature := range collection.Features {
		ids := feature.InstructorIDs
		if keep != nil {
			ids = make([]string, 0, len(feature.InstructorIDs))
			for _, id := range feature.InstructorIDs {
				if _, ok := keep[id]; ok {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       feature.ID,
			Geometry: feature.Geometry,
			Properties: map[string]interface{}{
				"instructors": ids,
			},
		})
	}
	return fc
}
