package geo

import (
	"encoding/json"
	"testing"

	"github.com/twpayne/go-geom"

	"tutormarket/searchservice/internal/domain"
)

func square(minLng, minLat, maxLng, maxLat float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minLng, minLat},
		{maxLng, minLat},
		{maxLng, maxLat},
		{minLng, maxLat},
		{minLng, minLat},
	}})
}

func traveller(id string) domain.SearchResult {
	return domain.SearchResult{
		InstructorID: id,
		Services:     []domain.ServiceOffering{{CatalogID: "piano", OffersTravel: domain.BoolPtr(true)}},
	}
}

func studioOwner(id string, lat, lng float64) domain.SearchResult {
	return domain.SearchResult{
		InstructorID:      id,
		Services:          []domain.ServiceOffering{{CatalogID: "piano", OffersAtLocation: domain.BoolPtr(true)}},
		TeachingLocations: []domain.TeachingLocation{{Lat: lat, Lng: lng, Neighborhood: "Studio"}},
	}
}

func onlineOnly(id string) domain.SearchResult {
	return domain.SearchResult{
		InstructorID: id,
		Services:     []domain.ServiceOffering{{CatalogID: "piano", OffersOnline: domain.BoolPtr(true)}},
	}
}

func manhattanViewport() domain.Viewport {
	return domain.Viewport{
		SouthWest: domain.LatLng{Lat: 40.68, Lng: -74.02},
		NorthEast: domain.LatLng{Lat: 40.80, Lng: -73.93},
	}
}

func TestBuildIndexFiltersByCapability(t *testing.T) {
	results := []domain.SearchResult{
		traveller("travel"),
		studioOwner("studio", 40.75, -73.99),
		onlineOnly("online"),
	}
	coverage := &domain.CoverageCollection{Features: []domain.CoverageFeature{
		{ID: "f1", Geometry: square(-74.01, 40.69, -73.99, 40.71), InstructorIDs: []string{"travel", "studio", "stranger"}},
		{ID: "f2", Geometry: square(-73.9, 40.6, -73.8, 40.7), InstructorIDs: []string{"online"}},
	}}
	idx := BuildIndex(results, coverage)

	if idx.Empty() {
		t.Fatal("index should not be empty")
	}
	features := idx.FeaturesFor("travel")
	if len(features) != 1 || len(features[0].InstructorIDs) != 1 || features[0].InstructorIDs[0] != "travel" {
		t.Fatalf("feature should retain only the travelling instructor, got %+v", features)
	}
	if len(idx.FeaturesFor("studio")) != 0 || len(idx.FeaturesFor("online")) != 0 {
		t.Fatal("non-travelling instructors must not get coverage")
	}
	if len(idx.Coverage().Features) != 1 {
		t.Fatalf("feature without remaining instructors must be dropped, got %d", len(idx.Coverage().Features))
	}
	if pins := idx.PinsFor("studio"); len(pins) != 1 || pins[0].Label != "Studio" {
		t.Fatalf("unexpected pins: %+v", pins)
	}
	if idx.HasGeo("online") {
		t.Fatal("online-only instructor has no geometry")
	}
}

func TestBuildIndexWithoutCoverageKeepsPins(t *testing.T) {
	idx := BuildIndex([]domain.SearchResult{studioOwner("s", 40.7, -74.0), traveller("t")}, nil)
	if !idx.HasGeo("s") || idx.HasGeo("t") {
		t.Fatal("pins should work without coverage; travellers need coverage")
	}
	if fc := idx.FeatureCollection(nil); len(fc.Features) != 0 {
		t.Fatalf("expected no features, got %d", len(fc.Features))
	}
}

func TestBuildIndexSkipsInvalidPins(t *testing.T) {
	idx := BuildIndex([]domain.SearchResult{studioOwner("s", 123, -74.0)}, nil)
	if idx.HasGeo("s") {
		t.Fatal("out-of-range pin must be skipped")
	}
	if !idx.Empty() {
		t.Fatal("index should be empty")
	}
}

func TestFilterVertexInsideViewport(t *testing.T) {
	results := []domain.SearchResult{traveller("a")}
	coverage := &domain.CoverageCollection{Features: []domain.CoverageFeature{{
		ID:            "tri",
		Geometry:      geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{-74.0, 40.7}, {-75.0, 41.5}, {-75.5, 40.0}, {-74.0, 40.7}}}),
		InstructorIDs: []string{"a"},
	}}}
	idx := BuildIndex(results, coverage)
	for _, mode := range []MatchMode{MatchVertex, MatchIntersect} {
		got := Filter(manhattanViewport(), results, idx, mode)
		if len(got) != 1 {
			t.Fatalf("%s: vertex at (40.7,-74.0) must be inside the viewport", mode)
		}
	}
}

func TestFilterIntersectCatchesContainingArea(t *testing.T) {
	results := []domain.SearchResult{traveller("big")}
	coverage := &domain.CoverageCollection{Features: []domain.CoverageFeature{{
		ID:            "borough",
		Geometry:      square(-75, 40, -73, 41.5),
		InstructorIDs: []string{"big"},
	}}}
	idx := BuildIndex(results, coverage)

	if got := Filter(manhattanViewport(), results, idx, MatchVertex); len(got) != 0 {
		t.Fatal("vertex mode misses an area that fully contains the viewport")
	}
	if got := Filter(manhattanViewport(), results, idx, MatchIntersect); len(got) != 1 {
		t.Fatal("intersect mode must include an area containing the viewport")
	}
}

func TestFilterIntersectCatchesCrossingStrip(t *testing.T) {
	results := []domain.SearchResult{traveller("strip")}
	// A thin horizontal band crossing the viewport with every vertex outside.
	coverage := &domain.CoverageCollection{Features: []domain.CoverageFeature{{
		ID:            "band",
		Geometry:      square(-75, 40.74, -73, 40.75),
		InstructorIDs: []string{"strip"},
	}}}
	idx := BuildIndex(results, coverage)
	if got := Filter(manhattanViewport(), results, idx, MatchVertex); len(got) != 0 {
		t.Fatal("vertex mode misses a crossing strip")
	}
	if got := Filter(manhattanViewport(), results, idx, MatchIntersect); len(got) != 1 {
		t.Fatal("intersect mode must include a crossing strip")
	}
}

func TestFilterExcludesHoleAndFarAreas(t *testing.T) {
	results := []domain.SearchResult{traveller("donut"), traveller("far")}
	donut := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{-75, 40}, {-73, 40}, {-73, 41.5}, {-75, 41.5}, {-75, 40}},
		{{-74.5, 40.5}, {-73.5, 40.5}, {-73.5, 41}, {-74.5, 41}, {-74.5, 40.5}},
	})
	coverage := &domain.CoverageCollection{Features: []domain.CoverageFeature{
		{ID: "donut", Geometry: donut, InstructorIDs: []string{"donut"}},
		{ID: "far", Geometry: square(10, 10, 11, 11), InstructorIDs: []string{"far"}},
	}}
	idx := BuildIndex(results, coverage)
	if got := Filter(manhattanViewport(), results, idx, MatchIntersect); len(got) != 0 {
		t.Fatalf("viewport inside the hole and far area must not match, got %d", len(got))
	}
}

func TestFilterMultiPolygonAndPins(t *testing.T) {
	multi := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{10, 10}, {11, 10}, {11, 11}, {10, 11}, {10, 10}}},
		{{{-74.0, 40.70}, {-73.98, 40.70}, {-73.98, 40.72}, {-74.0, 40.72}, {-74.0, 40.70}}},
	})
	results := []domain.SearchResult{traveller("multi"), studioOwner("pin-in", 40.75, -73.99), studioOwner("pin-out", 34.05, -118.24), onlineOnly("online")}
	coverage := &domain.CoverageCollection{Features: []domain.CoverageFeature{{ID: "m", Geometry: multi, InstructorIDs: []string{"multi"}}}}
	idx := BuildIndex(results, coverage)

	got := Filter(manhattanViewport(), results, idx, MatchIntersect)
	if len(got) != 2 || got[0].InstructorID != "multi" || got[1].InstructorID != "pin-in" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
}

func TestFilterAntimeridianViewport(t *testing.T) {
	results := []domain.SearchResult{studioOwner("fiji", -17.7, 178.0), studioOwner("samoa", -13.8, -172.0), studioOwner("sydney", -33.8, 151.2)}
	idx := BuildIndex(results, nil)
	vp := domain.Viewport{
		SouthWest: domain.LatLng{Lat: -25, Lng: 170},
		NorthEast: domain.LatLng{Lat: -5, Lng: -165},
	}
	got := Filter(vp, results, idx, MatchIntersect)
	if len(got) != 2 {
		t.Fatalf("expected both sides of the antimeridian, got %+v", got)
	}
	if InViewport(vp, "sydney", idx, MatchIntersect) {
		t.Fatal("sydney is outside the viewport")
	}
}

func TestDecodeCoverage(t *testing.T) {
	payload := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "id": 7, "geometry": {"type": "Polygon", "coordinates": [[[-74.0,40.7],[-73.9,40.7],[-73.9,40.8],[-74.0,40.7]]]}, "properties": {"instructors": ["a", 12, "a"]}},
			{"type": "Feature", "geometry": {"type": "MultiPolygon", "coordinates": [[[[0,0],[1,0],[1,1],[0,0]]]]}, "properties": {"coverage_id": "cov-2", "instructors": ["b"]}},
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]}, "properties": {"instructors": ["c"]}},
			{"type": "Feature", "geometry": null, "properties": {"instructors": ["d"]}},
			{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}, "properties": {}}
		]
	}`
	collection, dropped, err := DecodeCoverage([]byte(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dropped != 3 || collection.Len() != 2 {
		t.Fatalf("expected 2 features and 3 dropped, got %d/%d", collection.Len(), dropped)
	}
	first := collection.Features[0]
	if first.ID != "7" || len(first.InstructorIDs) != 2 || first.InstructorIDs[1] != "12" {
		t.Fatalf("unexpected first feature: %+v", first)
	}
	if _, ok := first.Geometry.(*geom.Polygon); !ok {
		t.Fatalf("expected polygon, got %T", first.Geometry)
	}
	if collection.Features[1].ID != "cov-2" {
		t.Fatalf("expected id from properties, got %q", collection.Features[1].ID)
	}

	if _, _, err := DecodeCoverage([]byte(`{"type": "Feature"}`)); err == nil {
		t.Fatal("expected error for non-collection payload")
	}
}

func TestEncodeCoverageRoundTrip(t *testing.T) {
	original := &domain.CoverageCollection{Features: []domain.CoverageFeature{
		{ID: "f1", Geometry: square(-74.01, 40.69, -73.99, 40.71), InstructorIDs: []string{"a", "b"}},
	}}
	data, err := EncodeCoverage(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, dropped, err := DecodeCoverage(data)
	if err != nil || dropped != 0 {
		t.Fatalf("decode: %v dropped=%d", err, dropped)
	}
	if decoded.Len() != 1 || decoded.Features[0].ID != "f1" || len(decoded.Features[0].InstructorIDs) != 2 {
		t.Fatalf("unexpected round trip: %+v", decoded.Features)
	}
	polygon, ok := decoded.Features[0].Geometry.(*geom.Polygon)
	if !ok || polygon.NumCoords() != 5 {
		t.Fatalf("unexpected geometry: %#v", decoded.Features[0].Geometry)
	}
}

func TestFeatureCollectionRestrictsIDs(t *testing.T) {
	results := []domain.SearchResult{traveller("a"), traveller("b")}
	coverage := &domain.CoverageCollection{Features: []domain.CoverageFeature{
		{ID: "shared", Geometry: square(0, 0, 1, 1), InstructorIDs: []string{"a", "b"}},
		{ID: "only-b", Geometry: square(2, 2, 3, 3), InstructorIDs: []string{"b"}},
	}}
	idx := BuildIndex(results, coverage)
	fc := idx.FeatureCollection(map[string]struct{}{"a": {}})
	if len(fc.Features) != 1 {
		t.Fatalf("expected only the shared feature, got %d", len(fc.Features))
	}
	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Features []struct {
			Properties struct {
				Instructors []string `json:"instructors"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Features[0].Properties.Instructors) != 1 || decoded.Features[0].Properties.Instructors[0] != "a" {
		t.Fatalf("unexpected instructors: %+v", decoded.Features[0].Properties)
	}
}
