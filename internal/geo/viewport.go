package geo

import (
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"tutormarket/searchservice/internal/domain"
)

// MatchMode selects how a coverage area is tested against the viewport.
type MatchMode string

const (
	// MatchIntersect is exact polygon/rectangle intersection.
	MatchIntersect MatchMode = "intersect"
	// MatchVertex accepts an area only when one of its ring vertices is
	// inside the rectangle. Large areas that fully contain the viewport or
	// cross it edge to edge are missed.
	MatchVertex MatchMode = "vertex"
)

func ParseMatchMode(raw string) MatchMode {
	switch MatchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case MatchVertex:
		return MatchVertex
	default:
		return MatchIntersect
	}
}

type rect struct {
	minX, minY, maxX, maxY float64
}

// viewportRects converts a viewport to lng/lat rectangles, splitting at the
// antimeridian when the west edge is east of the east edge.
func viewportRects(vp domain.Viewport) []rect {
	minY, maxY := vp.SouthWest.Lat, vp.NorthEast.Lat
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	west, east := vp.SouthWest.Lng, vp.NorthEast.Lng
	if west <= east {
		return []rect{{minX: west, minY: minY, maxX: east, maxY: maxY}}
	}
	return []rect{
		{minX: west, minY: minY, maxX: 180, maxY: maxY},
		{minX: -180, minY: minY, maxX: east, maxY: maxY},
	}
}

func (r rect) bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(r.minX, r.minY, r.maxX, r.maxY)
}

func (r rect) contains(x, y float64) bool {
	return x >= r.minX && x <= r.maxX && y >= r.minY && y <= r.maxY
}

func (r rect) corners() [4][2]float64 {
	return [4][2]float64{
		{r.minX, r.minY},
		{r.maxX, r.minY},
		{r.maxX, r.maxY},
		{r.minX, r.maxY},
	}
}

// Filter keeps results with at least one coverage area or pin inside the
// viewport. Order is preserved.
func Filter(vp domain.Viewport, results []domain.SearchResult, idx *Index, mode MatchMode) []domain.SearchResult {
	rects := viewportRects(vp)
	out := make([]domain.SearchResult, 0, len(results))
	for _, result := range results {
		if inRects(rects, result.InstructorID, idx, mode) {
			out = append(out, result)
		}
	}
	return out
}

// InViewport reports whether one instructor has geometry inside vp.
func InViewport(vp domain.Viewport, instructorID string, idx *Index, mode MatchMode) bool {
	return inRects(viewportRects(vp), instructorID, idx, mode)
}

func inRects(rects []rect, instructorID string, idx *Index, mode MatchMode) bool {
	if !idx.HasGeo(instructorID) {
		return false
	}
	for _, pin := range idx.PinsFor(instructorID) {
		for _, r := range rects {
			if r.contains(pin.Lng, pin.Lat) {
				return true
			}
		}
	}
	for _, feature := range idx.FeaturesFor(instructorID) {
		for _, r := range rects {
			if geometryInRect(feature.Geometry, r, mode) {
				return true
			}
		}
	}
	return false
}

func geometryInRect(g geom.T, r rect, mode MatchMode) bool {
	switch shape := g.(type) {
	case *geom.Polygon:
		return polygonInRect(shape, r, mode)
	case *geom.MultiPolygon:
		for i := 0; i < shape.NumPolygons(); i++ {
			if polygonInRect(shape.Polygon(i), r, mode) {
				return true
			}
		}
	}
	return false
}

func polygonInRect(p *geom.Polygon, r rect, mode MatchMode) bool {
	if p == nil || p.NumLinearRings() == 0 {
		return false
	}
	if !p.Bounds().Overlaps(geom.XY, r.bounds()) {
		return false
	}

	for i := 0; i < p.NumLinearRings(); i++ {
		ring := p.LinearRing(i)
		for j := 0; j < ring.NumCoords(); j++ {
			c := ring.Coord(j)
			if r.contains(c.X(), c.Y()) {
				return true
			}
		}
	}
	if mode == MatchVertex {
		return false
	}

	// A viewport corner inside the polygon means the polygon covers it.
	stride := p.Stride()
	for _, corner := range r.corners() {
		point := make(geom.Coord, stride)
		point[0], point[1] = corner[0], corner[1]
		if pointInPolygon(p, point) {
			return true
		}
	}

	// Otherwise an edge must cross the viewport boundary.
	edges := r.corners()
	for i := 0; i < p.NumLinearRings(); i++ {
		ring := p.LinearRing(i)
		n := ring.NumCoords()
		for j := 0; j+1 < n; j++ {
			a, b := ring.Coord(j), ring.Coord(j+1)
			for k := 0; k < 4; k++ {
				c, d := edges[k], edges[(k+1)%4]
				if segmentsIntersect(a.X(), a.Y(), b.X(), b.Y(), c[0], c[1], d[0], d[1]) {
					return true
				}
			}
		}
	}
	return false
}

func pointInPolygon(p *geom.Polygon, point geom.Coord) bool {
	layout := p.Layout()
	if !xy.IsPointInRing(layout, point, p.LinearRing(0).FlatCoords()) {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		if xy.IsPointInRing(layout, point, p.LinearRing(i).FlatCoords()) {
			return false
		}
	}
	return true
}

func orientation(ax, ay, bx, by, cx, cy float64) float64 {
	return (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
}

func onSegment(ax, ay, bx, by, px, py float64) bool {
	return px >= min(ax, bx) && px <= max(ax, bx) && py >= min(ay, by) && py <= max(ay, by)
}

func segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy float64) bool {
	d1 := orientation(cx, cy, dx, dy, ax, ay)
	d2 := orientation(cx, cy, dx, dy, bx, by)
	d3 := orientation(ax, ay, bx, by, cx, cy)
	d4 := orientation(ax, ay, bx, by, dx, dy)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(cx, cy, dx, dy, ax, ay):
		return true
	case d2 == 0 && onSegment(cx, cy, dx, dy, bx, by):
		return true
	case d3 == 0 && onSegment(ax, ay, bx, by, cx, cy):
		return true
	case d4 == 0 && onSegment(ax, ay, bx, by, dx, dy):
		return true
	}
	return false
}
