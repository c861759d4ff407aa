package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

// Mapper maps WGS84 lon/lat geometry to H3 cells.
type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	// Build a rectangular loop (lon,lat in EPSG:4326). v4 wants degrees.
	outer := h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}
	return polyfill(outer, nil, res, nil)
}

// CellsForGeometry covers g with cells. Points and line vertices map to the
// cell containing them; polygons are filled and their vertices added so
// polygons smaller than a cell are never empty.
func (m *Mapper) CellsForGeometry(g geom.T, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errors.New("nil geometry")
	}
	set := make(map[string]struct{})
	if err := cover(g, res, set); err != nil {
		return nil, err
	}
	return sorted(set), nil
}

func cover(g geom.T, res int, set map[string]struct{}) error {
	switch t := g.(type) {
	case *geom.Point, *geom.MultiPoint, *geom.LineString, *geom.MultiLineString:
		return addVertices(t.FlatCoords(), t.Stride(), res, set)
	case *geom.Polygon:
		return coverPolygon(t, res, set)
	case *geom.MultiPolygon:
		for i := range t.NumPolygons() {
			if err := coverPolygon(t.Polygon(i), res, set); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported geometry %T", g)
	}
}

func coverPolygon(p *geom.Polygon, res int, set map[string]struct{}) error {
	if p.NumLinearRings() == 0 {
		return errors.New("empty polygon")
	}
	outer := toLoop(p.LinearRing(0))
	if len(outer) < 3 {
		return errors.New("outer ring has < 3 distinct vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < p.NumLinearRings(); i++ {
		h := toLoop(p.LinearRing(i))
		if len(h) < 3 {
			return fmt.Errorf("hole %d has < 3 distinct vertices", i-1)
		}
		holes = append(holes, h)
	}
	if _, err := polyfill(outer, holes, res, set); err != nil {
		return err
	}
	return addVertices(p.LinearRing(0).FlatCoords(), p.Stride(), res, set)
}

func addVertices(flat []float64, stride, res int, set map[string]struct{}) error {
	for i := 0; i+1 < len(flat); i += stride {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: flat[i+1], Lng: flat[i]}, res)
		if err != nil {
			return fmt.Errorf("h3 cell: %w", err)
		}
		set[c.String()] = struct{}{}
	}
	return nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop converts a ring to an h3.GeoLoop in degrees, dropping the closing
// vertex when the ring is explicitly closed.
func toLoop(r *geom.LinearRing) h3.GeoLoop {
	flat, stride := r.FlatCoords(), r.Stride()
	loop := make(h3.GeoLoop, 0, len(flat)/max(stride, 1))
	for i := 0; i+1 < len(flat); i += stride {
		loop = append(loop, h3.LatLng{Lat: flat[i+1], Lng: flat[i]})
	}
	if len(loop) >= 2 {
		last := loop[len(loop)-1]
		first := loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

// polyfill adds the cells of one polygon to set, or returns them sorted when
// set is nil.
func polyfill(outer h3.GeoLoop, holes []h3.GeoLoop, res int, set map[string]struct{}) (model.Cells, error) {
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}
	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	if set != nil {
		for _, idx := range indexes {
			set[idx.String()] = struct{}{}
		}
		return nil, nil
	}
	own := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		own[idx.String()] = struct{}{}
	}
	return sorted(own), nil
}

func sorted(set map[string]struct{}) model.Cells {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
