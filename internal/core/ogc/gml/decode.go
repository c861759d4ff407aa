package gml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/twpayne/go-geom"
)

var errNoPositions = errors.New("no positions")

var geometryTags = map[string]struct{}{
	"Point":           {},
	"LineString":      {},
	"Polygon":         {},
	"MultiPoint":      {},
	"MultiLineString": {},
	"MultiCurve":      {},
	"MultiPolygon":    {},
	"MultiSurface":    {},
}

// IsGeometry reports whether el is a GML geometry element Decode understands.
func IsGeometry(el *etree.Element) bool {
	if el == nil {
		return false
	}
	_, ok := geometryTags[el.Tag]
	return ok
}

// FindGeometry returns the first geometry element at or below el.
func FindGeometry(el *etree.Element) *etree.Element {
	if IsGeometry(el) {
		return el
	}
	for _, c := range el.ChildElements() {
		if g := FindGeometry(c); g != nil {
			return g
		}
	}
	return nil
}

// Decode reads a GML 2 or GML 3 geometry element. Matching is on local names
// so any namespace prefix is accepted.
func Decode(el *etree.Element) (geom.T, error) {
	if el == nil {
		return nil, &UnsupportedGeometryKindError{Kind: "nil"}
	}
	dim := srsDimension(el, 0)
	switch el.Tag {
	case "Point":
		return decodePoint(el, dim)
	case "LineString":
		return decodeLineString(el, dim)
	case "Polygon":
		return decodePolygon(el, dim)
	case "MultiPoint":
		mp := (*geom.MultiPoint)(nil)
		for _, m := range members(el, "pointMember", "pointMembers") {
			p, err := decodePoint(m, dim)
			if err != nil {
				return nil, fmt.Errorf("multipoint member: %w", err)
			}
			if mp == nil {
				mp = geom.NewMultiPoint(p.Layout())
			}
			if err := mp.Push(p); err != nil {
				return nil, fmt.Errorf("multipoint member: %w", err)
			}
		}
		if mp == nil {
			mp = geom.NewMultiPoint(geom.XY)
		}
		return mp, nil
	case "MultiLineString", "MultiCurve":
		mls := (*geom.MultiLineString)(nil)
		for _, m := range members(el, "lineStringMember", "curveMember", "curveMembers") {
			ls, err := decodeLineString(m, dim)
			if err != nil {
				return nil, fmt.Errorf("multilinestring member: %w", err)
			}
			if mls == nil {
				mls = geom.NewMultiLineString(ls.Layout())
			}
			if err := mls.Push(ls); err != nil {
				return nil, fmt.Errorf("multilinestring member: %w", err)
			}
		}
		if mls == nil {
			mls = geom.NewMultiLineString(geom.XY)
		}
		return mls, nil
	case "MultiPolygon", "MultiSurface":
		mp := (*geom.MultiPolygon)(nil)
		for _, m := range members(el, "polygonMember", "surfaceMember", "surfaceMembers") {
			p, err := decodePolygon(m, dim)
			if err != nil {
				return nil, fmt.Errorf("multipolygon member: %w", err)
			}
			if mp == nil {
				mp = geom.NewMultiPolygon(p.Layout())
			}
			if err := mp.Push(p); err != nil {
				return nil, fmt.Errorf("multipolygon member: %w", err)
			}
		}
		if mp == nil {
			mp = geom.NewMultiPolygon(geom.XY)
		}
		return mp, nil
	default:
		return nil, &UnsupportedGeometryKindError{Kind: el.Tag}
	}
}

// members collects the geometry elements held by the given member containers,
// in document order.
func members(el *etree.Element, containers ...string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if !hasTag(c, containers...) {
			continue
		}
		for _, g := range c.ChildElements() {
			if IsGeometry(g) {
				out = append(out, g)
			}
		}
	}
	return out
}

func decodePoint(el *etree.Element, dim int) (*geom.Point, error) {
	if el.Tag != "Point" {
		return nil, &UnsupportedGeometryKindError{Kind: el.Tag}
	}
	coords, layout, err := positions(el, srsDimension(el, dim))
	if err != nil {
		return nil, fmt.Errorf("point: %w", err)
	}
	if len(coords) != 1 {
		return nil, fmt.Errorf("point: expected 1 position, got %d", len(coords))
	}
	p, err := geom.NewPoint(layout).SetCoords(coords[0])
	if err != nil {
		return nil, fmt.Errorf("point: %w", err)
	}
	return p, nil
}

func decodeLineString(el *etree.Element, dim int) (*geom.LineString, error) {
	if el.Tag != "LineString" {
		return nil, &UnsupportedGeometryKindError{Kind: el.Tag}
	}
	coords, layout, err := positions(el, srsDimension(el, dim))
	if err != nil {
		return nil, fmt.Errorf("linestring: %w", err)
	}
	ls, err := geom.NewLineString(layout).SetCoords(coords)
	if err != nil {
		return nil, fmt.Errorf("linestring: %w", err)
	}
	return ls, nil
}

func decodePolygon(el *etree.Element, dim int) (*geom.Polygon, error) {
	if el.Tag != "Polygon" {
		return nil, &UnsupportedGeometryKindError{Kind: el.Tag}
	}
	dim = srsDimension(el, dim)

	var (
		exterior []geom.Coord
		holes    [][]geom.Coord
		layout   geom.Layout
	)
	for _, c := range el.ChildElements() {
		outer := hasTag(c, "exterior", "outerBoundaryIs")
		inner := hasTag(c, "interior", "innerBoundaryIs")
		if !outer && !inner {
			continue
		}
		lr := c.SelectElement("LinearRing")
		if lr == nil {
			return nil, fmt.Errorf("polygon: %s without LinearRing", c.Tag)
		}
		coords, l, err := positions(lr, srsDimension(lr, dim))
		if err != nil {
			return nil, fmt.Errorf("polygon ring: %w", err)
		}
		if outer {
			exterior, layout = coords, l
		} else {
			holes = append(holes, coords)
		}
	}
	if exterior == nil {
		return nil, ErrEmptyPolygon
	}
	rings := make([][]geom.Coord, 0, 1+len(holes))
	rings = append(rings, exterior)
	rings = append(rings, holes...)
	p, err := geom.NewPolygon(layout).SetCoords(rings)
	if err != nil {
		return nil, fmt.Errorf("polygon: %w", err)
	}
	return p, nil
}

// positions reads posList, pos, coordinates or coord children of el.
func positions(el *etree.Element, dim int) ([]geom.Coord, geom.Layout, error) {
	if pl := el.SelectElement("posList"); pl != nil {
		d := srsDimension(pl, dim)
		if d == 0 {
			d = 2
		}
		vals, err := parseFloats(strings.Fields(pl.Text()))
		if err != nil {
			return nil, geom.NoLayout, err
		}
		if len(vals)%d != 0 {
			return nil, geom.NoLayout, fmt.Errorf("posList has %d values, not a multiple of %d", len(vals), d)
		}
		out := make([]geom.Coord, 0, len(vals)/d)
		for i := 0; i < len(vals); i += d {
			out = append(out, geom.Coord(vals[i:i+d]))
		}
		return withLayout(out, d)
	}

	if ps := el.SelectElements("pos"); len(ps) > 0 {
		out := make([]geom.Coord, 0, len(ps))
		for _, p := range ps {
			vals, err := parseFloats(strings.Fields(p.Text()))
			if err != nil {
				return nil, geom.NoLayout, err
			}
			out = append(out, geom.Coord(vals))
		}
		return withLayout(out, len(out[0]))
	}

	if cs := el.SelectElement("coordinates"); cs != nil {
		var out []geom.Coord
		for _, tuple := range strings.Fields(cs.Text()) {
			vals, err := parseFloats(strings.Split(tuple, ","))
			if err != nil {
				return nil, geom.NoLayout, err
			}
			out = append(out, geom.Coord(vals))
		}
		if len(out) == 0 {
			return nil, geom.NoLayout, errNoPositions
		}
		return withLayout(out, len(out[0]))
	}

	if cs := el.SelectElements("coord"); len(cs) > 0 {
		out := make([]geom.Coord, 0, len(cs))
		for _, c := range cs {
			var parts []string
			for _, axis := range []string{"X", "Y", "Z"} {
				if a := c.SelectElement(axis); a != nil {
					parts = append(parts, a.Text())
				}
			}
			vals, err := parseFloats(parts)
			if err != nil {
				return nil, geom.NoLayout, err
			}
			out = append(out, geom.Coord(vals))
		}
		return withLayout(out, len(out[0]))
	}

	return nil, geom.NoLayout, errNoPositions
}

func withLayout(coords []geom.Coord, dim int) ([]geom.Coord, geom.Layout, error) {
	var layout geom.Layout
	switch dim {
	case 2:
		layout = geom.XY
	case 3:
		layout = geom.XYZ
	default:
		return nil, geom.NoLayout, fmt.Errorf("unsupported coordinate dimension %d", dim)
	}
	for i, c := range coords {
		if len(c) != dim {
			return nil, geom.NoLayout, fmt.Errorf("position %d has %d values, want %d", i, len(c), dim)
		}
	}
	return coords, layout, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse coordinate %q: %w", f, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errNoPositions
	}
	return out, nil
}

// srsDimension returns the srsDimension attribute of el, or def.
func srsDimension(el *etree.Element, def int) int {
	for _, a := range el.Attr {
		if a.Key == "srsDimension" || a.Key == "dimension" {
			if n, err := strconv.Atoi(strings.TrimSpace(a.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return def
}

func hasTag(el *etree.Element, tags ...string) bool {
	for _, t := range tags {
		if el.Tag == t {
			return true
		}
	}
	return false
}
