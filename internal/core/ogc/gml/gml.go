// Package gml encodes go-geom geometries as GML elements and decodes GML 2/3
// geometry elements back into go-geom values.
package gml

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/twpayne/go-geom"
)

const (
	NamespaceGML3  = "http://www.opengis.net/gml"
	NamespaceGML32 = "http://www.opengis.net/gml/3.2"
)

var ErrEmptyPolygon = errors.New("polygon has no rings")

// UnsupportedGeometryKindError is returned for geometries the codec cannot
// serialize. It signals bad local data, not a recoverable condition.
type UnsupportedGeometryKindError struct {
	Kind string
}

func (e *UnsupportedGeometryKindError) Error() string {
	return fmt.Sprintf("unsupported geometry kind %s", e.Kind)
}

// KindOf names a geometry value the way error messages and metrics report it.
func KindOf(g geom.T) string {
	if isNil(g) {
		return "nil"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", g), "*geom.")
}

type Codec struct {
	// Prefix of every emitted element; "gml" when empty.
	Prefix string
	// CurveSurface emits MultiCurve/MultiSurface instead of the GML 3.1
	// MultiLineString/MultiPolygon aggregates.
	CurveSurface bool
}

var defaultCodec = Codec{Prefix: "gml"}

func Encode(g geom.T, srsName string) (*etree.Element, error) {
	return defaultCodec.Encode(g, srsName)
}

// Encode returns exactly one outer geometry element. srsName goes on the
// outer element only.
func (c Codec) Encode(g geom.T, srsName string) (*etree.Element, error) {
	el, err := c.encode(g)
	if err != nil {
		return nil, err
	}
	if srsName != "" {
		el.CreateAttr("srsName", srsName)
	}
	return el, nil
}

func (c Codec) tag(local string) string {
	p := c.Prefix
	if p == "" {
		p = "gml"
	}
	return p + ":" + local
}

// isNil also catches a nil pointer stored in a non-nil geom.T.
func isNil(g geom.T) bool {
	if g == nil {
		return true
	}
	v := reflect.ValueOf(g)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (c Codec) encode(g geom.T) (*etree.Element, error) {
	if isNil(g) {
		return nil, &UnsupportedGeometryKindError{Kind: "nil"}
	}
	switch t := g.(type) {
	case *geom.Point:
		el := etree.NewElement(c.tag("Point"))
		c.positions(el.CreateElement(c.tag("pos")), t.Layout(), t.FlatCoords())
		return el, nil

	case *geom.LineString:
		el := etree.NewElement(c.tag("LineString"))
		c.positions(el.CreateElement(c.tag("posList")), t.Layout(), t.FlatCoords())
		return el, nil

	case *geom.Polygon:
		return c.polygon(t)

	case *geom.MultiPoint:
		el := etree.NewElement(c.tag("MultiPoint"))
		for i := 0; i < t.NumPoints(); i++ {
			p, err := c.encode(t.Point(i))
			if err != nil {
				return nil, err
			}
			el.CreateElement(c.tag("pointMember")).AddChild(p)
		}
		return el, nil

	case *geom.MultiLineString:
		outer, member := "MultiLineString", "lineStringMember"
		if c.CurveSurface {
			outer, member = "MultiCurve", "curveMember"
		}
		el := etree.NewElement(c.tag(outer))
		for i := 0; i < t.NumLineStrings(); i++ {
			ls, err := c.encode(t.LineString(i))
			if err != nil {
				return nil, err
			}
			el.CreateElement(c.tag(member)).AddChild(ls)
		}
		return el, nil

	case *geom.MultiPolygon:
		outer, member := "MultiPolygon", "polygonMember"
		if c.CurveSurface {
			outer, member = "MultiSurface", "surfaceMember"
		}
		el := etree.NewElement(c.tag(outer))
		for i := 0; i < t.NumPolygons(); i++ {
			p, err := c.polygon(t.Polygon(i))
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", i, err)
			}
			el.CreateElement(c.tag(member)).AddChild(p)
		}
		return el, nil

	default:
		return nil, &UnsupportedGeometryKindError{Kind: KindOf(g)}
	}
}

func (c Codec) polygon(p *geom.Polygon) (*etree.Element, error) {
	n := p.NumLinearRings()
	if n == 0 {
		return nil, ErrEmptyPolygon
	}
	el := etree.NewElement(c.tag("Polygon"))
	c.ring(el.CreateElement(c.tag("exterior")), p.LinearRing(0))
	// interiors only when holes exist
	for i := 1; i < n; i++ {
		c.ring(el.CreateElement(c.tag("interior")), p.LinearRing(i))
	}
	return el, nil
}

func (c Codec) ring(container *etree.Element, r *geom.LinearRing) {
	lr := container.CreateElement(c.tag("LinearRing"))
	c.positions(lr.CreateElement(c.tag("posList")), r.Layout(), r.FlatCoords())
}

func (c Codec) positions(el *etree.Element, layout geom.Layout, flat []float64) {
	dims := 2
	if layout.ZIndex() >= 0 {
		dims = 3
		el.CreateAttr("srsDimension", "3")
	}
	el.SetText(FormatPositions(flat, layout.Stride(), dims))
}

// FormatPositions joins the first dims components of every stride-sized
// coordinate with single spaces, at full precision.
func FormatPositions(flat []float64, stride, dims int) string {
	if stride <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(flat) * 12)
	for i := 0; i+stride <= len(flat); i += stride {
		for d := 0; d < dims && d < stride; d++ {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(flat[i+d], 'f', -1, 64))
		}
	}
	return b.String()
}
