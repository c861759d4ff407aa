package featureinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	geojson "github.com/paulmach/go.geojson"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

// orderedProps recovers property order, which a map loses.
type orderedProps struct {
	Type       string           `json:"type"`
	Properties model.Properties `json:"properties"`
	Features   []struct {
		Properties model.Properties `json:"properties"`
	} `json:"features"`
}

func (s geoJSONSource) features() ([]model.DecodedFeature, error) {
	var order orderedProps
	if err := json.Unmarshal(s.body, &order); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormatUnrecognized, err)
	}

	var feats []*geojson.Feature
	switch order.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(s.body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormatUnrecognized, err)
		}
		feats = fc.Features
	case "Feature":
		f, err := geojson.UnmarshalFeature(s.body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormatUnrecognized, err)
		}
		feats = []*geojson.Feature{f}
		order.Features = append(order.Features, struct {
			Properties model.Properties `json:"properties"`
		}{Properties: order.Properties})
	default:
		return nil, fmt.Errorf("%w: json type %q", ErrFormatUnrecognized, order.Type)
	}

	out := make([]model.DecodedFeature, 0, len(feats))
	var errs []error
	for i, f := range feats {
		if f == nil {
			continue
		}
		df := model.DecodedFeature{ID: idString(f.ID)}
		if df.ID == "" {
			df.ID = fmt.Sprintf("feature.fid%d", i)
		} else if j := strings.LastIndexByte(df.ID, '.'); j > 0 && j < len(df.ID)-1 {
			df.LayerHint = df.ID[:j]
		}
		if i < len(order.Features) {
			df.Attributes = order.Features[i].Properties
		}
		if f.Geometry != nil {
			g, err := fromGeoJSON(f.Geometry)
			if err != nil {
				errs = append(errs, fmt.Errorf("feature %q: %w", df.ID, err))
			} else {
				df.Geometry = g
			}
		}
		out = append(out, df)
	}
	return out, errors.Join(errs...)
}

func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// fromGeoJSON converts the reader's geometry into the shared geometry model.
func fromGeoJSON(g *geojson.Geometry) (geom.T, error) {
	switch g.Type {
	case geojson.GeometryPoint:
		l, err := layoutOf(g.Point)
		if err != nil {
			return nil, err
		}
		out, err := geom.NewPoint(l).SetCoords(geom.Coord(g.Point))
		return out, err
	case geojson.GeometryLineString:
		l, err := layoutOf(first1(g.LineString))
		if err != nil {
			return nil, err
		}
		out, err := geom.NewLineString(l).SetCoords(coords1(g.LineString))
		return out, err
	case geojson.GeometryPolygon:
		l, err := layoutOf(first2(g.Polygon))
		if err != nil {
			return nil, err
		}
		out, err := geom.NewPolygon(l).SetCoords(coords2(g.Polygon))
		return out, err
	case geojson.GeometryMultiPoint:
		l, err := layoutOf(first1(g.MultiPoint))
		if err != nil {
			return nil, err
		}
		out, err := geom.NewMultiPoint(l).SetCoords(coords1(g.MultiPoint))
		return out, err
	case geojson.GeometryMultiLineString:
		l, err := layoutOf(first2(g.MultiLineString))
		if err != nil {
			return nil, err
		}
		out, err := geom.NewMultiLineString(l).SetCoords(coords2(g.MultiLineString))
		return out, err
	case geojson.GeometryMultiPolygon:
		var head []float64
		if len(g.MultiPolygon) > 0 {
			head = first2(g.MultiPolygon[0])
		}
		l, err := layoutOf(head)
		if err != nil {
			return nil, err
		}
		cs := make([][][]geom.Coord, len(g.MultiPolygon))
		for i, p := range g.MultiPolygon {
			cs[i] = coords2(p)
		}
		out, err := geom.NewMultiPolygon(l).SetCoords(cs)
		return out, err
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func layoutOf(c []float64) (geom.Layout, error) {
	switch len(c) {
	case 0, 2:
		return geom.XY, nil
	case 3:
		return geom.XYZ, nil
	case 4:
		return geom.XYZM, nil
	default:
		return geom.NoLayout, fmt.Errorf("position with %d values", len(c))
	}
}

func first1(cs [][]float64) []float64 {
	if len(cs) == 0 {
		return nil
	}
	return cs[0]
}

func first2(cs [][][]float64) []float64 {
	if len(cs) == 0 {
		return nil
	}
	return first1(cs[0])
}

func coords1(cs [][]float64) []geom.Coord {
	out := make([]geom.Coord, len(cs))
	for i, c := range cs {
		out[i] = geom.Coord(c)
	}
	return out
}

func coords2(cs [][][]float64) [][]geom.Coord {
	out := make([][]geom.Coord, len(cs))
	for i, c := range cs {
		out[i] = coords1(c)
	}
	return out
}
