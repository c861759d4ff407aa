// Package ogc holds the request helpers shared by the gateway's upstream calls.
package ogc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

// DefaultGeometryName is the geometry property GeoServer layers usually expose.
const DefaultGeometryName = "geom"

func OWSEndpoint(geoServerBase string) string {
	return strings.TrimRight(geoServerBase, "/") + "/ows"
}

func BuildGetFeatureParams(q model.QueryRequest) url.Values {
	return BuildGetFeatureParamsFormat(q, "application/json")
}

func BuildGetFeatureParamsFormat(q model.QueryRequest, outputFormat string) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeNames", q.Layer)
	if q.BBox != nil && q.Geometry == nil {
		params.Set("bbox", q.BBox.String())
	}
	// geometry wins over bbox and is combined with filters if both present
	cql := q.Filters
	if q.Geometry != nil {
		if f, err := IntersectsFilter(DefaultGeometryName, q.Geometry); err == nil {
			if cql != "" {
				cql = fmt.Sprintf("(%s) AND (%s)", cql, f)
			} else {
				cql = f
			}
		}
	}
	if cql != "" {
		params.Set("cql_filter", cql)
	}
	if strings.TrimSpace(outputFormat) == "" {
		outputFormat = "application/json"
	}
	params.Set("outputFormat", outputFormat)
	return params
}

// IntersectsFilter renders an ECQL INTERSECTS predicate. Geometries without
// an SRID are taken to be EPSG:4326.
func IntersectsFilter(property string, g geom.T) (string, error) {
	text, err := wkt.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("encode wkt: %w", err)
	}
	srid := g.SRID()
	if srid == 0 {
		srid = 4326
	}
	return fmt.Sprintf("INTERSECTS(%s, SRID=%d;%s)", property, srid, text), nil
}
