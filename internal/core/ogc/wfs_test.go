package ogc

import (
	"net/url"
	"strings"
	"testing"

	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

func TestBuildGetFeatureParams_WithBBox(t *testing.T) {
	q := model.QueryRequest{
		Layer: "demo:NR_polygon",
		BBox:  &model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
	}
	v := BuildGetFeatureParams(q)
	assertHas := func(k, want string) {
		if got := v.Get(k); got != want {
			t.Fatalf("param %q got %q want %q", k, got, want)
		}
	}
	assertHas("service", "WFS")
	assertHas("request", "GetFeature")
	assertHas("typeNames", "demo:NR_polygon")
	assertHas("bbox", "11.000000,55.000000,12.000000,56.000000,EPSG:4326")
	assertHas("outputFormat", "application/json")
}

func TestBuildGetFeatureParams_WithGeometry(t *testing.T) {
	poly := geom.NewPolygonFlat(geom.XY, []float64{11, 55, 12, 55, 12, 56, 11, 56, 11, 55}, []int{10})
	q := model.QueryRequest{
		Layer:    "demo:NR_polygon",
		BBox:     &model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
		Geometry: poly,
		Filters:  "name <> ''",
	}
	v := BuildGetFeatureParams(q)
	cql := v.Get("cql_filter")
	if !strings.Contains(cql, "INTERSECTS(geom, SRID=4326;POLYGON") || !strings.HasPrefix(cql, "(name <> '') AND (") {
		t.Fatalf("expected polygon INTERSECTS combined with filters; got %q", cql)
	}
	if got := v.Get("bbox"); got != "" {
		t.Fatalf("bbox must be empty when geometry is provided; got %q", got)
	}
}

func TestIntersectsFilter_UsesGeometrySRID(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{600000, 6640000}).SetSRID(25833)
	got, err := IntersectsFilter("the_geom", pt)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "INTERSECTS(the_geom, SRID=25833;POINT (600000 6640000))" {
		t.Fatalf("filter got %q", got)
	}
}

func TestOWSEndpoint(t *testing.T) {
	base := "http://localhost:8080/geoserver"
	want := "http://localhost:8080/geoserver/ows"
	if got := OWSEndpoint(base); got != want {
		t.Fatalf("OWSEndpoint got %q want %q", got, want)
	}
	if _, err := url.Parse(OWSEndpoint(base)); err != nil {
		t.Fatalf("invalid URL from OWSEndpoint: %v", err)
	}
}
