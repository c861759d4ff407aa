package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

func TestBBox_HappyPath_SortedUnique(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 10.70, Y1: 59.90, X2: 10.80, Y2: 59.95, SRID: "EPSG:4326"}

	cells, err := m.CellsForBBox(bb, 8)
	if err != nil {
		t.Fatalf("CellsForBBox err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for bbox")
	}
	if !sort.StringsAreSorted([]string(cells)) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}
}

func TestGeometry_PolygonSubsetOfBBoxAndDeterministic(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 10.70, Y1: 59.90, X2: 10.80, Y2: 59.95, SRID: "EPSG:4326"}
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		10.72, 59.91, 10.78, 59.91, 10.78, 59.94, 10.72, 59.94, 10.72, 59.91,
	}, []int{10})

	res := 9
	cp, err := m.CellsForGeometry(poly, res)
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	cb, err := m.CellsForBBox(bb, res)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if len(cp) == 0 {
		t.Fatalf("expected non-empty polygon coverage")
	}
	if !sort.StringsAreSorted([]string(cp)) || hasDups(cp) {
		t.Fatalf("polygon cells must be sorted + unique")
	}
	cp2, err := m.CellsForGeometry(poly, res)
	if err != nil {
		t.Fatalf("polygon second call: %v", err)
	}
	if !reflect.DeepEqual(cp, cp2) {
		t.Fatalf("expected identical output for identical input")
	}
	if len(cp) > len(cb)+4 {
		t.Fatalf("polygon coverage larger than bbox coverage (unexpected)")
	}
}

func TestGeometry_PointAndLine(t *testing.T) {
	m := New()
	want, err := h3.LatLngToCell(h3.LatLng{Lat: 59.9139, Lng: 10.7522}, 8)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}

	cells, err := m.CellsForGeometry(geom.NewPointFlat(geom.XY, []float64{10.7522, 59.9139}), 8)
	if err != nil {
		t.Fatalf("point: %v", err)
	}
	if len(cells) != 1 || cells[0] != want.String() {
		t.Fatalf("point cells got %v want %s", cells, want)
	}

	line := geom.NewLineStringFlat(geom.XYZ, []float64{10.7522, 59.9139, 12, 10.7522, 59.9139, 13, 10.60, 59.80, 0})
	cells, err = m.CellsForGeometry(line, 8)
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	if len(cells) != 2 {
		t.Fatalf("line vertices must dedupe to 2 cells, got %v", cells)
	}
}

func TestGeometry_TinyPolygonIsNeverEmpty(t *testing.T) {
	m := New()
	tiny := geom.NewPolygonFlat(geom.XY, []float64{
		10.75, 59.91, 10.75001, 59.91, 10.75001, 59.91001, 10.75, 59.91,
	}, []int{8})
	cells, err := m.CellsForGeometry(tiny, 5)
	if err != nil {
		t.Fatalf("tiny: %v", err)
	}
	if len(cells) == 0 {
		t.Fatal("expected the vertex cell at least")
	}
}

func TestBounds_InvalidResolutionAndDegenerateGeometry(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}

	if _, err := m.CellsForBBox(bb, -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CellsForGeometry(geom.NewPointFlat(geom.XY, []float64{1, 2}), 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellsForGeometry(geom.NewPolygon(geom.XY), 8); err == nil {
		t.Fatalf("expected error for degenerate polygon")
	}
	if _, err := m.CellsForGeometry(geom.NewGeometryCollection(), 8); err == nil {
		t.Fatalf("expected error for geometry collection")
	}
	if _, err := m.CellsForGeometry(nil, 8); err == nil {
		t.Fatalf("expected error for nil geometry")
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
