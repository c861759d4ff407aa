package h3mapper

import (
	"testing"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

func TestToParent(t *testing.T) {
	m := New()

	cell, err := h3.LatLngToCell(h3.LatLng{Lat: 63.4305, Lng: 10.3951}, 8)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	cellStr := cell.String()

	p, err := m.ToParent(cellStr, 8)
	if err != nil || p != cellStr {
		t.Fatalf("same-res parent got %q err=%v", p, err)
	}

	p, err = m.ToParent(cellStr, 6)
	if err != nil {
		t.Fatalf("ToParent: %v", err)
	}
	want, _ := cell.Parent(6)
	if p != want.String() {
		t.Fatalf("parent got %s want %s", p, want)
	}

	if _, err := m.ToParent(cellStr, 9); err == nil {
		t.Fatalf("expected error for parentRes > current res")
	}
	if _, err := m.ToParent("not-a-cell", 3); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCoarsen(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 10.70, Y1: 59.90, X2: 10.80, Y2: 59.95, SRID: "EPSG:4326"}
	cells, err := m.CellsForBBox(bb, 9)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if len(cells) <= 10 {
		t.Fatalf("fixture too small: %d cells", len(cells))
	}

	out, res, err := m.Coarsen(cells, 9, 10)
	if err != nil {
		t.Fatalf("Coarsen: %v", err)
	}
	if len(out) > 10 || res >= 9 {
		t.Fatalf("coarsened to %d cells at res %d", len(out), res)
	}

	same, res, err := m.Coarsen(cells, 9, 0)
	if err != nil || res != 9 || len(same) != len(cells) {
		t.Fatalf("no limit must be a no-op, got %d cells res %d err=%v", len(same), res, err)
	}
}
