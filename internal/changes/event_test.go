package changes

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wfst"
)

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestBuilder_Events(t *testing.T) {
	req := model.TransactionRequest{TypeName: "topp:roads", SrsName: "EPSG:4326"}
	req.Add(
		model.FeatureChange{Op: model.OpDelete, ID: "roads.3"},
		model.FeatureChange{Op: model.OpInsert, Geometry: geom.NewPointFlat(geom.XY, []float64{10.75, 59.91})},
		model.FeatureChange{Op: model.OpUpdate, ID: "roads.2"},
	)
	b := NewBuilder(8, 0)
	b.Now = fixedNow

	evs := b.Events("roads", req, wfst.Summary{Inserted: 1, InsertedIDs: []string{"roads.9"}})

	type row struct{ Op, ID string }
	var got []row
	for _, e := range evs {
		got = append(got, row{e.Op, e.ID})
		if e.Layer != "roads" || e.TypeName != "topp:roads" || !e.TS.Equal(fixedNow()) {
			t.Fatalf("event header %+v", e)
		}
	}
	want := []row{{"insert", "roads.9"}, {"update", "roads.2"}, {"delete", "roads.3"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	ins := evs[0]
	if len(ins.Cells) != 1 || ins.H3Res != 8 {
		t.Fatalf("insert cells %v res %d", ins.Cells, ins.H3Res)
	}
	if len(ins.Geometry) == 0 {
		t.Fatal("insert geometry missing")
	}
	if evs[1].Cells != nil || evs[1].Geometry != nil {
		t.Fatal("update without geometry must carry no cells")
	}
}

func TestBuilder_ProjectedGeometryHasNoCells(t *testing.T) {
	req := model.TransactionRequest{TypeName: "ar5", SrsName: "EPSG:25833"}
	req.Add(model.FeatureChange{Op: model.OpInsert, Geometry: geom.NewPointFlat(geom.XY, []float64{600000, 6640000})})
	evs := NewBuilder(8, 0).Events("ar5", req, wfst.Summary{})
	if len(evs) != 1 || evs[0].Cells != nil || len(evs[0].Geometry) == 0 {
		t.Fatalf("got %+v", evs)
	}
}

func TestBuilder_CoarsensLargePolygons(t *testing.T) {
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		10.0, 59.0, 11.0, 59.0, 11.0, 60.0, 10.0, 60.0, 10.0, 59.0,
	}, []int{10})
	req := model.TransactionRequest{TypeName: "ar5", SrsName: "CRS:84"}
	req.Add(model.FeatureChange{Op: model.OpUpdate, ID: "ar5.1", Geometry: poly})

	evs := NewBuilder(7, 16).Events("ar5", req, wfst.Summary{})
	if len(evs) != 1 {
		t.Fatalf("got %d events", len(evs))
	}
	if n := len(evs[0].Cells); n == 0 || n > 16 {
		t.Fatalf("cells %d not within limit", n)
	}
	if evs[0].H3Res >= 7 {
		t.Fatalf("expected coarser res, got %d", evs[0].H3Res)
	}
}

func TestIsLonLat(t *testing.T) {
	for srs, want := range map[string]bool{
		"EPSG:4326": true, "crs:84": true, "EPSG:25833": false, "": false,
	} {
		if got := IsLonLat(srs); got != want {
			t.Fatalf("IsLonLat(%q) got %v", srs, got)
		}
	}
}
