package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/twpayne/go-geom"
)

func TestProperties_UnmarshalKeepsOrder(t *testing.T) {
	var p Properties
	if err := json.Unmarshal([]byte(`{"zeta":1,"alpha":"a","mid":null,"f":2.5,"b":true}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"zeta", "alpha", "mid", "f", "b"}
	if got := strings.Join(p.Names(), ","); got != strings.Join(want, ",") {
		t.Fatalf("order got %q want %q", got, strings.Join(want, ","))
	}
	if v, _ := p.Get("zeta"); v != int64(1) {
		t.Fatalf("zeta got %#v want int64(1)", v)
	}
	if v, _ := p.Get("f"); v != 2.5 {
		t.Fatalf("f got %#v want 2.5", v)
	}
	if v, ok := p.Get("mid"); !ok || v != nil {
		t.Fatalf("mid got %#v,%v want nil,true", v, ok)
	}
}

func TestProperties_MarshalRoundTripOrder(t *testing.T) {
	p := Properties{{Name: "b", Value: "x"}, {Name: "a", Value: 1.5}}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"b":"x","a":1.5}` {
		t.Fatalf("got %s", b)
	}
}

func TestProperties_SetReplaces(t *testing.T) {
	var p Properties
	p.Set("a", 1)
	p.Set("b", 2)
	p.Set("a", 3)
	if len(p) != 2 || p[0].Value != 3 {
		t.Fatalf("unexpected %+v", p)
	}
}

func TestTransactionRequest_AddGroupsByOp(t *testing.T) {
	var r TransactionRequest
	r.Add(
		FeatureChange{Op: OpDelete, ID: "1"},
		FeatureChange{Op: OpInsert, ID: "i1"},
		FeatureChange{Op: OpUpdate, ID: "3"},
		FeatureChange{Op: OpInsert, ID: "i2"},
	)
	var ids []string
	for _, c := range r.Changes() {
		ids = append(ids, c.ID)
	}
	if got := strings.Join(ids, ","); got != "i1,i2,3,1" {
		t.Fatalf("got %q want i1,i2,3,1", got)
	}
}

func TestDecodedFeature_MarshalJSON(t *testing.T) {
	f := DecodedFeature{
		ID:         "roads.1",
		LayerHint:  "roads",
		Attributes: Properties{{Name: "name", Value: "E6"}},
		Geometry:   geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{10, 20}),
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"id":"roads.1"`, `"layer":"roads"`, `"properties":{"name":"E6"}`, `"type":"Point"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %s in %s", want, s)
		}
	}

	b, err = json.Marshal(DecodedFeature{ID: "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"geometry":null`) || !strings.Contains(string(b), `"properties":{}`) {
		t.Fatalf("unexpected %s", b)
	}
}

func TestParseOp(t *testing.T) {
	if op, err := ParseOp(" Update "); err != nil || op != OpUpdate {
		t.Fatalf("got %v,%v", op, err)
	}
	if _, err := ParseOp("upsert"); err == nil {
		t.Fatal("expected error")
	}
}
