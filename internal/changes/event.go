package changes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wfst"
	"github.com/mohammed-shakir/ows-codec/internal/mapper"
	h3mapper "github.com/mohammed-shakir/ows-codec/internal/mapper/h3"
)

// CellMapper covers geometry with cells and can coarsen the result.
type CellMapper interface {
	mapper.Interface
	Coarsen(cells model.Cells, res, limit int) (model.Cells, int, error)
}

// Event is one committed feature change.
type Event struct {
	Layer    string          `json:"layer"`
	TypeName string          `json:"typeName"`
	Op       string          `json:"op"`
	ID       string          `json:"id,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
	H3Res    int             `json:"h3Res,omitempty"`
	Cells    []string        `json:"cells,omitempty"`
	TS       time.Time       `json:"ts"`
}

// Key partitions events by feature; inserts without a server id fall back
// to the layer.
func (e Event) Key() string {
	if e.ID == "" {
		return e.Layer
	}
	return e.Layer + "/" + e.ID
}

// Builder turns a committed transaction into events. Cells are attached
// only for WGS84 lon/lat geometry.
type Builder struct {
	Mapper   CellMapper
	Res      int
	MaxCells int
	Now      func() time.Time
}

func NewBuilder(res, maxCells int) Builder {
	return Builder{Mapper: h3mapper.New(), Res: res, MaxCells: maxCells, Now: time.Now}
}

// Events lists one event per change in document order. Server assigned
// insert ids from sum fill inserts that carried none.
func (b Builder) Events(layer string, req model.TransactionRequest, sum wfst.Summary) []Event {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ts := now().UTC()
	lonLat := IsLonLat(req.SrsName)

	out := make([]Event, 0, len(req.Inserts)+len(req.Updates)+len(req.Deletes))
	for i, c := range req.Changes() {
		ev := Event{
			Layer:    layer,
			TypeName: req.TypeName,
			Op:       c.Op.String(),
			ID:       c.ID,
			TS:       ts,
		}
		if c.Op == model.OpInsert && ev.ID == "" && i < len(sum.InsertedIDs) {
			ev.ID = sum.InsertedIDs[i]
		}
		if c.Geometry != nil {
			if g, err := geojson.Marshal(c.Geometry); err == nil {
				ev.Geometry = g
			}
			if lonLat && b.Mapper != nil {
				if cells, res, err := b.cells(c); err == nil {
					ev.Cells, ev.H3Res = cells, res
				}
			}
		}
		out = append(out, ev)
	}
	return out
}

func (b Builder) cells(c model.FeatureChange) ([]string, int, error) {
	cells, err := b.Mapper.CellsForGeometry(c.Geometry, b.Res)
	if err != nil {
		return nil, 0, fmt.Errorf("h3 cells: %w", err)
	}
	return b.Mapper.Coarsen(cells, b.Res, b.MaxCells)
}

// IsLonLat reports whether srs names WGS84 in lon/lat order.
func IsLonLat(srs string) bool {
	s := strings.ToUpper(strings.TrimSpace(srs))
	switch s {
	case "EPSG:4326", "CRS:84", "OGC:CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84",
		"HTTP://WWW.OPENGIS.NET/DEF/CRS/OGC/1.3/CRS84":
		return true
	}
	return false
}
