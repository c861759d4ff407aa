// Package model defines core domain types shared across the codec and the gateway.
package model

import (
	"fmt"
	"strconv"

	"github.com/twpayne/go-geom"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// QueryRequest is a WFS GetFeature lookup. Geometry, when set, becomes an
// INTERSECTS filter and wins over BBox.
type QueryRequest struct {
	Layer    string
	BBox     *BBox
	Geometry geom.T
	Filters  string
}

// Coordinate is a map position in the view's coordinate system.
type Coordinate struct {
	X, Y float64
}

// Extent is minX, minY, maxX, maxY in natural (x,y) order.
type Extent [4]float64

func (e Extent) Width() float64  { return e[2] - e[0] }
func (e Extent) Height() float64 { return e[3] - e[1] }

// Buffer grows the extent by d on every side.
func (e Extent) Buffer(d float64) Extent {
	return Extent{e[0] - d, e[1] - d, e[2] + d, e[3] + d}
}

// ForViewAndSize returns the extent of an image of size w x h pixels centered on c.
func ForViewAndSize(c Coordinate, resolution float64, w, h int) Extent {
	dx := resolution * float64(w) / 2
	dy := resolution * float64(h) / 2
	return Extent{c.X - dx, c.Y - dy, c.X + dx, c.Y + dy}
}

type TileCoord struct {
	Z, X, Y int
}

func (t TileCoord) String() string {
	return strconv.Itoa(t.Z) + "/" + strconv.Itoa(t.X) + "/" + strconv.Itoa(t.Y)
}

// TileAddress is everything needed to serialize one map-image request.
type TileAddress struct {
	TileCoord  *TileCoord        `json:"tileCoord,omitempty"`
	Extent     Extent            `json:"extent"`
	Resolution float64           `json:"resolution"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Params     map[string]string `json:"params"`
}

type Cells []string
