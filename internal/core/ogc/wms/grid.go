package wms

import (
	"math"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

const DefaultTileSize = 256

// TileGrid is a top-left origin tile pyramid. Resolutions are in map units
// per pixel, largest first; index is z.
type TileGrid struct {
	Origin      model.Coordinate
	Resolutions []float64
	TileSize    int
}

// GridForExtent builds a grid whose level 0 covers ext with one tile, each
// following level halving the resolution.
func GridForExtent(ext model.Extent, levels, tileSize int) TileGrid {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	size := math.Max(ext.Width(), ext.Height())
	res := make([]float64, levels)
	for z := range res {
		res[z] = size / float64(tileSize) / math.Exp2(float64(z))
	}
	return TileGrid{
		Origin:      model.Coordinate{X: ext[0], Y: ext[3]},
		Resolutions: res,
		TileSize:    tileSize,
	}
}

func (g TileGrid) tileSize() int {
	if g.TileSize <= 0 {
		return DefaultTileSize
	}
	return g.TileSize
}

// ZForResolution returns the level whose resolution is nearest to res.
// On an exact midpoint the finer level wins.
func (g TileGrid) ZForResolution(res float64) int {
	rs := g.Resolutions
	n := len(rs)
	if n == 0 {
		return 0
	}
	if rs[0] <= res {
		return 0
	}
	if res <= rs[n-1] {
		return n - 1
	}
	for i := 1; i < n; i++ {
		if rs[i] == res {
			return i
		}
		if rs[i] < res {
			if rs[i-1]-res < res-rs[i] {
				return i - 1
			}
			return i
		}
	}
	return n - 1
}

// Resolution returns the resolution at z. ok is false when z is outside the grid.
func (g TileGrid) Resolution(z int) (float64, bool) {
	if z < 0 || z >= len(g.Resolutions) {
		return 0, false
	}
	return g.Resolutions[z], true
}

// TileCoordForCoordAndZ returns the tile containing c at level z. Tile y
// grows downward from the origin.
func (g TileGrid) TileCoordForCoordAndZ(c model.Coordinate, z int) model.TileCoord {
	res, _ := g.Resolution(z)
	span := res * float64(g.tileSize())
	if span == 0 {
		return model.TileCoord{Z: z}
	}
	return model.TileCoord{
		Z: z,
		X: int(math.Floor((c.X - g.Origin.X) / span)),
		Y: int(math.Floor((g.Origin.Y - c.Y) / span)),
	}
}

// TileExtent returns the map extent covered by tc.
func (g TileGrid) TileExtent(tc model.TileCoord) model.Extent {
	res, _ := g.Resolution(tc.Z)
	span := res * float64(g.tileSize())
	minX := g.Origin.X + float64(tc.X)*span
	maxY := g.Origin.Y - float64(tc.Y)*span
	return model.Extent{minX, maxY - span, minX + span, maxY}
}
