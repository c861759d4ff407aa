// Package mapper converts between geometric coordinates and H3 cells.
package mapper

import (
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

type Interface interface {
	CellsForBBox(bb model.BBox, res int) (model.Cells, error)
	CellsForGeometry(g geom.T, res int) (model.Cells, error)
}
