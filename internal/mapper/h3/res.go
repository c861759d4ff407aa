package h3mapper

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

func (m *Mapper) ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}

	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}

	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

// Coarsen lifts cells one resolution at a time until at most limit remain or
// resolution 0 is reached. It returns the cells and their final resolution.
func (m *Mapper) Coarsen(cells model.Cells, res, limit int) (model.Cells, int, error) {
	if limit <= 0 || len(cells) <= limit {
		return cells, res, nil
	}
	cur := cells
	for r := res - 1; r >= 0; r-- {
		set := make(map[string]struct{}, len(cur))
		for _, c := range cur {
			p, err := m.ToParent(c, r)
			if err != nil {
				return nil, 0, err
			}
			set[p] = struct{}{}
		}
		cur = sorted(set)
		if len(cur) <= limit {
			return cur, r, nil
		}
	}
	return cur, 0, nil
}
