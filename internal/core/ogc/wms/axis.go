package wms

import (
	"sort"
	"strconv"
	"strings"
)

// CodeRange is an inclusive range of EPSG codes.
type CodeRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// NTMRange is ETRS89 / NTM zones 5 to 30. These grids are defined
// northing first, so WMS 1.3.0 wants their BBOX in y,x order.
var NTMRange = CodeRange{From: 5105, To: 5130}

// AxisOrder decides which coordinate systems get a swapped BBOX under WMS
// 1.3.0. The zero value swaps nothing. It is immutable once built.
type AxisOrder struct {
	ranges []CodeRange
}

// NewAxisOrder returns the NTM family plus extra, merged and sorted.
func NewAxisOrder(extra ...CodeRange) AxisOrder {
	all := make([]CodeRange, 0, len(extra)+1)
	all = append(all, NTMRange)
	for _, r := range extra {
		if r.To < r.From {
			r.From, r.To = r.To, r.From
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].From < all[j].From })

	merged := all[:1]
	for _, r := range all[1:] {
		last := &merged[len(merged)-1]
		if r.From <= last.To+1 {
			if r.To > last.To {
				last.To = r.To
			}
			continue
		}
		merged = append(merged, r)
	}
	return AxisOrder{ranges: merged}
}

// Swaps reports whether crs is in a swapped family. It accepts EPSG:n,
// urn:ogc:def:crs:EPSG::n and http://www.opengis.net/def/crs/EPSG/0/n.
func (a AxisOrder) Swaps(crs string) bool {
	code, ok := EPSGCode(crs)
	if !ok {
		return false
	}
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].To >= code })
	return i < len(a.ranges) && a.ranges[i].From <= code
}

// EPSGCode extracts the numeric EPSG code from a CRS identifier.
func EPSGCode(crs string) (int, bool) {
	s := strings.TrimSpace(crs)
	if !strings.Contains(strings.ToUpper(s), "EPSG") {
		return 0, false
	}
	if i := strings.LastIndexAny(s, ":/"); i >= 0 {
		s = s[i+1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// bbox returns the extent in the order the BBOX parameter needs.
func (a AxisOrder) bbox(e [4]float64, crs string, v13 bool) [4]float64 {
	if v13 && a.Swaps(crs) {
		return [4]float64{e[1], e[0], e[3], e[2]}
	}
	return e
}
