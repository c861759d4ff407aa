// Package wms computes WMS GetMap and GetFeatureInfo request addresses for
// tiled and untiled sources.
package wms

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

var (
	ErrMissingTileGrid     = errors.New("no tile grid configured")
	ErrTileIndexOutOfRange = errors.New("tile index outside grid")
)

const (
	DefaultVersion = "1.3.0"

	// untiled GetFeatureInfo queries a small image centered on the click
	featureInfoImageSize = 101
	// DPI that WMS servers assume for a pixel ratio of 1
	baseDPI = 90
)

type ServerType string

const (
	ServerGeoServer ServerType = "geoserver"
	ServerMapServer ServerType = "mapserver"
	ServerQGIS      ServerType = "qgis"
	ServerCarmenta  ServerType = "carmentaserver"
)

// Source is one WMS layer source.
type Source struct {
	URL        string
	Params     map[string]string
	ServerType ServerType
	// Untiled sources serve one image per view.
	Untiled bool
	Grid    *TileGrid
	Gutter  int
}

func (s Source) version() string {
	for k, v := range s.Params {
		if strings.EqualFold(k, "VERSION") && v != "" {
			return v
		}
	}
	return DefaultVersion
}

// FeatureInfoQuery is one "what is here" request.
type FeatureInfoQuery struct {
	Coordinate model.Coordinate
	Resolution float64
	CRS        string
	// Params override source and base parameters, e.g. INFO_FORMAT.
	Params map[string]string
}

// Builder assembles request addresses. The zero value swaps no axes; use
// NewBuilder for the default swap family.
type Builder struct {
	Axis AxisOrder
}

func NewBuilder(axis AxisOrder) Builder { return Builder{Axis: axis} }

// FeatureInfoAddress computes the GetFeatureInfo request for a click.
// Untiled sources and versions other than 1.3.0 use a 101x101 image centered
// on the click. Tiled 1.3.0 sources query the tile containing the click.
func (b Builder) FeatureInfoAddress(src Source, q FeatureInfoQuery) (model.TileAddress, error) {
	if q.Resolution <= 0 || math.IsNaN(q.Resolution) || math.IsInf(q.Resolution, 0) {
		return model.TileAddress{}, fmt.Errorf("invalid resolution %v", q.Resolution)
	}
	version := src.version()
	if src.Untiled || version != DefaultVersion {
		return b.untiledFeatureInfo(src, q, version), nil
	}

	if src.Grid == nil {
		return model.TileAddress{}, ErrMissingTileGrid
	}
	grid := *src.Grid
	z := grid.ZForResolution(q.Resolution)
	res, ok := grid.Resolution(z)
	if !ok {
		return model.TileAddress{}, fmt.Errorf("%w: z=%d levels=%d", ErrTileIndexOutOfRange, z, len(grid.Resolutions))
	}
	tc := grid.TileCoordForCoordAndZ(q.Coordinate, z)
	ext := grid.TileExtent(tc)
	size := grid.tileSize()
	if src.Gutter != 0 {
		size += 2 * src.Gutter
		ext = ext.Buffer(res * float64(src.Gutter))
	}

	params := mergeParams(featureInfoBase(src), src.Params, q.Params)
	setPixel(params, version, q.Coordinate, ext, res)
	b.assemble(params, src, ext, size, size, 1, q.CRS)
	return model.TileAddress{
		TileCoord:  &tc,
		Extent:     ext,
		Resolution: res,
		Width:      size,
		Height:     size,
		Params:     params,
	}, nil
}

func (b Builder) untiledFeatureInfo(src Source, q FeatureInfoQuery, version string) model.TileAddress {
	ext := model.ForViewAndSize(q.Coordinate, q.Resolution, featureInfoImageSize, featureInfoImageSize)
	params := mergeParams(featureInfoBase(src), src.Params, q.Params)
	setPixel(params, version, q.Coordinate, ext, q.Resolution)
	b.assemble(params, src, ext, featureInfoImageSize, featureInfoImageSize, 1, q.CRS)
	return model.TileAddress{
		Extent:     ext,
		Resolution: q.Resolution,
		Width:      featureInfoImageSize,
		Height:     featureInfoImageSize,
		Params:     params,
	}
}

// FeatureInfoURL is FeatureInfoAddress serialized against the source URL.
func (b Builder) FeatureInfoURL(src Source, q FeatureInfoQuery) (string, error) {
	addr, err := b.FeatureInfoAddress(src, q)
	if err != nil {
		return "", err
	}
	return EncodeURL(src.URL, addr.Params)
}

// TileAddress computes the GetMap request for one grid tile.
func (b Builder) TileAddress(src Source, tc model.TileCoord, pixelRatio float64, crs string) (model.TileAddress, error) {
	if src.Grid == nil {
		return model.TileAddress{}, ErrMissingTileGrid
	}
	grid := *src.Grid
	res, ok := grid.Resolution(tc.Z)
	if !ok {
		return model.TileAddress{}, fmt.Errorf("%w: z=%d levels=%d", ErrTileIndexOutOfRange, tc.Z, len(grid.Resolutions))
	}
	// hints only make sense for servers we know how to ask
	if pixelRatio <= 0 || src.ServerType == "" {
		pixelRatio = 1
	}
	ext := grid.TileExtent(tc)
	size := grid.tileSize()
	if src.Gutter != 0 {
		size += 2 * src.Gutter
		ext = ext.Buffer(res * float64(src.Gutter))
	}
	w := size
	if pixelRatio != 1 {
		w = int(math.Round(float64(size) * pixelRatio))
	}

	params := mergeParams(map[string]string{
		"SERVICE":     "WMS",
		"VERSION":     DefaultVersion,
		"REQUEST":     "GetMap",
		"FORMAT":      "image/png",
		"TRANSPARENT": "true",
	}, src.Params)
	b.assemble(params, src, ext, w, w, pixelRatio, crs)
	return model.TileAddress{
		TileCoord:  &tc,
		Extent:     ext,
		Resolution: res,
		Width:      w,
		Height:     w,
		Params:     params,
	}, nil
}

func (b Builder) TileURL(src Source, tc model.TileCoord, pixelRatio float64, crs string) (string, error) {
	addr, err := b.TileAddress(src, tc, pixelRatio, crs)
	if err != nil {
		return "", err
	}
	return EncodeURL(src.URL, addr.Params)
}

func featureInfoBase(src Source) map[string]string {
	base := map[string]string{
		"SERVICE":     "WMS",
		"VERSION":     DefaultVersion,
		"REQUEST":     "GetFeatureInfo",
		"FORMAT":      "image/png",
		"TRANSPARENT": "true",
	}
	for k, v := range src.Params {
		if strings.EqualFold(k, "LAYERS") {
			base["QUERY_LAYERS"] = v
		}
	}
	return base
}

// mergeParams copies layers left to right into one map with upper-cased keys.
func mergeParams(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, l := range layers {
		for k, v := range l {
			out[strings.ToUpper(k)] = v
		}
	}
	return out
}

func setPixel(params map[string]string, version string, c model.Coordinate, ext model.Extent, res float64) {
	i := int(math.Floor((c.X - ext[0]) / res))
	j := int(math.Floor((ext[3] - c.Y) / res))
	if isV13(version) {
		params["I"], params["J"] = strconv.Itoa(i), strconv.Itoa(j)
	} else {
		params["X"], params["Y"] = strconv.Itoa(i), strconv.Itoa(j)
	}
}

// assemble fills the parameters every map-image request shares, including
// the axis-order corrected BBOX.
func (b Builder) assemble(params map[string]string, src Source, ext model.Extent, w, h int, pixelRatio float64, crs string) {
	params["WIDTH"] = strconv.Itoa(w)
	params["HEIGHT"] = strconv.Itoa(h)

	v13 := isV13(params["VERSION"])
	if v13 {
		params["CRS"] = crs
	} else {
		params["SRS"] = crs
	}
	if _, ok := params["STYLES"]; !ok {
		params["STYLES"] = ""
	}

	if pixelRatio != 1 {
		dpi := baseDPI * pixelRatio
		switch src.ServerType {
		case ServerGeoServer:
			opt := "dpi:" + strconv.Itoa(int(dpi+0.5))
			if cur := params["FORMAT_OPTIONS"]; cur != "" {
				opt = cur + ";" + opt
			}
			params["FORMAT_OPTIONS"] = opt
		case ServerMapServer:
			params["MAP_RESOLUTION"] = formatNumber(dpi)
		case ServerQGIS, ServerCarmenta:
			params["DPI"] = formatNumber(dpi)
		}
	}

	bb := b.Axis.bbox(ext, crs, v13)
	params["BBOX"] = formatNumber(bb[0]) + "," + formatNumber(bb[1]) + "," + formatNumber(bb[2]) + "," + formatNumber(bb[3])
}

// isV13 reports whether version is 1.3 or later.
func isV13(version string) bool {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major > 1 || (major == 1 && minor >= 3)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EncodeURL appends params to base, keeping any query base already carries.
func EncodeURL(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
