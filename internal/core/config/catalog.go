package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/featureinfo"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wms"
)

var ErrUnknownLayer = errors.New("unknown layer")

type GridCfg struct {
	Origin      []float64 `yaml:"origin"`
	Resolutions []float64 `yaml:"resolutions"`
	TileSize    int       `yaml:"tile_size"`
	// Extent and Levels derive the grid when Resolutions is empty.
	Extent []float64 `yaml:"extent"`
	Levels int       `yaml:"levels"`
}

type WMSCfg struct {
	URL        string            `yaml:"url"`
	Params     map[string]string `yaml:"params"`
	ServerType string            `yaml:"server_type"`
	Untiled    bool              `yaml:"untiled"`
	Gutter     int               `yaml:"gutter"`
	Grid       *GridCfg          `yaml:"grid"`
	InfoFormat string            `yaml:"info_format"`
}

type WFSCfg struct {
	URL          string `yaml:"url"`
	TypeName     string `yaml:"type_name"`
	Namespace    string `yaml:"namespace"`
	GeometryName string `yaml:"geometry_name"`
	SrsName      string `yaml:"srs_name"`
	Version      string `yaml:"version"`
}

type Layer struct {
	Name string  `yaml:"name"`
	CRS  string  `yaml:"crs"`
	WMS  *WMSCfg `yaml:"wms"`
	WFS  *WFSCfg `yaml:"wfs"`
}

// Catalog is the set of layers the gateway knows, read once at startup.
type Catalog struct {
	Layers           []Layer            `yaml:"layers"`
	FeatureInfoRules []featureinfo.Rule `yaml:"feature_info_rules"`
	AxisSwap         []wms.CodeRange    `yaml:"axis_swap"`

	byName map[string]int
}

func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read layer catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode layer catalog: %w", err)
	}
	c.byName = make(map[string]int, len(c.Layers))
	for i, l := range c.Layers {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return nil, fmt.Errorf("layer %d: missing name", i)
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("layer %q: duplicate name", name)
		}
		if l.WMS != nil {
			if err := l.WMS.validate(); err != nil {
				return nil, fmt.Errorf("layer %q: %w", name, err)
			}
		}
		c.byName[name] = i
	}
	return &c, nil
}

func (g *GridCfg) validate() error {
	if g == nil {
		return nil
	}
	if len(g.Resolutions) > 0 {
		if len(g.Origin) != 2 {
			return errors.New("grid origin needs 2 values")
		}
		return nil
	}
	if len(g.Extent) != 4 || g.Levels <= 0 {
		return errors.New("grid needs resolutions and origin, or extent and levels")
	}
	return nil
}

func (w *WMSCfg) validate() error {
	if strings.TrimSpace(w.URL) == "" {
		return errors.New("wms url is required")
	}
	switch wms.ServerType(w.ServerType) {
	case "", wms.ServerGeoServer, wms.ServerMapServer, wms.ServerQGIS, wms.ServerCarmenta:
	default:
		return fmt.Errorf("unknown server_type %q", w.ServerType)
	}
	return w.Grid.validate()
}

func (c *Catalog) Layer(name string) (Layer, error) {
	if c == nil {
		return Layer{}, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	i, ok := c.byName[name]
	if !ok {
		return Layer{}, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return c.Layers[i], nil
}

// Rules builds the feature-info content type overrides.
func (c *Catalog) Rules() featureinfo.Rules {
	if c == nil {
		return featureinfo.NewRules()
	}
	return featureinfo.NewRules(c.FeatureInfoRules...)
}

// Source converts the layer's WMS block. ok is false for layers without one.
func (l Layer) Source() (wms.Source, bool) {
	w := l.WMS
	if w == nil {
		return wms.Source{}, false
	}
	src := wms.Source{
		URL:        w.URL,
		Params:     make(map[string]string, len(w.Params)),
		ServerType: wms.ServerType(w.ServerType),
		Untiled:    w.Untiled,
		Gutter:     w.Gutter,
	}
	for k, v := range w.Params {
		src.Params[k] = v
	}
	if g := w.Grid; g != nil {
		var grid wms.TileGrid
		if len(g.Resolutions) > 0 {
			grid = wms.TileGrid{
				Origin:      model.Coordinate{X: g.Origin[0], Y: g.Origin[1]},
				Resolutions: append([]float64(nil), g.Resolutions...),
				TileSize:    g.TileSize,
			}
		} else {
			grid = wms.GridForExtent(model.Extent{g.Extent[0], g.Extent[1], g.Extent[2], g.Extent[3]}, g.Levels, g.TileSize)
		}
		src.Grid = &grid
	}
	return src, true
}

// Transaction returns an empty transaction request for the layer's WFS
// block, with version falling back to def.
func (l Layer) Transaction(def string) (model.TransactionRequest, bool) {
	w := l.WFS
	if w == nil || strings.TrimSpace(w.TypeName) == "" {
		return model.TransactionRequest{}, false
	}
	v := w.Version
	if v == "" {
		v = def
	}
	srs := w.SrsName
	if srs == "" {
		srs = l.CRS
	}
	return model.TransactionRequest{
		TypeName:     w.TypeName,
		NamespaceURI: w.Namespace,
		SrsName:      srs,
		GeometryName: w.GeometryName,
		Version:      v,
	}, true
}
