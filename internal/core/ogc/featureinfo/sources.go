package featureinfo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/gml"
)

// source is one recognized response shape. The set of variants is closed.
type source interface {
	format() Format
	features() ([]model.DecodedFeature, error)
}

type (
	gmlSource struct {
		feats []model.DecodedFeature
		diag  error
	}
	rasterCollectionSource  struct{ root *etree.Element }
	vendorFieldsSource      struct{ root *etree.Element }
	vendorCollectionsSource struct{ root *etree.Element }
	mapServerSource         struct{ root *etree.Element }
	geoJSONSource           struct{ body []byte }
	plainTextSource         struct {
		text string
		at   model.Coordinate
	}
)

func (gmlSource) format() Format               { return FormatGML }
func (rasterCollectionSource) format() Format  { return FormatRasterCollection }
func (vendorFieldsSource) format() Format      { return FormatVendorFields }
func (vendorCollectionsSource) format() Format { return FormatVendorCollections }
func (mapServerSource) format() Format         { return FormatMapServerGML }
func (geoJSONSource) format() Format           { return FormatGeoJSON }
func (plainTextSource) format() Format         { return FormatPlainText }

const unknownLayer = "unknownLayerIssue"

func (s gmlSource) features() ([]model.DecodedFeature, error) { return s.feats, s.diag }

// standardFeatures reads a WFS/GML feature collection: featureMember,
// featureMembers and member containers, ids from fid or gml:id.
func standardFeatures(root *etree.Element) ([]model.DecodedFeature, error) {
	var (
		out  []model.DecodedFeature
		errs []error
	)
	for _, el := range memberFeatures(root) {
		f := model.DecodedFeature{
			ID:        attrValue(el, "fid", "id"),
			LayerHint: el.Tag,
		}
		g, attrs, err := readChildren(el, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("feature %q: %w", f.ID, err))
		}
		f.Geometry, f.Attributes = g, attrs
		out = append(out, f)
	}
	return out, errors.Join(errs...)
}

// synthesizeMissingIDs gives members without fid or gml:id an id of the
// form <localName>.fid<index>, index being the member's position.
func synthesizeMissingIDs(feats []model.DecodedFeature) []model.DecodedFeature {
	for i := range feats {
		if feats[i].ID == "" {
			feats[i].ID = fmt.Sprintf("%s.fid%d", feats[i].LayerHint, i)
		}
	}
	return feats
}

// rasterCollectionSource is a FeatureCollection whose members have no id.
// Indexes run across the whole response.
func (s rasterCollectionSource) features() ([]model.DecodedFeature, error) {
	var (
		out  []model.DecodedFeature
		errs []error
	)
	for i, el := range memberFeatures(s.root) {
		f := model.DecodedFeature{
			ID:        fmt.Sprintf("%s.fid%d", el.Tag, i),
			LayerHint: el.Tag,
		}
		g, attrs, err := readChildren(el, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("feature %q: %w", f.ID, err))
		}
		f.Geometry, f.Attributes = g, attrs
		out = append(out, f)
	}
	return out, errors.Join(errs...)
}

// vendorFieldsSource is an attribute-only response where every FIELDS
// element is one feature and its XML attributes are the values.
func (s vendorFieldsSource) features() ([]model.DecodedFeature, error) {
	var out []model.DecodedFeature
	for i, el := range s.root.FindElements(".//FIELDS") {
		var attrs model.Properties
		for _, a := range el.Attr {
			if a.Space == "xmlns" || a.Key == "xmlns" {
				continue
			}
			attrs = append(attrs, model.Property{Name: a.FullKey(), Value: a.Value})
		}
		out = append(out, model.DecodedFeature{
			ID:         fmt.Sprintf("%s.fid%d", unknownLayer, i),
			Attributes: attrs,
		})
	}
	return out, nil
}

// vendorCollectionsSource has one FeatureInfoCollection per queried layer.
// Ids are namespaced by layer name so indexes never collide.
func (s vendorCollectionsSource) features() ([]model.DecodedFeature, error) {
	var out []model.DecodedFeature
	for _, coll := range s.root.SelectElements("FeatureInfoCollection") {
		layer := coll.SelectAttrValue("layername", "")
		if layer == "" {
			layer = unknownLayer
		}
		for i, fi := range coll.SelectElements("FeatureInfo") {
			out = append(out, model.DecodedFeature{
				ID:         fmt.Sprintf("%s.fid%d", layer, i),
				LayerHint:  layer,
				Attributes: fieldSet(fi),
			})
		}
	}
	return out, nil
}

// fieldSet reads Field/FieldName/FieldValue triples, or plain child
// elements when the server uses tag names as field names.
func fieldSet(fi *etree.Element) model.Properties {
	var attrs model.Properties
	for _, c := range fi.ChildElements() {
		if c.Tag == "Field" {
			name := childText(c, "FieldName")
			if name == "" {
				continue
			}
			attrs = append(attrs, model.Property{Name: name, Value: Coerce(childText(c, "FieldValue"))})
			continue
		}
		attrs = append(attrs, model.Property{Name: c.Tag, Value: Coerce(strings.TrimSpace(c.Text()))})
	}
	return attrs
}

// mapServerSource is MapServer's msGMLOutput: <name>_layer elements holding
// <name>_feature elements.
func (s mapServerSource) features() ([]model.DecodedFeature, error) {
	var (
		out  []model.DecodedFeature
		errs []error
	)
	for _, layerEl := range s.root.ChildElements() {
		name, ok := strings.CutSuffix(layerEl.Tag, "_layer")
		if !ok {
			continue
		}
		i := 0
		for _, fe := range layerEl.ChildElements() {
			if fe.Tag != name+"_feature" {
				continue
			}
			f := model.DecodedFeature{
				ID:        fmt.Sprintf("%s.fid%d", name, i),
				LayerHint: name,
			}
			g, attrs, err := readChildren(fe, true)
			if err != nil {
				errs = append(errs, fmt.Errorf("feature %q: %w", f.ID, err))
			}
			f.Geometry, f.Attributes = g, attrs
			out = append(out, f)
			i++
		}
	}
	return out, errors.Join(errs...)
}

func (s plainTextSource) features() ([]model.DecodedFeature, error) {
	pt, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{s.at.X, s.at.Y})
	if err != nil {
		return nil, fmt.Errorf("fallback point: %w", err)
	}
	return []model.DecodedFeature{{
		ID:         "plaintext.fid0",
		Attributes: model.Properties{{Name: "text", Value: s.text}},
		Geometry:   pt,
	}}, nil
}

// memberFeatures returns the feature elements of a collection in document
// order.
func memberFeatures(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, m := range root.ChildElements() {
		switch m.Tag {
		case "featureMember", "member":
			if cs := m.ChildElements(); len(cs) > 0 {
				out = append(out, cs[0])
			}
		case "featureMembers":
			out = append(out, m.ChildElements()...)
		}
	}
	return out
}

// readChildren splits a feature element's children into one geometry and
// attributes. boundedBy is skipped.
func readChildren(el *etree.Element, coerce bool) (geom.T, model.Properties, error) {
	var (
		g     geom.T
		attrs model.Properties
		errs  []error
	)
	for _, c := range el.ChildElements() {
		if c.Tag == "boundedBy" {
			continue
		}
		if ge := gml.FindGeometry(c); ge != nil {
			if g != nil {
				continue
			}
			dg, err := gml.Decode(ge)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.Tag, err))
				continue
			}
			g = dg
			continue
		}
		text := strings.TrimSpace(c.Text())
		var v any = text
		if coerce {
			v = Coerce(text)
		}
		attrs = append(attrs, model.Property{Name: c.Tag, Value: v})
	}
	return g, attrs, errors.Join(errs...)
}

// Coerce returns s as a float64 when it parses as a finite number and s
// otherwise. Empty text stays a string.
func Coerce(s string) any {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	return f
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

// attrValue matches on local attribute names, so gml:id and id both match "id".
func attrValue(el *etree.Element, keys ...string) string {
	for _, k := range keys {
		for _, a := range el.Attr {
			if a.Key == k && a.Space != "xmlns" {
				return a.Value
			}
		}
	}
	return ""
}
