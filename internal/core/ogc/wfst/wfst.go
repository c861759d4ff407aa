// Package wfst builds WFS-T transaction documents from feature changes.
package wfst

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/gml"
)

const (
	DefaultPrefix  = "feature"
	DefaultVersion = "1.1.0"
)

var ErrMissingFeatureID = errors.New("feature id is required for update and delete")

// vocabulary holds the namespaces and element names that differ between
// WFS 1.x and 2.x.
type vocabulary struct {
	wfsNS       string
	gmlNS       string
	filterNS    string
	filterPfx   string
	idElement   string
	idAttr      string
	propertyRef string
	gml         gml.Codec
}

func vocabularyFor(version string) vocabulary {
	if strings.HasPrefix(strings.TrimSpace(version), "2") {
		return vocabulary{
			wfsNS:       "http://www.opengis.net/wfs/2.0",
			gmlNS:       gml.NamespaceGML32,
			filterNS:    "http://www.opengis.net/fes/2.0",
			filterPfx:   "fes",
			idElement:   "ResourceId",
			idAttr:      "rid",
			propertyRef: "ValueReference",
			gml:         gml.Codec{Prefix: "gml", CurveSurface: true},
		}
	}
	return vocabulary{
		wfsNS:       "http://www.opengis.net/wfs",
		gmlNS:       gml.NamespaceGML3,
		filterNS:    "http://www.opengis.net/ogc",
		filterPfx:   "ogc",
		idElement:   "FeatureId",
		idAttr:      "fid",
		propertyRef: "Name",
		gml:         gml.Codec{Prefix: "gml"},
	}
}

// SplitTypeName returns prefix and local name of a qualified type name.
// The prefix defaults to DefaultPrefix.
func SplitTypeName(typeName string) (prefix, local string) {
	typeName = strings.TrimSpace(typeName)
	if i := strings.LastIndex(typeName, ":"); i >= 0 {
		prefix, local = typeName[:i], typeName[i+1:]
	} else {
		local = typeName
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix, local
}

// Build assembles the transaction document. Inserts come first, then
// updates, then deletes. An unsupported geometry aborts the whole build.
func Build(req model.TransactionRequest) (*etree.Document, error) {
	version := strings.TrimSpace(req.Version)
	if version == "" {
		version = DefaultVersion
	}
	voc := vocabularyFor(version)

	prefix, local := SplitTypeName(req.TypeName)
	if local == "" {
		return nil, errors.New("type name is required")
	}
	nsURI := strings.TrimSpace(req.NamespaceURI)
	if nsURI == "" {
		nsURI = "http://" + prefix
	}
	geomName := strings.TrimSpace(req.GeometryName)
	if geomName == "" {
		geomName = "geometry"
	}
	qualified := prefix + ":" + local

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("wfs:Transaction")
	root.CreateAttr("service", "WFS")
	root.CreateAttr("version", version)
	root.CreateAttr("xmlns:wfs", voc.wfsNS)
	root.CreateAttr("xmlns:gml", voc.gmlNS)
	root.CreateAttr("xmlns:"+voc.filterPfx, voc.filterNS)
	root.CreateAttr("xmlns:"+prefix, nsURI)

	for i, c := range req.Inserts {
		feat := etree.NewElement(qualified)
		for _, p := range c.Properties {
			text, ok := valueText(p.Value)
			if !ok {
				continue
			}
			feat.CreateElement(prefix + ":" + p.Name).SetText(text)
		}
		if c.Geometry != nil {
			g, err := voc.gml.Encode(c.Geometry, req.SrsName)
			if err != nil {
				return nil, fmt.Errorf("insert %d: %w", i, err)
			}
			feat.CreateElement(prefix + ":" + geomName).AddChild(g)
		}
		root.CreateElement("wfs:Insert").AddChild(feat)
	}

	for i, c := range req.Updates {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("update %d: %w", i, ErrMissingFeatureID)
		}
		upd := etree.NewElement("wfs:Update")
		upd.CreateAttr("typeName", qualified)
		n := 0
		for _, p := range c.Properties {
			text, ok := valueText(p.Value)
			if !ok {
				continue
			}
			prop := upd.CreateElement("wfs:Property")
			prop.CreateElement("wfs:" + voc.propertyRef).SetText(p.Name)
			prop.CreateElement("wfs:Value").SetText(text)
			n++
		}
		if c.Geometry != nil {
			g, err := voc.gml.Encode(c.Geometry, req.SrsName)
			if err != nil {
				return nil, fmt.Errorf("update %d (%s): %w", i, c.ID, err)
			}
			prop := upd.CreateElement("wfs:Property")
			prop.CreateElement("wfs:" + voc.propertyRef).SetText(geomName)
			prop.CreateElement("wfs:Value").AddChild(g)
			n++
		}
		if n == 0 {
			// nothing to change; an empty Update is invalid
			continue
		}
		upd.AddChild(voc.idFilter(c.ID))
		root.AddChild(upd)
	}

	for i, c := range req.Deletes {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("delete %d: %w", i, ErrMissingFeatureID)
		}
		del := root.CreateElement("wfs:Delete")
		del.CreateAttr("typeName", qualified)
		del.AddChild(voc.idFilter(c.ID))
	}

	return doc, nil
}

// BuildBytes is Build followed by serialization.
func BuildBytes(req model.TransactionRequest) ([]byte, error) {
	doc, err := Build(req)
	if err != nil {
		return nil, err
	}
	b, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("write transaction: %w", err)
	}
	return b, nil
}

func (v vocabulary) idFilter(id string) *etree.Element {
	f := etree.NewElement(v.filterPfx + ":Filter")
	f.CreateElement(v.filterPfx+":"+v.idElement).CreateAttr(v.idAttr, id)
	return f
}

// valueText formats a property value. ok is false for values that must be
// omitted: nil and empty strings mean "leave this field alone".
func valueText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case *string:
		if t == nil || *t == "" {
			return "", false
		}
		return *t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case json.Number:
		return t.String(), t.String() != ""
	case fmt.Stringer:
		s := t.String()
		return s, s != ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), true
		}
		return string(b), true
	}
}
