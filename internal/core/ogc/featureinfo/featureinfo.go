// Package featureinfo decodes WMS GetFeatureInfo responses from the server
// families seen in practice into a uniform list of features.
package featureinfo

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
)

// ErrFormatUnrecognized marks a response no parser could read. It is a
// diagnostic, never a failure of Decode.
var ErrFormatUnrecognized = errors.New("feature info format unrecognized")

type Format int

const (
	FormatUnrecognized Format = iota
	FormatGML
	FormatRasterCollection
	FormatVendorFields
	FormatVendorCollections
	FormatMapServerGML
	FormatGeoJSON
	FormatPlainText
)

func (f Format) String() string {
	switch f {
	case FormatGML:
		return "gml"
	case FormatRasterCollection:
		return "raster_collection"
	case FormatVendorFields:
		return "vendor_fields"
	case FormatVendorCollections:
		return "vendor_collections"
	case FormatMapServerGML:
		return "mapserver_gml"
	case FormatGeoJSON:
		return "geojson"
	case FormatPlainText:
		return "plain_text"
	default:
		return "unrecognized"
	}
}

// Result is the outcome of one decode. Features is never nil. Diagnostic is
// set when the response was unrecognized or partially unreadable.
type Result struct {
	Format     Format
	Features   []model.DecodedFeature
	Diagnostic error
}

// NormalizeContentType strips parameters and lowercases a media type.
func NormalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isXML(ct string) bool  { return strings.Contains(ct, "xml") || strings.Contains(ct, "gml") }
func isJSON(ct string) bool { return strings.Contains(ct, "json") }
func isText(ct string) bool { return ct == "text/plain" }

// Decode turns a raw response body into features. fallback is the clicked
// coordinate, used as geometry for responses that carry none.
func Decode(body []byte, contentType string, fallback model.Coordinate) Result {
	src, err := classify(body, NormalizeContentType(contentType), fallback)
	if err != nil {
		return unrecognized(err)
	}
	feats, diag := src.features()
	if len(feats) == 0 && errors.Is(diag, ErrFormatUnrecognized) {
		return unrecognized(diag)
	}
	if feats == nil {
		feats = []model.DecodedFeature{}
	}
	return Result{Format: src.format(), Features: feats, Diagnostic: diag}
}

func unrecognized(err error) Result {
	if !errors.Is(err, ErrFormatUnrecognized) {
		err = fmt.Errorf("%w: %w", ErrFormatUnrecognized, err)
	}
	return Result{Format: FormatUnrecognized, Features: []model.DecodedFeature{}, Diagnostic: err}
}

// classify picks the one source variant that matches the response. The
// order of checks is the dispatch order.
func classify(body []byte, ct string, fallback model.Coordinate) (source, error) {
	switch {
	case isXML(ct):
		root, err := parseXML(body)
		if err != nil {
			return nil, err
		}
		// raster sources answer with members that carry no id
		if feats, diag := standardFeatures(root); len(feats) > 0 && feats[0].ID != "" {
			return gmlSource{feats: synthesizeMissingIDs(feats), diag: diag}, nil
		}
		return classifyStructure(root)

	case isJSON(ct):
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, fmt.Errorf("%w: empty json body", ErrFormatUnrecognized)
		}
		return geoJSONSource{body: body}, nil

	case isText(ct):
		return plainTextSource{text: string(body), at: fallback}, nil

	default:
		return nil, fmt.Errorf("%w: content type %q", ErrFormatUnrecognized, ct)
	}
}

// classifyStructure inspects an XML document that the standards parser
// could not use, matching on root and child local names.
func classifyStructure(root *etree.Element) (source, error) {
	switch root.Tag {
	case "FeatureCollection":
		return rasterCollectionSource{root: root}, nil
	case "FeatureInfoResponse":
		if len(root.SelectElements("FeatureInfoCollection")) > 0 {
			return vendorCollectionsSource{root: root}, nil
		}
		if root.FindElement(".//FIELDS") != nil {
			return vendorFieldsSource{root: root}, nil
		}
	case "msGMLOutput":
		return mapServerSource{root: root}, nil
	}
	return nil, fmt.Errorf("%w: xml root %q", ErrFormatUnrecognized, root.Tag)
}

func parseXML(body []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormatUnrecognized, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: empty xml document", ErrFormatUnrecognized)
	}
	return root, nil
}
