// Package router holds the gateway's HTTP handlers. Every handler validates
// its input, calls into the codec packages and records one HTTP observation.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/mohammed-shakir/ows-codec/internal/cache"
	"github.com/mohammed-shakir/ows-codec/internal/changes"
	"github.com/mohammed-shakir/ows-codec/internal/core/config"
	"github.com/mohammed-shakir/ows-codec/internal/core/executor"
	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/featureinfo"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wms"
)

// EventPublisher receives committed change events. Publish must not block.
type EventPublisher interface {
	Publish(ev changes.Event) bool
}

// Deps are the collaborators shared by the handlers. Cache and Publisher
// are optional.
type Deps struct {
	Cfg       config.Config
	Catalog   *config.Catalog
	Exec      executor.Interface
	Cache     cache.Interface
	Publisher EventPublisher
	Events    changes.Builder
	WMS       wms.Builder
	Rules     featureinfo.Rules
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// observed wraps h with the status writer and records the request under route.
func observed(route string, h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write json response", "err", err)
	}
}

// noInformation answers a lookup that has nothing to report.
func noInformation(w http.ResponseWriter) {
	w.Header().Set("X-Message", "no information available here")
	w.WriteHeader(http.StatusNoContent)
}

// HandleFeatures validates a feature lookup and proxies it as WFS GetFeature.
func HandleFeatures(logger *slog.Logger, d Deps) http.HandlerFunc {
	return observed("/features", func(w http.ResponseWriter, r *http.Request) {
		q, warn, err := ParseQueryRequest(r)
		if warn != "" {
			logger.Warn(warn)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// catalog layers are addressed by name; the upstream wants the type name
		if l, err := d.Catalog.Layer(q.Layer); err == nil && l.WFS != nil && l.WFS.TypeName != "" {
			q.Layer = l.WFS.TypeName
		}
		d.Exec.ForwardGetFeature(w, r, q, r.Header.Get("Accept"))
	})
}

func ParseQueryRequest(r *http.Request) (model.QueryRequest, string, error) {
	var warn string

	layer := strings.TrimSpace(r.URL.Query().Get("layer"))
	if layer == "" {
		return model.QueryRequest{}, "", errors.New("missing required parameter: layer")
	}

	rawBBox := strings.TrimSpace(r.URL.Query().Get("bbox"))
	rawGeom := strings.TrimSpace(r.URL.Query().Get("geometry"))
	filters := strings.TrimSpace(r.URL.Query().Get("filters"))

	// drop bbox if a geometry is given (geometry wins)
	if rawBBox != "" && rawGeom != "" {
		warn = "both bbox and geometry supplied; preferring geometry"
		rawBBox = ""
	}

	var bbox *model.BBox
	if rawBBox != "" {
		bb, err := parseBBOX(rawBBox)
		if err != nil {
			return model.QueryRequest{}, warn, fmt.Errorf("invalid bbox: %w", err)
		}
		bbox = &bb
	}

	var g geom.T
	if rawGeom != "" {
		var err error
		if g, err = parseGeometry(rawGeom); err != nil {
			return model.QueryRequest{}, warn, fmt.Errorf("invalid geometry: %w", err)
		}
	}

	if filters != "" && !isSafeCQL(filters) {
		return model.QueryRequest{}, warn, errors.New("invalid or disallowed cql_filter")
	}

	return model.QueryRequest{
		Layer:    layer,
		BBox:     bbox,
		Geometry: g,
		Filters:  filters,
	}, warn, nil
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 5 {
		return model.BBox{}, errors.New("expected 5 comma-separated values: x1,y1,x2,y2,EPSG:4326")
	}
	xMin, err := parseFloat(parts[0])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x1: %w", err)
	}
	yMin, err := parseFloat(parts[1])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y1: %w", err)
	}
	xMax, err := parseFloat(parts[2])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x2: %w", err)
	}
	yMax, err := parseFloat(parts[3])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y2: %w", err)
	}

	srid := strings.ToUpper(strings.TrimSpace(parts[4]))
	if !strings.HasPrefix(srid, "EPSG:") {
		return model.BBox{}, fmt.Errorf("srid must be an EPSG code (got %q)", srid)
	}
	if srid == "EPSG:4326" {
		if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
			return model.BBox{}, errors.New("longitude must be in [-180,180]")
		}
		if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
			return model.BBox{}, errors.New("latitude must be in [-90,90]")
		}
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

var safeCQLPattern = regexp.MustCompile(`^[\w\s\=\>\<\!\(\)\.\,\'\"\-]+$`)

func isSafeCQL(s string) bool {
	if len(s) > 500 {
		return false
	}
	return safeCQLPattern.MatchString(s)
}

// parseGeometry reads a GeoJSON geometry in lon/lat.
func parseGeometry(raw string) (geom.T, error) {
	var g geom.T
	if err := geojson.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	switch t := g.(type) {
	case *geom.Point, *geom.LineString, *geom.Polygon, *geom.MultiPoint, *geom.MultiLineString, *geom.MultiPolygon:
		return geom.SetSRID(t, 4326)
	case nil:
		return nil, errors.New("empty geometry")
	default:
		return nil, fmt.Errorf("unsupported GeoJSON geometry %T", g)
	}
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	v, err := parseFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
