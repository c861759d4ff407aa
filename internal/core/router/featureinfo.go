package router

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mohammed-shakir/ows-codec/internal/cache"
	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/featureinfo"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wms"
	mylog "github.com/mohammed-shakir/ows-codec/internal/logger"
)

const (
	defaultInfoFormat = "application/vnd.ogc.gml"
	maxDecodeBody     = 8 << 20
)

type featureInfoResult struct {
	Layer      string                 `json:"layer,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Format     string                 `json:"format"`
	Features   []model.DecodedFeature `json:"features"`
	Diagnostic string                 `json:"diagnostic,omitempty"`
}

func newFeatureInfoResult(res featureinfo.Result) featureInfoResult {
	out := featureInfoResult{Format: res.Format.String(), Features: res.Features}
	if res.Diagnostic != nil {
		out.Diagnostic = res.Diagnostic.Error()
	}
	return out
}

// HandleFeatureInfo answers "what is here" for one layer: it builds the
// GetFeatureInfo URL, fetches it through the cache and decodes the answer.
func HandleFeatureInfo(logger *slog.Logger, d Deps) http.HandlerFunc {
	return observed("/featureinfo", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		layer, err := d.Catalog.Layer(strings.TrimSpace(q.Get("layer")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		ctx := mylog.WithLayer(r.Context(), layer.Name)
		src, ok := layer.Source()
		if !ok {
			http.Error(w, "layer has no wms source", http.StatusBadRequest)
			return
		}

		x, err := queryFloat(r, "x")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		y, err := queryFloat(r, "y")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := queryFloat(r, "resolution")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		crs := strings.TrimSpace(q.Get("crs"))
		if crs == "" {
			crs = layer.CRS
		}
		if crs == "" {
			http.Error(w, "missing required parameter: crs", http.StatusBadRequest)
			return
		}
		infoFormat := strings.TrimSpace(q.Get("info_format"))
		if infoFormat == "" && layer.WMS.InfoFormat != "" {
			infoFormat = layer.WMS.InfoFormat
		}
		if infoFormat == "" {
			infoFormat = defaultInfoFormat
		}

		at := model.Coordinate{X: x, Y: y}
		rawURL, err := d.WMS.FeatureInfoURL(src, wms.FeatureInfoQuery{
			Coordinate: at,
			Resolution: res,
			CRS:        crs,
			Params:     map[string]string{"INFO_FORMAT": infoFormat},
		})
		switch {
		case errors.Is(err, wms.ErrMissingTileGrid), errors.Is(err, wms.ErrTileIndexOutOfRange):
			observability.IncAddress("featureinfo", "no_result")
			logger.DebugContext(ctx, "no feature info address", "err", err)
			noInformation(w)
			return
		case err != nil:
			observability.IncAddress("featureinfo", "error")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		observability.IncAddress("featureinfo", "ok")

		entry, hit := d.lookup(r, layer.Name, rawURL)
		if hit {
			ctx = mylog.WithCacheTier(ctx, "cache")
			w.Header().Set("X-Cache", "HIT")
		} else {
			ctx = mylog.WithCacheTier(ctx, "upstream")
			resp, err := d.Exec.FetchFeatureInfo(ctx, rawURL)
			if err != nil {
				logger.ErrorContext(ctx, "fetch feature info", "err", err)
				http.Error(w, "upstream error", http.StatusBadGateway)
				return
			}
			entry = cache.Entry{ContentType: resp.ContentType, Body: resp.Body}
			if d.Cache != nil {
				d.Cache.Put(ctx, layer.Name, rawURL, entry, d.Cfg.TTLFor(layer.Name))
			}
			w.Header().Set("X-Cache", "MISS")
		}

		ct := d.Rules.ContentType(layer.Name, entry.ContentType)
		decoded := featureinfo.Decode(entry.Body, ct, at)
		observability.ObserveFeatureInfo(decoded.Format.String(), len(decoded.Features))
		if errors.Is(decoded.Diagnostic, featureinfo.ErrFormatUnrecognized) {
			logger.DebugContext(ctx, "feature info not recognized", "content_type", ct, "err", decoded.Diagnostic)
		}
		logger.DebugContext(ctx, "feature info decoded", "format", decoded.Format.String(), "features", len(decoded.Features))

		out := newFeatureInfoResult(decoded)
		out.Layer, out.URL = layer.Name, rawURL
		writeJSON(logger, w, http.StatusOK, out)
	})
}

func (d Deps) lookup(r *http.Request, layer, rawURL string) (cache.Entry, bool) {
	if d.Cache == nil {
		return cache.Entry{}, false
	}
	return d.Cache.Get(r.Context(), layer, rawURL)
}

// HandleDecode decodes a GetFeatureInfo body posted as is. The optional
// layer selects content type rules; x and y give the fallback position.
func HandleDecode(logger *slog.Logger, d Deps) http.HandlerFunc {
	return observed("/featureinfo/decode", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxDecodeBody))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		var at model.Coordinate
		if r.URL.Query().Has("x") || r.URL.Query().Has("y") {
			if at.X, err = queryFloat(r, "x"); err == nil {
				at.Y, err = queryFloat(r, "y")
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		layer := strings.TrimSpace(r.URL.Query().Get("layer"))
		ct := d.Rules.ContentType(layer, r.Header.Get("Content-Type"))

		decoded := featureinfo.Decode(body, ct, at)
		observability.ObserveFeatureInfo(decoded.Format.String(), len(decoded.Features))
		if decoded.Diagnostic != nil {
			logger.Debug("feature info diagnostic", "layer", layer, "content_type", ct, "err", decoded.Diagnostic)
		}
		out := newFeatureInfoResult(decoded)
		out.Layer = layer
		writeJSON(logger, w, http.StatusOK, out)
	})
}
