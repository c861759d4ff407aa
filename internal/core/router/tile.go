package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wms"
)

type tileResult struct {
	URL     string            `json:"url"`
	Address model.TileAddress `json:"address"`
}

// HandleTile returns the GetMap URL for one tile of a layer.
func HandleTile(logger *slog.Logger, d Deps) http.HandlerFunc {
	return observed("/tile", func(w http.ResponseWriter, r *http.Request) {
		layer, err := d.Catalog.Layer(chi.URLParam(r, "layer"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		src, ok := layer.Source()
		if !ok {
			http.Error(w, "layer has no wms source", http.StatusBadRequest)
			return
		}

		var tc model.TileCoord
		for _, p := range []struct {
			name string
			dst  *int
		}{{"z", &tc.Z}, {"x", &tc.X}, {"y", &tc.Y}} {
			v, err := strconv.Atoi(chi.URLParam(r, p.name))
			if err != nil {
				http.Error(w, "invalid tile "+p.name, http.StatusBadRequest)
				return
			}
			*p.dst = v
		}

		ratio := 1.0
		if raw := strings.TrimSpace(r.URL.Query().Get("pixelRatio")); raw != "" {
			if ratio, err = parseFloat(raw); err != nil || ratio <= 0 {
				http.Error(w, "invalid pixelRatio", http.StatusBadRequest)
				return
			}
		}
		crs := strings.TrimSpace(r.URL.Query().Get("crs"))
		if crs == "" {
			crs = layer.CRS
		}

		addr, err := d.WMS.TileAddress(src, tc, ratio, crs)
		switch {
		case errors.Is(err, wms.ErrMissingTileGrid), errors.Is(err, wms.ErrTileIndexOutOfRange):
			observability.IncAddress("getmap", "no_result")
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			observability.IncAddress("getmap", "error")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u, err := wms.EncodeURL(src.URL, addr.Params)
		if err != nil {
			observability.IncAddress("getmap", "error")
			logger.Error("encode tile url", "layer", layer.Name, "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		observability.IncAddress("getmap", "ok")
		writeJSON(logger, w, http.StatusOK, tileResult{URL: u, Address: addr})
	})
}
