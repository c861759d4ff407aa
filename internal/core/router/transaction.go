package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/mohammed-shakir/ows-codec/internal/core/config"
	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/gml"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wfst"
)

const maxTransactionBody = 4 << 20

// transactionBody is the JSON shape clients post to /transaction.
type transactionBody struct {
	Layer   string         `json:"layer"`
	Version string         `json:"version"`
	Changes []changeInJSON `json:"changes"`
}

type changeInJSON struct {
	Op         string           `json:"op"`
	ID         string           `json:"id"`
	Properties model.Properties `json:"properties"`
	Geometry   json.RawMessage  `json:"geometry"`
}

type transactionResult struct {
	Inserted    int      `json:"inserted"`
	Updated     int      `json:"updated"`
	Deleted     int      `json:"deleted"`
	InsertedIDs []string `json:"insertedIds"`
	Events      int      `json:"events"`
}

// HandleTransaction turns posted changes into a WFS-T document. Without
// submit=true the document is returned; with it the document is posted
// upstream and the summary is returned.
func HandleTransaction(logger *slog.Logger, d Deps) http.HandlerFunc {
	return observed("/transaction", func(w http.ResponseWriter, r *http.Request) {
		var body transactionBody
		dec := json.NewDecoder(io.LimitReader(r.Body, maxTransactionBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			http.Error(w, "invalid transaction body: "+err.Error(), http.StatusBadRequest)
			return
		}

		layer, err := d.Catalog.Layer(strings.TrimSpace(body.Layer))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		ctx := r.Context()
		log := logger.With("layer", layer.Name)

		req, err := buildRequest(layer, d.Cfg.WFSVersion, body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		doc, err := wfst.BuildBytes(req)
		if err != nil {
			observability.IncTransaction(req.Version, "rejected")
			var kind *gml.UnsupportedGeometryKindError
			switch {
			case errors.As(err, &kind):
				log.Warn("transaction rejected", "kind", kind.Kind)
				http.Error(w, "changes not saved: "+kind.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, wfst.ErrMissingFeatureID):
				http.Error(w, "changes not saved: "+err.Error(), http.StatusBadRequest)
			default:
				log.Error("build transaction", "err", err)
				http.Error(w, "changes not saved: "+err.Error(), http.StatusInternalServerError)
			}
			return
		}

		if r.URL.Query().Get("submit") != "true" {
			observability.IncTransaction(req.Version, "built")
			w.Header().Set("Content-Type", "text/xml; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(doc)
			return
		}

		if req.Empty() {
			observability.IncTransaction(req.Version, "noop")
			writeJSON(log, w, http.StatusOK, transactionResult{InsertedIDs: []string{}})
			return
		}

		endpoint := ""
		if layer.WFS != nil {
			endpoint = layer.WFS.URL
		}
		resp, err := d.Exec.PostTransaction(ctx, endpoint, doc)
		if err != nil {
			observability.IncTransaction(req.Version, "upstream_error")
			log.Error("post transaction", "err", err)
			http.Error(w, "changes not saved: upstream error", http.StatusBadGateway)
			return
		}
		sum, err := wfst.ParseResponse(resp)
		if err != nil {
			observability.IncTransaction(req.Version, "failed")
			var exc *wfst.ExceptionError
			if errors.As(err, &exc) {
				log.Warn("transaction failed upstream", "err", exc)
			} else {
				log.Error("parse transaction response", "err", err)
			}
			http.Error(w, "changes not saved: "+err.Error(), http.StatusBadGateway)
			return
		}
		observability.IncTransaction(req.Version, "committed")

		if d.Cache != nil {
			if err := d.Cache.InvalidateLayer(ctx, layer.Name); err != nil {
				log.Warn("invalidate feature info cache", "err", err)
			}
		}
		published := 0
		if d.Publisher != nil {
			for _, ev := range d.Events.Events(layer.Name, req, sum) {
				if d.Publisher.Publish(ev) {
					published++
				}
			}
		}

		ids := sum.InsertedIDs
		if ids == nil {
			ids = []string{}
		}
		writeJSON(log, w, http.StatusOK, transactionResult{
			Inserted:    sum.Inserted,
			Updated:     sum.Updated,
			Deleted:     sum.Deleted,
			InsertedIDs: ids,
			Events:      published,
		})
	})
}

func buildRequest(layer config.Layer, defVersion string, body transactionBody) (model.TransactionRequest, error) {
	req, ok := layer.Transaction(defVersion)
	if !ok {
		return model.TransactionRequest{}, fmt.Errorf("layer %q has no wfs type", layer.Name)
	}
	if v := strings.TrimSpace(body.Version); v != "" {
		req.Version = v
	}
	for i, c := range body.Changes {
		op, err := model.ParseOp(c.Op)
		if err != nil {
			return model.TransactionRequest{}, fmt.Errorf("change %d: %w", i, err)
		}
		for _, p := range c.Properties {
			if !isScalar(p.Value) {
				return model.TransactionRequest{}, fmt.Errorf("change %d: property %q: value must be a string, number, boolean or null", i, p.Name)
			}
		}
		fc := model.FeatureChange{Op: op, ID: strings.TrimSpace(c.ID), Properties: c.Properties}
		if len(c.Geometry) > 0 && string(c.Geometry) != "null" {
			var g geom.T
			if err := geojson.Unmarshal(c.Geometry, &g); err != nil {
				return model.TransactionRequest{}, fmt.Errorf("change %d: geometry: %w", i, err)
			}
			fc.Geometry = g
		}
		req.Add(fc)
	}
	return req, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return true
	}
	return false
}
