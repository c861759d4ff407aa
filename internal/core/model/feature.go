package model

import (
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type DecodedFeature struct {
	ID         string
	LayerHint  string
	Attributes Properties
	Geometry   geom.T
}

type decodedFeatureJSON struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Layer      string            `json:"layer,omitempty"`
	Properties Properties        `json:"properties"`
	Geometry   *geojson.Geometry `json:"geometry"`
}

// MarshalJSON writes the feature as a GeoJSON Feature with an extra layer member.
func (f DecodedFeature) MarshalJSON() ([]byte, error) {
	out := decodedFeatureJSON{
		Type:       "Feature",
		ID:         f.ID,
		Layer:      f.LayerHint,
		Properties: f.Attributes,
	}
	if out.Properties == nil {
		out.Properties = Properties{}
	}
	if f.Geometry != nil {
		g, err := geojson.Encode(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("encode geometry of %q: %w", f.ID, err)
		}
		out.Geometry = g
	}
	return json.Marshal(out)
}
