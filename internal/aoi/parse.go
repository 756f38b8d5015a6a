package aoi

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

func parseGeoJSON(b []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("geojson: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(b)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		var c orb.Collection
		for _, f := range fc.Features {
			if f.Geometry != nil {
				c = append(c, f.Geometry)
			}
		}
		return c, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(b)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		if f.Geometry == nil {
			return orb.Collection{}, nil
		}
		return f.Geometry, nil
	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(b)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		if g.Coordinates == nil && len(g.Geometries) == 0 {
			return orb.Collection{}, nil
		}
		return g.Geometry(), nil
	case "":
		return nil, fmt.Errorf("geojson: missing type")
	}
	return nil, fmt.Errorf("geojson: unsupported type %q", head.Type)
}

func parseWKT(b []byte) (orb.Geometry, error) {
	g, err := wkt.Unmarshal(string(b))
	if err != nil {
		return nil, fmt.Errorf("wkt: %w", err)
	}
	return g, nil
}
