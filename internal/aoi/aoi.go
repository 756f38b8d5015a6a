// Package aoi parses and validates Areas of Interest.
//
// An AOI arrives as GeoJSON (bare geometry, Feature or FeatureCollection) or
// WKT and is normalized into a single WGS84 MultiPolygon with closed,
// consistently oriented rings.
package aoi

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

// SourceKind records the encoding an AOI was supplied in.
type SourceKind string

const (
	KindGeoJSON SourceKind = "geojson"
	KindWKT     SourceKind = "wkt"
)

// AOI is a validated area of interest. It is never mutated after
// Normalize returns.
type AOI struct {
	ID         string
	Geometry   orb.MultiPolygon
	Bound      orb.Bound
	SourceKind SourceKind
	// Raw is the input exactly as supplied.
	Raw []byte
}

// InputFilename is the name the raw input is stored under in a bundle.
func (a *AOI) InputFilename() string {
	if a.SourceKind == KindWKT {
		return "aoi.wkt"
	}
	return "aoi.geojson"
}

// TileIDs enumerates the grid tiles covering the AOI bbox, sorted.
func (a *AOI) TileIDs(gridDeg int) []string {
	return tiles.IDsForBound(a.Bound, gridDeg)
}

// Contains reports whether a lon/lat point lies inside the AOI.
func (a *AOI) Contains(p orb.Point) bool {
	if !a.Bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(a.Geometry, p)
}

// GeodesicAreaM2 is the area of the AOI geometry on the sphere in m².
func (a *AOI) GeodesicAreaM2() float64 {
	var total float64
	for _, poly := range a.Geometry {
		total += math.Abs(geo.Area(poly))
	}
	return total
}

// Scale returns a copy of the AOI scaled by k around its bbox centre.
func (a *AOI) Scale(k float64) *AOI {
	c := a.Bound.Center()
	mp := a.Geometry.Clone()
	for _, poly := range mp {
		for _, ring := range poly {
			for i, p := range ring {
				ring[i] = orb.Point{c[0] + k*(p[0]-c[0]), c[1] + k*(p[1]-c[1])}
			}
		}
	}
	return &AOI{
		ID:         a.ID,
		Geometry:   mp,
		Bound:      mp.Bound(),
		SourceKind: a.SourceKind,
		Raw:        a.Raw,
	}
}

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeID makes s safe to use as a path segment.
func SanitizeID(s string) string {
	s = strings.Trim(unsafeID.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
	if s == "" || s == "." || s == ".." {
		return "aoi"
	}
	return s
}

// NormalizeFile reads and normalizes the AOI at path. When id is empty the
// file name without extension is used.
func NormalizeFile(path, id string) (*AOI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aoi: %w", err)
	}
	if strings.TrimSpace(id) == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Normalize(id, raw)
}

// Normalize parses raw GeoJSON or WKT into a validated AOI.
func Normalize(id string, raw []byte) (*AOI, error) {
	id = SanitizeID(id)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, invalid(id, "empty input")
	}

	var (
		geom orb.Geometry
		kind SourceKind
		err  error
	)
	if trimmed[0] == '{' {
		kind = KindGeoJSON
		geom, err = parseGeoJSON(trimmed)
	} else {
		kind = KindWKT
		geom, err = parseWKT(trimmed)
	}
	if err != nil {
		return nil, invalid(id, "%v", err)
	}

	mp := polygonal(geom)
	if len(mp) == 0 {
		return nil, empty(id, "geometry has no polygonal part")
	}
	mp, err = validate(id, mp)
	if err != nil {
		return nil, err
	}

	logf(id, "normalized %s aoi: %d polygon(s), bbox %v", kind, len(mp), mp.Bound())
	return &AOI{
		ID:         id,
		Geometry:   mp,
		Bound:      mp.Bound(),
		SourceKind: kind,
		Raw:        append([]byte(nil), raw...),
	}, nil
}

// polygonal flattens geom into its polygons. Points and lines carry no area
// and are dropped.
func polygonal(geom orb.Geometry) orb.MultiPolygon {
	var out orb.MultiPolygon
	switch g := geom.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			out = append(out, g)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if len(p) > 0 {
				out = append(out, p)
			}
		}
	case orb.Ring:
		if len(g) > 0 {
			out = append(out, orb.Polygon{g})
		}
	case orb.Bound:
		out = append(out, g.ToPolygon())
	case orb.Collection:
		for _, member := range g {
			out = append(out, polygonal(member)...)
		}
	}
	return out
}
