// Package projection implements the handful of coordinate reference
// systems the pipeline reads and measures in: geographic WGS84 and two
// equal-area projections used for area accounting.
package projection

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Projection converts between geographic lon/lat degrees and a CRS's
// native coordinates.
type Projection interface {
	// Code is the canonical identifier, e.g. "EPSG:6933".
	Code() string
	Geographic() bool
	EqualArea() bool
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
}

// Supported CRS codes.
const (
	WGS84            = "EPSG:4326"
	EASEGrid2Global  = "EPSG:6933"
	ETRS89LAEAEurope = "EPSG:3035"
)

// DefaultEqualArea is the projected CRS used when none is configured.
const DefaultEqualArea = EASEGrid2Global

// Lookup resolves "EPSG:6933", "epsg:6933" or "6933".
func Lookup(code string) (Projection, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	c = strings.TrimPrefix(c, "EPSG:")
	n, err := strconv.Atoi(c)
	if err != nil {
		return nil, fmt.Errorf("unsupported crs %q", code)
	}
	return EPSG(n)
}

// EPSG resolves a numeric EPSG code.
func EPSG(code int) (Projection, error) {
	switch code {
	case 4326:
		return geographic{}, nil
	case 6933:
		return newCEA(EASEGrid2Global, wgs84, 30, 0), nil
	case 3035:
		return newLAEA(ETRS89LAEAEurope, grs80, 52, 10, 4321000, 3210000), nil
	}
	return nil, fmt.Errorf("unsupported crs EPSG:%d", code)
}

// Number returns the numeric EPSG code of p.
func Number(p Projection) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(p.Code(), "EPSG:"))
	return n
}

// Same reports whether two projections are the same CRS.
func Same(a, b Projection) bool { return a.Code() == b.Code() }

// Transform moves a point from one CRS to another through geographic
// coordinates.
func Transform(from, to Projection, x, y float64) (float64, float64) {
	if Same(from, to) {
		return x, y
	}
	lon, lat := from.Inverse(x, y)
	return to.Forward(lon, lat)
}

// Ring projects every vertex of a lon/lat ring into p.
func Ring(r orb.Ring, p Projection) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, pt := range r {
		x, y := p.Forward(pt.Lon(), pt.Lat())
		out[i] = orb.Point{x, y}
	}
	return out
}

// MultiPolygon projects a lon/lat multipolygon into p.
func MultiPolygon(mp orb.MultiPolygon, p Projection) orb.MultiPolygon {
	if p.Geographic() {
		return mp.Clone()
	}
	out := make(orb.MultiPolygon, len(mp))
	for i, poly := range mp {
		np := make(orb.Polygon, len(poly))
		for j, ring := range poly {
			np[j] = Ring(ring, p)
		}
		out[i] = np
	}
	return out
}

type geographic struct{}

func (geographic) Code() string     { return WGS84 }
func (geographic) Geographic() bool { return true }
func (geographic) EqualArea() bool  { return false }

func (geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }

func (geographic) Inverse(x, y float64) (float64, float64) { return x, y }

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }
