package aoi

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
)

const component = "aoi"

func invalid(id, format string, args ...any) error {
	return apperr.New(apperr.InvalidGeometry, component, id, format, args...)
}

func empty(id, format string, args ...any) error {
	return apperr.New(apperr.EmptyGeometry, component, id, format, args...)
}

// validate closes rings, checks them and orients exterior rings
// counter-clockwise and holes clockwise.
func validate(id string, mp orb.MultiPolygon) (orb.MultiPolygon, error) {
	out := make(orb.MultiPolygon, 0, len(mp))
	var area float64

	for pi, poly := range mp {
		np := make(orb.Polygon, 0, len(poly))
		for ri, ring := range poly {
			if len(ring) == 0 {
				if ri == 0 {
					return nil, empty(id, "polygon %d has an empty exterior ring", pi)
				}
				continue
			}
			r := closeRing(ring)
			if len(r) < 4 {
				return nil, invalid(id, "polygon %d ring %d has %d points, need at least 4", pi, ri, len(r))
			}
			for _, p := range r {
				if !finite(p) {
					return nil, invalid(id, "polygon %d ring %d has a non-finite coordinate", pi, ri)
				}
				if p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
					return nil, invalid(id, "polygon %d ring %d coordinate %v is outside WGS84 bounds", pi, ri, p)
				}
			}
			if selfIntersects(r) {
				return nil, invalid(id, "polygon %d ring %d self-intersects", pi, ri)
			}

			want := orb.CCW
			if ri > 0 {
				want = orb.CW
			}
			if r.Orientation() != want {
				r.Reverse()
			}
			np = append(np, r)
		}
		if len(np) == 0 {
			continue
		}
		area += math.Abs(planar.Area(np))
		out = append(out, np)
	}

	if len(out) == 0 || area == 0 {
		return nil, empty(id, "geometry has zero area")
	}
	return out, nil
}

func closeRing(r orb.Ring) orb.Ring {
	out := append(orb.Ring(nil), r...)
	if !out[0].Equal(out[len(out)-1]) {
		out = append(out, out[0])
	}
	return out
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// selfIntersects reports whether two non-adjacent edges of a closed ring
// touch or cross.
func selfIntersects(r orb.Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
