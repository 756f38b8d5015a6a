package projection

import "math"

// cea is the normal cylindrical equal-area projection on an ellipsoid.
type cea struct {
	code string
	el   ellipsoid
	k0   float64
	lon0 float64
	qp   float64
}

func newCEA(code string, el ellipsoid, latTS, lon0 float64) cea {
	phi := deg2rad(latTS)
	s := math.Sin(phi)
	return cea{
		code: code,
		el:   el,
		k0:   math.Cos(phi) / math.Sqrt(1-el.e2*s*s),
		lon0: deg2rad(lon0),
		qp:   el.q(math.Pi / 2),
	}
}

func (p cea) Code() string     { return p.code }
func (p cea) Geographic() bool { return false }
func (p cea) EqualArea() bool  { return true }

func (p cea) Forward(lon, lat float64) (float64, float64) {
	x := p.el.a * p.k0 * (deg2rad(lon) - p.lon0)
	y := p.el.a * p.el.q(deg2rad(lat)) / (2 * p.k0)
	return x, y
}

func (p cea) Inverse(x, y float64) (float64, float64) {
	arg := 2 * y * p.k0 / (p.el.a * p.qp)
	arg = math.Max(-1, math.Min(1, arg))
	beta := math.Asin(arg)
	lat := p.el.authalicToGeodetic(beta)
	lon := x/(p.el.a*p.k0) + p.lon0
	return rad2deg(lon), rad2deg(lat)
}
