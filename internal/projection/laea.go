package projection

import "math"

// laea is the oblique ellipsoidal Lambert azimuthal equal-area projection.
type laea struct {
	code         string
	el           ellipsoid
	lon0         float64
	fe, fn       float64
	qp, rq, d    float64
	sinB1, cosB1 float64
}

func newLAEA(code string, el ellipsoid, lat0, lon0, fe, fn float64) laea {
	phi1 := deg2rad(lat0)
	qp := el.q(math.Pi / 2)
	rq := el.a * math.Sqrt(qp/2)
	beta1 := math.Asin(el.q(phi1) / qp)
	s := math.Sin(phi1)
	m1 := math.Cos(phi1) / math.Sqrt(1-el.e2*s*s)
	return laea{
		code:  code,
		el:    el,
		lon0:  deg2rad(lon0),
		fe:    fe,
		fn:    fn,
		qp:    qp,
		rq:    rq,
		d:     el.a * m1 / (rq * math.Cos(beta1)),
		sinB1: math.Sin(beta1),
		cosB1: math.Cos(beta1),
	}
}

func (p laea) Code() string     { return p.code }
func (p laea) Geographic() bool { return false }
func (p laea) EqualArea() bool  { return true }

func (p laea) Forward(lon, lat float64) (float64, float64) {
	beta := math.Asin(p.el.q(deg2rad(lat)) / p.qp)
	dl := deg2rad(lon) - p.lon0
	sinB, cosB := math.Sin(beta), math.Cos(beta)
	b := p.rq * math.Sqrt(2/(1+p.sinB1*sinB+p.cosB1*cosB*math.Cos(dl)))
	x := b * p.d * cosB * math.Sin(dl)
	y := (b / p.d) * (p.cosB1*sinB - p.sinB1*cosB*math.Cos(dl))
	return x + p.fe, y + p.fn
}

func (p laea) Inverse(x, y float64) (float64, float64) {
	x -= p.fe
	y -= p.fn
	rho := math.Hypot(x/p.d, p.d*y)
	if rho == 0 {
		return rad2deg(p.lon0), rad2deg(p.el.authalicToGeodetic(math.Asin(p.sinB1)))
	}
	ce := 2 * math.Asin(math.Min(1, rho/(2*p.rq)))
	sinCe, cosCe := math.Sin(ce), math.Cos(ce)
	arg := cosCe*p.sinB1 + p.d*y*sinCe*p.cosB1/rho
	beta := math.Asin(math.Max(-1, math.Min(1, arg)))
	lon := p.lon0 + math.Atan2(x*sinCe, p.d*rho*p.cosB1*cosCe-p.d*p.d*y*p.sinB1*sinCe)
	return rad2deg(lon), rad2deg(p.el.authalicToGeodetic(beta))
}
