package projection

import "math"

type ellipsoid struct {
	a  float64
	e2 float64
	e  float64
}

func newEllipsoid(a, invF float64) ellipsoid {
	f := 1 / invF
	e2 := f * (2 - f)
	return ellipsoid{a: a, e2: e2, e: math.Sqrt(e2)}
}

var (
	wgs84 = newEllipsoid(6378137, 298.257223563)
	grs80 = newEllipsoid(6378137, 298.257222101)
)

// q is the authalic latitude function (Snyder 3-12).
func (el ellipsoid) q(phi float64) float64 {
	s := math.Sin(phi)
	es := el.e * s
	return (1 - el.e2) * (s/(1-el.e2*s*s) - (1/(2*el.e))*math.Log((1-es)/(1+es)))
}

// authalicToGeodetic inverts beta = asin(q(phi)/qp). The series (Snyder
// 3-18) is refined with two Newton steps of Snyder 3-16.
func (el ellipsoid) authalicToGeodetic(beta float64) float64 {
	e2, e4 := el.e2, el.e2*el.e2
	e6 := e4 * el.e2
	phi := beta +
		(e2/3+31*e4/180+517*e6/5040)*math.Sin(2*beta) +
		(23*e4/360+251*e6/3780)*math.Sin(4*beta) +
		(761*e6/45360)*math.Sin(6*beta)

	qv := el.q(math.Pi/2) * math.Sin(beta)
	for i := 0; i < 2; i++ {
		s, c := math.Sin(phi), math.Cos(phi)
		if math.Abs(c) < 1e-12 {
			break
		}
		es := el.e * s
		w := 1 - el.e2*s*s
		phi += w * w / (2 * c) * (qv/(1-el.e2) - s/w + (1/(2*el.e))*math.Log((1-es)/(1+es)))
	}
	return phi
}
