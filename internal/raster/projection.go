package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projection converts between a raster's CRS and WGS84 lon/lat
type Projection interface {
	ToWGS84(p orb.Point) orb.Point
	FromWGS84(p orb.Point) orb.Point
}

type geographic struct{}

func (geographic) ToWGS84(p orb.Point) orb.Point   { return p }
func (geographic) FromWGS84(p orb.Point) orb.Point { return p }

type webMercator struct{}

func (webMercator) ToWGS84(p orb.Point) orb.Point   { return project.Mercator.ToWGS84(p) }
func (webMercator) FromWGS84(p orb.Point) orb.Point { return project.WGS84.ToMercator(p) }

// ProjectionFor returns the projection for an EPSG code
func ProjectionFor(epsg int) (Projection, error) {
	switch {
	case epsg == 4326 || epsg == 4269 || epsg == 4258:
		// NAD83 and ETRS89 are treated as WGS84
		return geographic{}, nil
	case epsg == 3857 || epsg == 900913 || epsg == 3785 || epsg == 102100:
		return webMercator{}, nil
	case epsg >= 32601 && epsg <= 32660:
		return UTM{Zone: epsg - 32600}, nil
	case epsg >= 32701 && epsg <= 32760:
		return UTM{Zone: epsg - 32700, South: true}, nil
	}
	return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, epsg)
}

// WGS84 ellipsoid
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	utmK0   = 0.9996
	utmFE   = 500000.0
	utmFNSo = 10000000.0
)

// UTM is a WGS84 Universal Transverse Mercator zone
type UTM struct {
	Zone  int
	South bool
}

func (u UTM) centralMeridian() float64 {
	return float64(u.Zone-1)*6 - 180 + 3
}

// FromWGS84 projects lon/lat to easting/northing
func (u UTM) FromWGS84(p orb.Point) orb.Point {
	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)
	e4, e6 := e2*e2, e2*e2*e2

	phi := p.Lat() * math.Pi / 180
	lambda := (p.Lon() - u.centralMeridian()) * math.Pi / 180

	sinPhi, cosPhi, tanPhi := math.Sin(phi), math.Cos(phi), math.Tan(phi)
	n := wgs84A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := cosPhi * lambda

	m := wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	x := utmK0*n*(a+(1-t+c)*math.Pow(a, 3)/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + utmFE

	y := utmK0 * (m + n*tanPhi*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if u.South {
		y += utmFNSo
	}

	return orb.Point{x, y}
}

// ToWGS84 unprojects easting/northing to lon/lat
func (u UTM) ToWGS84(p orb.Point) orb.Point {
	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)
	e4, e6 := e2*e2, e2*e2*e2
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	x := p[0] - utmFE
	y := p[1]
	if u.South {
		y -= utmFNSo
	}

	m := y / utmK0
	mu := m / (wgs84A * (1 - e2/4 - 3*e4/64 - 5*e6/256))

	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1, tanPhi1 := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	n1 := wgs84A / math.Sqrt(1-e2*sinPhi1*sinPhi1)
	t1 := tanPhi1 * tanPhi1
	c1 := ep2 * cosPhi1 * cosPhi1
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*sinPhi1*sinPhi1, 1.5)
	d := x / (n1 * utmK0)

	phi := phi1 - (n1*tanPhi1/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)

	lambda := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cosPhi1

	return orb.Point{u.centralMeridian() + lambda*180/math.Pi, phi * 180 / math.Pi}
}
