package projection

import "math"

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi

	earthRadius = 6371008.8

	// WGS84
	equatorialRadius    = 6378137.0
	eccentricitySquared = 0.00669438
	utmScaleFactor      = 0.9996
	falseEasting        = 500000.0
	falseNorthing       = 10000000.0
)

const bandLetters = "CDEFGHJKLMNPQRSTUVWX"

// UTMZoneFor returns the zone number containing lon, including the Norway
// and Svalbard exceptions.
func UTMZoneFor(lat, lon float64) int {
	lon = normalizeLon(lon)
	zone := int((lon+180)/6) + 1
	if zone > 60 {
		zone = 60
	}

	if lat >= 56 && lat < 64 && lon >= 3 && lon < 12 {
		return 32
	}
	if lat >= 72 && lat < 84 {
		switch {
		case lon >= 0 && lon < 9:
			return 31
		case lon >= 9 && lon < 21:
			return 33
		case lon >= 21 && lon < 33:
			return 35
		case lon >= 33 && lon < 42:
			return 37
		}
	}
	return zone
}

// BandLetter returns the latitude band letter.
func BandLetter(lat float64) byte {
	if lat < -80 {
		return 'C'
	}
	if lat >= 84 {
		return 'X'
	}
	i := int((lat + 80) / 8)
	if i >= len(bandLetters) {
		i = len(bandLetters) - 1
	}
	return bandLetters[i]
}

// ZoneCentralMeridian is the longitude of the zone's central meridian.
func ZoneCentralMeridian(zone int) float64 {
	return float64(zone-1)*6 - 180 + 3
}

func LatLonToUTM(ll LatLon) UTM {
	return LatLonToUTMZone(ll, UTMZoneFor(ll.Lat, ll.Lon))
}

// LatLonToUTMZone projects ll with the central meridian of zone.
func LatLonToUTMZone(ll LatLon, zone int) UTM {
	e2 := eccentricitySquared
	ep2 := e2 / (1 - e2)

	lat := ll.Lat * deg2rad
	dlon := normalizeLon(ll.Lon-ZoneCentralMeridian(zone)) * deg2rad

	sinLat, cosLat, tanLat := math.Sin(lat), math.Cos(lat), math.Tan(lat)

	n := equatorialRadius / math.Sqrt(1-e2*sinLat*sinLat)
	t := tanLat * tanLat
	c := ep2 * cosLat * cosLat
	a := cosLat * dlon

	m := equatorialRadius * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*lat -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*lat) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*lat) -
		(35*e2*e2*e2/3072)*math.Sin(6*lat))

	easting := utmScaleFactor*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120) + falseEasting

	northing := utmScaleFactor * (m + n*tanLat*(a*a/2+(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))
	if ll.Lat < 0 {
		northing += falseNorthing
	}

	return UTM{
		Easting:  easting,
		Northing: northing,
		Zone:     zone,
		Letter:   BandLetter(ll.Lat),
	}
}

func UTMToLatLon(u UTM) LatLon {
	e2 := eccentricitySquared
	ep2 := e2 / (1 - e2)
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	x := u.Easting - falseEasting
	y := u.Northing
	if !u.Northern() {
		y -= falseNorthing
	}

	m := y / utmScaleFactor
	mu := m / (equatorialRadius * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu + (3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu)

	sinPhi, cosPhi, tanPhi := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	n1 := equatorialRadius / math.Sqrt(1-e2*sinPhi*sinPhi)
	t1 := tanPhi * tanPhi
	c1 := ep2 * cosPhi * cosPhi
	r1 := equatorialRadius * (1 - e2) / math.Pow(1-e2*sinPhi*sinPhi, 1.5)
	d := x / (n1 * utmScaleFactor)

	lat := phi1 - (n1*tanPhi/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d*d*d*d/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d*d*d*d*d*d/720)

	lon := (d - (1+2*t1+c1)*d*d*d/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d*d*d*d*d/120) / cosPhi

	return LatLon{
		Lat: lat * rad2deg,
		Lon: normalizeLon(ZoneCentralMeridian(u.Zone) + lon*rad2deg),
	}
}

func normalizeLon(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon >= 180 {
		lon -= 360
	}
	return lon
}
