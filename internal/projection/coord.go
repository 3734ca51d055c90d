// Package projection converts geographic coordinates to tile indices for the
// projection families map sources are authored for. Everything here is pure.
package projection

import (
	"fmt"
	"math"
)

// Mode tags the representation held by a Coord.
type Mode int

const (
	ModeUTM Mode = iota
	ModeLatLon
)

func (m Mode) String() string {
	switch m {
	case ModeUTM:
		return "utm"
	case ModeLatLon:
		return "latlon"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type UTM struct {
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
	Zone     int     `json:"zone"`
	Letter   byte    `json:"letter"`
}

// Northern reports whether the band letter is in the northern hemisphere.
func (u UTM) Northern() bool {
	return u.Letter >= 'N'
}

// Coord is a geographic coordinate in either representation. Mode says which
// of LL and UTM is authoritative.
type Coord struct {
	Mode Mode   `json:"mode"`
	LL   LatLon `json:"latlon"`
	UTM  UTM    `json:"utm"`
}

func NewLatLon(lat, lon float64) Coord {
	return Coord{Mode: ModeLatLon, LL: LatLon{Lat: lat, Lon: lon}}
}

func NewUTM(u UTM) Coord {
	return Coord{Mode: ModeUTM, UTM: u}
}

// ToLatLon returns the WGS84 latitude and longitude.
func (c Coord) ToLatLon() LatLon {
	if c.Mode == ModeLatLon {
		return c.LL
	}
	return UTMToLatLon(c.UTM)
}

// ToUTM projects into the coordinate's natural zone.
func (c Coord) ToUTM() UTM {
	if c.Mode == ModeUTM {
		return c.UTM
	}
	return LatLonToUTM(c.LL)
}

// ToUTMZone projects into the given zone even when the point lies outside it.
func (c Coord) ToUTMZone(zone int) UTM {
	if c.Mode == ModeUTM && c.UTM.Zone == zone {
		return c.UTM
	}
	return LatLonToUTMZone(c.ToLatLon(), zone)
}

// Convert returns the coordinate in mode m.
func (c Coord) Convert(m Mode) Coord {
	if c.Mode == m {
		return c
	}
	if m == ModeLatLon {
		return Coord{Mode: ModeLatLon, LL: c.ToLatLon()}
	}
	return NewUTM(c.ToUTM())
}

// Equal compares the authoritative representation exactly.
func (c Coord) Equal(o Coord) bool {
	if c.Mode != o.Mode {
		return false
	}
	if c.Mode == ModeLatLon {
		return c.LL == o.LL
	}
	return c.UTM == o.UTM
}

// Diff is the great circle distance between two coordinates in metres.
func (c Coord) Diff(o Coord) float64 {
	a, b := c.ToLatLon(), o.ToLatLon()
	lat1, lat2 := a.Lat*deg2rad, b.Lat*deg2rad
	dlat := lat2 - lat1
	dlon := (b.Lon - a.Lon) * deg2rad
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

func (c Coord) String() string {
	if c.Mode == ModeLatLon {
		return fmt.Sprintf("%.6f,%.6f", c.LL.Lat, c.LL.Lon)
	}
	return fmt.Sprintf("%d%c %.1fE %.1fN", c.UTM.Zone, c.UTM.Letter, c.UTM.Easting, c.UTM.Northing)
}

// DrawMode is the projection family a map source is authored for. The
// viewport must be drawing in the same mode for the source to render.
type DrawMode int

const (
	DrawModeUTM DrawMode = iota
	DrawModeExpedia
	DrawModeMercator
	DrawModeLatLon
)

func (d DrawMode) String() string {
	switch d {
	case DrawModeUTM:
		return "utm"
	case DrawModeExpedia:
		return "expedia"
	case DrawModeMercator:
		return "mercator"
	case DrawModeLatLon:
		return "latlon"
	default:
		return fmt.Sprintf("drawmode(%d)", int(d))
	}
}

// ParseDrawMode is the inverse of DrawMode.String.
func ParseDrawMode(s string) (DrawMode, error) {
	switch s {
	case "utm":
		return DrawModeUTM, nil
	case "expedia":
		return DrawModeExpedia, nil
	case "mercator", "":
		return DrawModeMercator, nil
	case "latlon":
		return DrawModeLatLon, nil
	}
	return 0, fmt.Errorf("unknown draw mode %q", s)
}

// CoordMode is the coordinate representation used when drawing in d.
func (d DrawMode) CoordMode() Mode {
	if d == DrawModeUTM {
		return ModeUTM
	}
	return ModeLatLon
}
