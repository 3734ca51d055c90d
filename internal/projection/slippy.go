package projection

import "math"

// Slippy is the OSM web Mercator tiling. Scale is the OSM zoom level.
type Slippy struct{}

var _ Family = Slippy{}

func (Slippy) DrawMode() DrawMode { return DrawModeMercator }

// SlippyScale converts a viewport zoom in metres per pixel to a zoom level.
func SlippyScale(xmpp, ympp float64) (int, error) {
	if xmpp != ympp {
		return 0, unsupported("non square zoom %gx%g", xmpp, ympp)
	}
	if xmpp <= 0 {
		return 0, unsupported("zoom %g", xmpp)
	}
	scale := int(math.Round(math.Log2(GZ17 / xmpp)))
	if scale < 0 || scale > MaxScale {
		return 0, unsupported("slippy zoom %d outside [0,%d]", scale, MaxScale)
	}
	return scale, nil
}

func (Slippy) ToMapCoord(c Coord, xmpp, ympp float64) (MapCoord, error) {
	if c.Mode != ModeLatLon {
		return MapCoord{}, unsupported("slippy tiles need lat/lon coordinates")
	}
	scale, err := SlippyScale(xmpp, ympp)
	if err != nil {
		return MapCoord{}, err
	}

	n := GZ(scale)
	x := floorIndex((c.LL.Lon + 180) / 360 * n)
	y := floorIndex((180 - MercLat(c.LL.Lat)) / 360 * n)

	return MapCoord{X: clampTile(x, n), Y: clampTile(y, n), Z: 0, Scale: scale}, nil
}

func (Slippy) ToCenter(m MapCoord) Coord {
	n := GZ(m.Scale)
	lon := (float64(m.X)+0.5)/n*360 - 180
	lat := DemercLat(180 - (float64(m.Y)+0.5)/n*360)
	return NewLatLon(lat, lon)
}

func (Slippy) Coarser(scale, n int) int { return scale - n }

func (Slippy) Mpp(scale int) float64 { return ZoomLevelToMpp(scale) }

// TMS is the plate carree tiling used by TMS lat/lon sources: the world is
// 2^scale tiles wide and half as many high.
type TMS struct{}

var _ Family = TMS{}

func (TMS) DrawMode() DrawMode { return DrawModeLatLon }

func (TMS) ToMapCoord(c Coord, xmpp, ympp float64) (MapCoord, error) {
	if c.Mode != ModeLatLon {
		return MapCoord{}, unsupported("tms tiles need lat/lon coordinates")
	}
	scale, err := SlippyScale(xmpp, ympp)
	if err != nil {
		return MapCoord{}, err
	}

	n := GZ(scale)
	x := floorIndex((c.LL.Lon + 180) / 360 * n)
	y := floorIndex((90 - c.LL.Lat) / 360 * n)
	return MapCoord{X: x, Y: y, Z: 0, Scale: scale}, nil
}

func (TMS) ToCenter(m MapCoord) Coord {
	n := GZ(m.Scale)
	lon := (float64(m.X)+0.5)/n*360 - 180
	lat := 90 - (float64(m.Y)+0.5)/n*360
	return NewLatLon(lat, lon)
}

func (TMS) Coarser(scale, n int) int { return scale - n }

func (TMS) Mpp(scale int) float64 { return ZoomLevelToMpp(scale) }

// clampTile keeps latitudes beyond the Mercator limit on the edge rows.
func clampTile(v int, n float64) int {
	if v < 0 {
		return 0
	}
	if max := int(n) - 1; v > max {
		return max
	}
	return v
}
