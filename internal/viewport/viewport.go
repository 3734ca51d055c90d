// Package viewport describes the visible map rectangle and the surface
// tiles are drawn onto.
package viewport

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
)

const (
	eastingOffset = 500000.0
	// degrees per pixel at 1 mpp in the Mercator and lat/lon modes
	degPerPixel = 180.0 / 65536 / 256
	// altiToMpp converts the Expedia altitude code to metres per pixel.
	altiToMpp = 1.4017295
)

// Viewport is the visible rectangle: a centre, a zoom in metres per pixel
// along each axis, and a size in pixels. The centre is held in the
// coordinate mode of DrawMode.
type Viewport struct {
	Center   projection.Coord
	XMpp     float64
	YMpp     float64
	Width    int
	Height   int
	DrawMode projection.DrawMode

	zoneWidth float64
}

func New(center projection.Coord, xmpp, ympp float64, width, height int, mode projection.DrawMode) *Viewport {
	vp := &Viewport{
		Center:   center.Convert(mode.CoordMode()),
		XMpp:     xmpp,
		YMpp:     ympp,
		Width:    width,
		Height:   height,
		DrawMode: mode,
	}
	vp.zoneWidth = vp.utmZoneWidth()
	return vp
}

func (vp *Viewport) CoordMode() projection.Mode {
	return vp.DrawMode.CoordMode()
}

// utmZoneWidth is the easting span of the centre zone at the bottom of
// the screen, where it is widest.
func (vp *Viewport) utmZoneWidth() float64 {
	if vp.CoordMode() != projection.ModeUTM {
		return 0
	}
	u := vp.Center.UTM
	u.Northing -= float64(vp.Height) * vp.YMpp / 2
	ll := projection.UTMToLatLon(u)
	ll.Lon = float64(u.Zone-1)*6 - 180
	edge := projection.LatLonToUTMZone(ll, u.Zone)
	return math.Abs(edge.Easting-eastingOffset) * 2
}

// ScreenToCoord converts a pixel position to a coordinate. In UTM mode
// points beyond the centre zone are returned in their own zone.
func (vp *Viewport) ScreenToCoord(x, y int) projection.Coord {
	midX, midY := float64(vp.Width/2), float64(vp.Height/2)
	dx, dy := float64(x)-midX, midY-float64(y)

	switch vp.DrawMode {
	case projection.DrawModeUTM:
		u := vp.Center.UTM
		u.Easting += dx * vp.XMpp
		if vp.zoneWidth > 0 {
			delta := int(math.Floor((u.Easting-eastingOffset)/vp.zoneWidth + 0.5))
			u.Zone += delta
			u.Easting -= float64(delta) * vp.zoneWidth
		}
		u.Northing += dy * vp.YMpp
		return projection.NewUTM(u)
	case projection.DrawModeExpedia:
		c := vp.Center.LL
		m := metresPerDegree(c.Lat)
		lat := c.Lat + dy*vp.YMpp*altiToMpp/m
		lon := c.Lon + dx*vp.XMpp*altiToMpp/(m*math.Cos(lat*math.Pi/180))
		return projection.NewLatLon(lat, lon)
	case projection.DrawModeMercator:
		c := vp.Center.LL
		lon := c.Lon + degPerPixel*vp.XMpp*dx
		lat := projection.DemercLat(projection.MercLat(c.Lat) + degPerPixel*vp.YMpp*dy)
		return projection.NewLatLon(lat, lon)
	default:
		c := vp.Center.LL
		return projection.NewLatLon(c.Lat+degPerPixel*vp.YMpp*dy, c.Lon+degPerPixel*vp.XMpp*dx)
	}
}

// CoordToScreen converts c to a pixel position. ok is false for a UTM
// coordinate in another zone when the viewport shows a single zone.
func (vp *Viewport) CoordToScreen(c projection.Coord) (x, y int, ok bool) {
	c = c.Convert(vp.CoordMode())
	midX, midY := float64(vp.Width/2), float64(vp.Height/2)

	switch vp.DrawMode {
	case projection.DrawModeUTM:
		center := vp.Center.UTM
		if center.Zone != c.UTM.Zone && vp.IsOneZone() {
			return 0, 0, false
		}
		fx := (c.UTM.Easting-center.Easting)/vp.XMpp + midX -
			float64(center.Zone-c.UTM.Zone)*vp.zoneWidth/vp.XMpp
		fy := midY - (c.UTM.Northing-center.Northing)/vp.YMpp
		return int(fx), int(fy), true
	case projection.DrawModeExpedia:
		center := vp.Center.LL
		m := metresPerDegree(center.Lat)
		fx := midX + (c.LL.Lon-center.Lon)*m*math.Cos(c.LL.Lat*math.Pi/180)/(vp.XMpp*altiToMpp)
		fy := midY + (center.Lat-c.LL.Lat)*m/(vp.YMpp*altiToMpp)
		return int(fx), int(fy), true
	case projection.DrawModeMercator:
		center := vp.Center.LL
		fx := midX + (c.LL.Lon-center.Lon)/(degPerPixel*vp.XMpp)
		fy := midY + (projection.MercLat(center.Lat)-projection.MercLat(c.LL.Lat))/(degPerPixel*vp.YMpp)
		return int(fx), int(fy), true
	default:
		center := vp.Center.LL
		fx := midX + (c.LL.Lon-center.Lon)/(degPerPixel*vp.XMpp)
		fy := midY + (center.Lat-c.LL.Lat)/(degPerPixel*vp.YMpp)
		return int(fx), int(fy), true
	}
}

// Corners returns the upper left and bottom right coordinates.
func (vp *Viewport) Corners() (ul, br projection.Coord) {
	return vp.ScreenToCoord(0, 0), vp.ScreenToCoord(vp.Width, vp.Height)
}

// CornersForZone returns the corners of the whole screen expressed in zone.
func (vp *Viewport) CornersForZone(zone int) (ul, br projection.Coord) {
	center := vp.Center.UTM
	center.Easting -= float64(zone-center.Zone) * vp.zoneWidth
	center.Zone = zone

	halfW := vp.XMpp * float64(vp.Width) / 2
	halfH := vp.YMpp * float64(vp.Height) / 2
	u, b := center, center
	u.Northing += halfH
	u.Easting -= halfW
	b.Northing -= halfH
	b.Easting += halfW
	return projection.NewUTM(u), projection.NewUTM(b)
}

// LeftmostZone is the UTM zone at the left edge of the screen, or 0
// outside UTM mode.
func (vp *Viewport) LeftmostZone() int {
	if vp.CoordMode() != projection.ModeUTM {
		return 0
	}
	return vp.ScreenToCoord(0, 0).UTM.Zone
}

func (vp *Viewport) RightmostZone() int {
	if vp.CoordMode() != projection.ModeUTM {
		return 0
	}
	return vp.ScreenToCoord(vp.Width, 0).UTM.Zone
}

func (vp *Viewport) IsOneZone() bool {
	return vp.LeftmostZone() == vp.RightmostZone()
}

// Bounds is the lon/lat box covering the screen.
func (vp *Viewport) Bounds() orb.Bound {
	corners := []projection.Coord{
		vp.ScreenToCoord(0, 0),
		vp.ScreenToCoord(vp.Width, 0),
		vp.ScreenToCoord(0, vp.Height),
		vp.ScreenToCoord(vp.Width, vp.Height),
	}
	var b orb.Bound
	for i, c := range corners {
		ll := c.ToLatLon()
		p := orb.Point{ll.Lon, ll.Lat}
		if i == 0 {
			b = orb.Bound{Min: p, Max: p}
			continue
		}
		b = b.Extend(p)
	}
	return b
}

// metresPerDegree is the length of a degree of latitude on the ellipsoid.
func metresPerDegree(lat float64) float64 {
	const a = 6378137.0
	const e2 = 0.081082 * 0.081082
	s := math.Sin(lat * math.Pi / 180)
	r := a * (1 - e2) / math.Pow(1-e2*s*s, 1.5)
	return r * math.Pi / 180
}
