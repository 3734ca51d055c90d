package projection

import (
	"math"
	"strings"
)

// KH is the quadtree tiling of the legacy keyhole satellite service. Scale s
// is the 2^s mpp level, from 0 (most detailed) to 14.
type KH struct{}

var _ Family = KH{}

func (KH) DrawMode() DrawMode { return DrawModeLatLon }

const khMaxScale = 14

func khScale(mpp float64) (int, bool) {
	for i := 0; i <= khMaxScale; i++ {
		if math.Abs(GZ(i)-mpp) < mppMargin {
			return i, true
		}
	}
	return 0, false
}

func (KH) ToMapCoord(c Coord, xmpp, ympp float64) (MapCoord, error) {
	if c.Mode != ModeLatLon {
		return MapCoord{}, unsupported("kh tiles need lat/lon coordinates")
	}
	if xmpp != ympp {
		return MapCoord{}, unsupported("non square zoom %gx%g", xmpp, ympp)
	}
	scale, ok := khScale(xmpp)
	if !ok {
		return MapCoord{}, unsupported("kh has no %g mpp level", xmpp)
	}
	half := GZ(16 - scale)
	return MapCoord{
		X:     int(half + c.LL.Lon/180*half),
		Y:     int(half - c.LL.Lat/180*half),
		Z:     0,
		Scale: scale,
	}, nil
}

func (KH) ToCenter(m MapCoord) Coord {
	half := GZ(16 - m.Scale)
	lon := (float64(m.X) + 0.5 - half) / half * 180
	lat := (half - float64(m.Y) - 0.5) / half * 180
	return NewLatLon(lat, lon)
}

func (KH) Coarser(scale, n int) int { return scale + n }

func (KH) Mpp(scale int) float64 { return GZ(scale) }

// KHEncode builds the quadtree path of a tile: 't' for the root followed by
// one of q, r, t, s per level from 16 down to scale.
func KHEncode(x, y, scale int) string {
	size := 1 << (17 - scale)
	if y < 0 || y >= size {
		return "tqq"
	}
	x %= size
	if x < 0 {
		x += size
	}

	var b strings.Builder
	b.Grow(18 - scale)
	b.WriteByte('t')
	for i := 16; i >= scale; i-- {
		size >>= 1
		switch {
		case x < size && y < size:
			b.WriteByte('q')
		case y < size:
			b.WriteByte('r')
			x -= size
		case x < size:
			b.WriteByte('t')
			y -= size
		default:
			b.WriteByte('s')
			x -= size
			y -= size
		}
	}
	return b.String()
}
