package projection

import "math"

// Terraserver imagery types.
const (
	TerraserverAerial = 1
	TerraserverTopo   = 2
	TerraserverUrban  = 4
)

const terraserverTileSize = 200

// Terraserver tiles UTM space in 200 pixel squares per zone. Scale is the
// server's resolution code: log2(mpp)+10.
type Terraserver struct {
	Type int
}

var _ Family = Terraserver{}

func (Terraserver) DrawMode() DrawMode { return DrawModeUTM }

// TerraserverScale maps metres per pixel to the resolution code, or false
// when the imagery type has no such level.
func TerraserverScale(mpp float64, typ int) (int, bool) {
	t := mpp * 4
	ti := math.Round(t)
	if math.Abs(t-ti) > 0.001 {
		return 0, false
	}
	switch int(ti) {
	case 1:
		if typ != TerraserverUrban {
			return 0, false
		}
		return 8, true
	case 2:
		if typ != TerraserverUrban {
			return 0, false
		}
		return 9, true
	case 4:
		if typ == TerraserverTopo {
			return 0, false
		}
		return 10, true
	}
	for s := 11; s <= 19; s++ {
		if int(ti) == 1<<(s-8) {
			return s, true
		}
	}
	return 0, false
}

// TerraserverMpp is the metres per pixel of a resolution code.
func TerraserverMpp(scale int) float64 {
	return GZ(scale - 10)
}

func (t Terraserver) ToMapCoord(c Coord, xmpp, ympp float64) (MapCoord, error) {
	if c.Mode != ModeUTM {
		return MapCoord{}, unsupported("terraserver tiles need utm coordinates")
	}
	if xmpp != ympp {
		return MapCoord{}, unsupported("non square zoom %gx%g", xmpp, ympp)
	}
	scale, ok := TerraserverScale(xmpp, t.Type)
	if !ok {
		return MapCoord{}, unsupported("terraserver type %d has no %g mpp level", t.Type, xmpp)
	}

	span := terraserverTileSize * xmpp
	return MapCoord{
		X:     floorIndex(math.Trunc(c.UTM.Easting) / span),
		Y:     floorIndex(math.Trunc(c.UTM.Northing) / span),
		Z:     c.UTM.Zone,
		Scale: scale,
	}, nil
}

// ToCenter returns the tile centre. The band letter is not recorded in a
// MapCoord, so northern hemisphere is assumed.
func (Terraserver) ToCenter(m MapCoord) Coord {
	mpp := TerraserverMpp(m.Scale)
	return NewUTM(UTM{
		Easting:  (float64(m.X)*terraserverTileSize + terraserverTileSize/2) * mpp,
		Northing: (float64(m.Y)*terraserverTileSize + terraserverTileSize/2) * mpp,
		Zone:     m.Z,
		Letter:   'N',
	})
}

func (Terraserver) Coarser(scale, n int) int { return scale + n }

func (Terraserver) Mpp(scale int) float64 { return TerraserverMpp(scale) }
