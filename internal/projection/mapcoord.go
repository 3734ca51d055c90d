package projection

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupported means the coordinate and zoom combination is outside the
// domain of a projection family.
var ErrUnsupported = errors.New("projection unsupported")

// GZ17 is the world width in pixels at 1 metre per pixel.
const GZ17 = 131072

// MaxScale bounds slippy zoom levels.
const MaxScale = 17

// MapCoord identifies a tile relative to a source. Z is a sub index used by
// families where Scale alone is ambiguous, e.g. the UTM zone.
type MapCoord struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Z     int `json:"z"`
	Scale int `json:"scale"`
}

func (m MapCoord) String() string {
	return fmt.Sprintf("%d/%d/%d@%d", m.X, m.Y, m.Z, m.Scale)
}

// Family is one projection from geographic coordinates to tile indices.
type Family interface {
	DrawMode() DrawMode
	ToMapCoord(c Coord, xmpp, ympp float64) (MapCoord, error)
	ToCenter(m MapCoord) Coord
	// Coarser returns the scale n levels further out, where each level halves
	// the tile grid along both axes.
	Coarser(scale, n int) int
	// Mpp is the native metres per pixel of scale.
	Mpp(scale int) float64
}

func GZ(n int) float64 {
	return math.Ldexp(1, n)
}

// MercLat maps a latitude to the Mercator y axis, in degrees.
func MercLat(lat float64) float64 {
	return rad2deg * math.Log(math.Tan(math.Pi/4+0.5*deg2rad*lat))
}

// DemercLat is the inverse of MercLat.
func DemercLat(y float64) float64 {
	return rad2deg * math.Atan(math.Sinh(deg2rad*y))
}

const mppMargin = 0.01

// MppToScale returns the log2 scale of mpp: 0 for 1 mpp up to 17 for
// 131072 mpp, and -1 to -5 for sub metre resolutions.
func MppToScale(mpp float64) (int, bool) {
	for i := 0; i <= MaxScale; i++ {
		if math.Abs(GZ(i)-mpp) < mppMargin {
			return i, true
		}
	}
	for i := 0; i <= 5; i++ {
		if math.Abs(1/GZ(i)-mpp) < 0.000001 {
			return -i, true
		}
	}
	return 0, false
}

// MppToZoomLevel converts metres per pixel to an OSM zoom level.
// Unsupported values map to 17.
func MppToZoomLevel(mpp float64) int {
	s, ok := MppToScale(mpp)
	if !ok {
		return 17
	}
	z := 17 - s
	if z < 0 {
		return 17
	}
	return z
}

// ZoomLevelToMpp is the metres per pixel of an OSM zoom level.
func ZoomLevelToMpp(zoom int) float64 {
	return GZ(17 - zoom)
}

// SnapMpp rounds mpp to the nearest power of two.
func SnapMpp(mpp float64) float64 {
	if mpp <= 0 {
		return 1
	}
	return GZ(int(math.Round(math.Log2(mpp))))
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

// floorIndex applies the tie break used by every family: the tile index is
// the floor of the computed value.
func floorIndex(v float64) int {
	return int(math.Floor(v))
}
