package projection

import "math"

var (
	expediaAltis = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512}
	// tiles per degree at each altitude
	expediaFreqs = []float64{120, 60, 30, 15, 8, 4, 2, 1, 1, 1}
)

// Expedia tiles are centred on a regular lat/lon lattice whose density
// depends on the altitude code.
type Expedia struct{}

var _ Family = Expedia{}

func (Expedia) DrawMode() DrawMode { return DrawModeExpedia }

func expediaIndex(alti float64) (int, bool) {
	for i, a := range expediaAltis {
		if math.Abs(alti-a)/a < 0.01 {
			return i, true
		}
	}
	return 0, false
}

// ExpediaFreq is the number of tiles per degree at alti, or false when the
// altitude is not served.
func ExpediaFreq(alti int) (float64, bool) {
	i, ok := expediaIndex(float64(alti))
	if !ok {
		return 0, false
	}
	return expediaFreqs[i], true
}

func (Expedia) ToMapCoord(c Coord, xmpp, ympp float64) (MapCoord, error) {
	if c.Mode != ModeLatLon {
		return MapCoord{}, unsupported("expedia tiles need lat/lon coordinates")
	}
	if xmpp != ympp {
		return MapCoord{}, unsupported("non square zoom %gx%g", xmpp, ympp)
	}
	i, ok := expediaIndex(xmpp)
	if !ok {
		return MapCoord{}, unsupported("expedia has no altitude %g", xmpp)
	}
	freq := expediaFreqs[i]
	return MapCoord{
		X:     int((c.LL.Lon+180)*freq + 0.5),
		Y:     int((c.LL.Lat+90)*freq + 0.5),
		Z:     0,
		Scale: int(expediaAltis[i]),
	}, nil
}

func (Expedia) ToCenter(m MapCoord) Coord {
	freq, ok := ExpediaFreq(m.Scale)
	if !ok {
		freq = 1
	}
	return NewLatLon(float64(m.Y)/freq-90, float64(m.X)/freq-180)
}

// Coarser doubles the altitude. The lattice does not nest, so callers only
// use this for display fallbacks.
func (Expedia) Coarser(scale, n int) int { return scale << n }

func (Expedia) Mpp(scale int) float64 { return float64(scale) }
