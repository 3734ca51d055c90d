package mapsource

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
)

// SlippyConfig describes a web Mercator (or TMS) tile server.
type SlippyConfig struct {
	ID         int
	Name       string
	Label      string
	Hostname   string
	URL        string
	Scheme     string
	TileSize   int
	ZoomMin    int
	ZoomMax    int
	Bounds     orb.Bound
	Copyright  string
	License    string
	LicenseURL string
	Extension  string
	Deprecated bool

	// SwitchXY exchanges x and y in the template.
	SwitchXY bool
	IsFTP    bool
	Options  download.Options
}

func (c SlippyConfig) source(fam projection.Family) *Source {
	size := c.TileSize
	if size == 0 {
		size = 256
	}
	ext := c.Extension
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	zmax := c.ZoomMax
	if zmax == 0 {
		zmax = 18
	}
	bounds := c.Bounds
	if bounds.IsZero() {
		bounds = World
	}

	tpl := c.URL
	switchXY := c.SwitchXY
	s := &Source{
		ID:            c.ID,
		Name:          c.Name,
		Label:         c.Label,
		TileSizeX:     size,
		TileSizeY:     size,
		FileExtension: ext,
		Copyright:     c.Copyright,
		License:       c.License,
		LicenseURL:    c.LicenseURL,
		ZoomMin:       c.ZoomMin,
		ZoomMax:       zmax,
		Bounds:        bounds,
		Deprecated:    c.Deprecated,
		Projection:    fam,
		Hostname:      c.Hostname,
		Scheme:        c.Scheme,
		FTP:           c.IsFTP,
		Options:       c.Options,
	}
	if s.Name == "" {
		s.Name = c.Label
	}
	if c.Hostname != "" && tpl != "" {
		s.URI = func(m projection.MapCoord) string {
			return ExpandTemplate(tpl, m, switchXY)
		}
	}
	return s
}

// NewSlippy builds an OSM style source.
func NewSlippy(c SlippyConfig) *Source {
	return c.source(projection.Slippy{})
}

// NewTMS builds a plate carree source drawn in lat/lon mode.
func NewTMS(c SlippyConfig) *Source {
	return c.source(projection.TMS{})
}

var printfVerb = regexp.MustCompile(`%(?:(\d+)\$)?d`)

// ExpandTemplate substitutes a tile into a URL template. Named
// placeholders {z} {x} {y} {-y} {quadkey} are supported, as are printf
// style %d verbs, optionally positional (%2$d), taking z, x, y in order.
func ExpandTemplate(tpl string, m projection.MapCoord, switchXY bool) string {
	x, y, z := m.X, m.Y, m.Scale
	if switchXY {
		x, y = y, x
	}

	if strings.Contains(tpl, "{") {
		r := strings.NewReplacer(
			"{z}", strconv.Itoa(z),
			"{x}", strconv.Itoa(x),
			"{y}", strconv.Itoa(y),
			"{-y}", strconv.Itoa((1<<z)-1-y),
			"{quadkey}", Quadkey(m.X, m.Y, z),
		)
		tpl = r.Replace(tpl)
	}

	args := []int{z, x, y}
	next := 0
	return printfVerb.ReplaceAllStringFunc(tpl, func(verb string) string {
		sub := printfVerb.FindStringSubmatch(verb)
		i := next
		if sub[1] != "" {
			n, _ := strconv.Atoi(sub[1])
			i = n - 1
		} else {
			next++
		}
		if i < 0 || i >= len(args) {
			return verb
		}
		return strconv.Itoa(args[i])
	})
}

// Quadkey is the Bing style tile key.
func Quadkey(x, y, zoom int) string {
	var b strings.Builder
	for i := zoom; i > 0; i-- {
		digit := byte('0')
		mask := 1 << (i - 1)
		if x&mask != 0 {
			digit++
		}
		if y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}
