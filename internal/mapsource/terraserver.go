package mapsource

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
)

const (
	TerraserverHost        = "msrmaps.com"
	TerraserverURITemplate = "/tile.ashx?T=%d&S=%d&X=%d&Y=%d&Z=%d"
)

var terraserverBounds = orb.Bound{Min: orb.Point{-170, 15}, Max: orb.Point{-60, 72}}

type TerraserverConfig struct {
	ID          int
	Label       string
	Type        int
	Hostname    string
	URITemplate string
}

// NewTerraserver builds a UTM tiled source. The service no longer answers
// with the documented shape, so the host and template stay configurable.
func NewTerraserver(c TerraserverConfig) *Source {
	host := c.Hostname
	if host == "" {
		host = TerraserverHost
	}
	tpl := c.URITemplate
	if tpl == "" {
		tpl = TerraserverURITemplate
	}
	typ := c.Type

	return &Source{
		ID:            c.ID,
		Name:          fmt.Sprintf("Terraserver-%d", typ),
		Label:         c.Label,
		TileSizeX:     200,
		TileSizeY:     200,
		FileExtension: ".jpg",
		Copyright:     "© DigitalGlobe (Terraserver)",
		ZoomMin:       0,
		ZoomMax:       22,
		Bounds:        terraserverBounds,
		Deprecated:    true,
		Projection:    projection.Terraserver{Type: typ},
		Hostname:      host,
		URI: func(m projection.MapCoord) string {
			return fmt.Sprintf(tpl, typ, m.Scale, m.X, m.Y, m.Z)
		},
		Options: download.Options{CheckFile: download.CheckMapFile},
	}
}
