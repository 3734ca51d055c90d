package mapsource

import (
	"fmt"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
)

const (
	KHHost = "kh.google.com"
	// KHURITemplate takes the protocol version and the quadtree path.
	KHURITemplate = "/kh?v=%d&t=%s"
)

type KHConfig struct {
	ID          int
	Hostname    string
	URITemplate string
	Version     int
}

// NewKH builds the legacy keyhole satellite source, registered deprecated.
func NewKH(c KHConfig) *Source {
	host := c.Hostname
	if host == "" {
		host = KHHost
	}
	tpl := c.URITemplate
	if tpl == "" {
		tpl = KHURITemplate
	}
	version := c.Version
	if version == 0 {
		version = 2
	}

	return &Source{
		ID:            c.ID,
		Name:          "KH",
		Label:         "KH Satellite",
		TileSizeX:     256,
		TileSizeY:     256,
		FileExtension: ".jpg",
		ZoomMin:       0,
		ZoomMax:       22,
		Bounds:        World,
		Deprecated:    true,
		Projection:    projection.KH{},
		Hostname:      host,
		URI: func(m projection.MapCoord) string {
			return fmt.Sprintf(tpl, version, projection.KHEncode(m.X, m.Y, m.Scale))
		},
		Options: download.Options{CheckFile: download.CheckMapFile},
	}
}
