package mapsource

import (
	"path/filepath"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

// Built-in source ids. They are persisted in layer settings and on disk
// paths, so they never change.
const (
	IDTerraserverAerial = 1
	IDTerraserverTopo   = 2
	IDTerraserverUrban  = 4
	IDExpedia           = 5
	IDKH                = 8
	IDOSMMapnik         = 13
	IDBlueMarble        = 15
	IDOSMCycle          = 17
	IDMapQuestOSM       = 19
	IDOSMTransport      = 20
	IDOSMOnDisk         = 21
	IDOSMHumanitarian   = 22
	IDMBTiles           = 23
	IDOSMMetatiles      = 24
)

const osmCopyright = "© OpenStreetMap contributors"

type BuiltinOptions struct {
	// CacheRoot hosts the default on-disk and metatile trees.
	CacheRoot    string
	OnDiskDir    string
	MBTilesPath  string
	MetatilesDir string
}

func osmOptions() download.Options {
	return download.Options{
		CheckFileServerTime: true,
		UseEtag:             true,
		CheckFile:           download.CheckMapFile,
	}
}

// Builtins returns the built-in sources that need no external files.
func Builtins() []*Source {
	return []*Source{
		NewTerraserver(TerraserverConfig{ID: IDTerraserverAerial, Label: "Terraserver Aerials", Type: projection.TerraserverAerial}),
		NewTerraserver(TerraserverConfig{ID: IDTerraserverTopo, Label: "Terraserver Topos", Type: projection.TerraserverTopo}),
		NewTerraserver(TerraserverConfig{ID: IDTerraserverUrban, Label: "Terraserver Urban Areas", Type: projection.TerraserverUrban}),
		NewExpedia(ExpediaConfig{ID: IDExpedia}),
		NewKH(KHConfig{ID: IDKH}),
		NewSlippy(SlippyConfig{
			ID:         IDOSMMapnik,
			Name:       "OSM-Mapnik",
			Label:      "OpenStreetMap (Mapnik)",
			Hostname:   "tile.openstreetmap.org",
			URL:        "/%d/%d/%d.png",
			ZoomMax:    19,
			Copyright:  osmCopyright,
			License:    "ODbL",
			LicenseURL: "https://www.openstreetmap.org/copyright",
			Options:    osmOptions(),
		}),
		NewSlippy(SlippyConfig{
			ID:         IDBlueMarble,
			Name:       "BlueMarble",
			Label:      "BlueMarble",
			Hostname:   "s3.amazonaws.com",
			URL:        "/com.modestmaps.bluemarble/%d-r%3$d-c%2$d.jpg",
			Extension:  ".jpg",
			ZoomMax:    9,
			Copyright:  "© NASA's Earth Observatory",
			License:    "NASA Terms of Use",
			LicenseURL: "http://visibleearth.nasa.gov/useterms.php",
			Options:    download.Options{CheckFile: download.CheckMapFile},
		}),
		NewSlippy(SlippyConfig{
			ID:        IDOSMCycle,
			Name:      "OSM-Cycle",
			Label:     "OpenStreetMap (Cycle)",
			Hostname:  "tile.thunderforest.com",
			URL:       "/cycle/%d/%d/%d.png",
			ZoomMax:   18,
			Copyright: "Tiles courtesy of Andy Allan " + osmCopyright,
			Options:   osmOptions(),
		}),
		NewSlippy(SlippyConfig{
			ID:         IDMapQuestOSM,
			Name:       "MapQuest-OSM",
			Label:      "OpenStreetMap (MapQuest)",
			Hostname:   "otile1.mqcdn.com",
			URL:        "/tiles/1.0.0/osm/%d/%d/%d.jpg",
			Scheme:     "http",
			Extension:  ".jpg",
			ZoomMax:    19,
			Copyright:  "Tiles Courtesy of MapQuest " + osmCopyright,
			Deprecated: true,
			Options:    download.Options{CheckFile: download.CheckMapFile},
		}),
		NewSlippy(SlippyConfig{
			ID:        IDOSMTransport,
			Name:      "OSM-Transport",
			Label:     "OpenStreetMap (Transport)",
			Hostname:  "tile.thunderforest.com",
			URL:       "/transport/%d/%d/%d.png",
			ZoomMax:   18,
			Copyright: "Tiles courtesy of Andy Allan " + osmCopyright,
			Options:   osmOptions(),
		}),
		NewSlippy(SlippyConfig{
			ID:        IDOSMHumanitarian,
			Name:      "OSM-Humanitarian",
			Label:     "OpenStreetMap (Humanitarian)",
			Hostname:  "tile-a.openstreetmap.fr",
			URL:       "/hot/%d/%d/%d.png",
			ZoomMax:   20,
			Copyright: "© Humanitarian OpenStreetMap Team " + osmCopyright,
			Options:   osmOptions(),
		}),
	}
}

// RegisterBuiltins registers the built-in set, including the local
// container sources whose location is known.
func RegisterBuiltins(reg *Registry, opts BuiltinOptions, l logger.Logger) {
	l = logger.OrNop(l)
	for _, s := range Builtins() {
		reg.Register(s)
	}

	onDisk := opts.OnDiskDir
	if onDisk == "" && opts.CacheRoot != "" {
		onDisk = filepath.Join(opts.CacheRoot, "OSM-On-Disk")
	}
	if onDisk != "" {
		reg.Register(NewFileSystem(FileSystemConfig{
			ID:        IDOSMOnDisk,
			Name:      "OSM-On-Disk",
			Label:     "OpenStreetMap (On Disk)",
			Dir:       onDisk,
			ZoomMax:   22,
			Copyright: osmCopyright,
		}))
	}

	if opts.MBTilesPath != "" {
		s, err := NewMBTiles(MBTilesConfig{
			ID:    IDMBTiles,
			Name:  "MBTiles",
			Label: "MBTiles File",
			Path:  opts.MBTilesPath,
		})
		if err != nil {
			l.Warn("mbtiles source unavailable", "path", opts.MBTilesPath, "error", err)
		} else {
			reg.Register(s)
		}
	}

	metaDir := opts.MetatilesDir
	if metaDir == "" && opts.CacheRoot != "" {
		metaDir = filepath.Join(opts.CacheRoot, "OSM-Metatiles")
	}
	if metaDir != "" {
		reg.Register(NewMetatiles(MetatilesConfig{
			ID:        IDOSMMetatiles,
			Name:      "OSM-Metatiles",
			Label:     "OpenStreetMap (Metatiles)",
			Dir:       metaDir,
			ZoomMax:   22,
			Copyright: osmCopyright,
		}))
	}
}
