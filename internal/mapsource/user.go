package mapsource

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

// UserSource is one entry of the sources file.
type UserSource struct {
	ID         int              `yaml:"id"`
	Type       string           `yaml:"type"`
	Name       string           `yaml:"name"`
	Label      string           `yaml:"label"`
	Hostname   string           `yaml:"hostname"`
	URL        string           `yaml:"url"`
	Scheme     string           `yaml:"scheme"`
	Path       string           `yaml:"path"`
	TileSize   int              `yaml:"tile_size"`
	ZoomMin    int              `yaml:"zoom_min"`
	ZoomMax    int              `yaml:"zoom_max"`
	Bounds     []float64        `yaml:"bounds"`
	Extension  string           `yaml:"file_extension"`
	Copyright  string           `yaml:"copyright"`
	License    string           `yaml:"license"`
	LicenseURL string           `yaml:"license_url"`
	Logo       string           `yaml:"logo"`
	SwitchXY   bool             `yaml:"switch_xy"`
	IsFTP      bool             `yaml:"ftp"`
	CheckHTML  bool             `yaml:"check_html"`
	Decompress bool             `yaml:"decompress"`
	Options    download.Options `yaml:"options"`
}

type sourcesFile struct {
	Sources []UserSource `yaml:"sources"`
}

// LoadUserSources registers the sources defined in the YAML file at path.
// A missing file is not an error. Bad entries are logged and skipped.
func LoadUserSources(path string, reg *Registry, l logger.Logger) (int, error) {
	l = logger.OrNop(l)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}

	n := 0
	for i, us := range file.Sources {
		s, err := us.Build()
		if err != nil {
			l.Warn("skipping map source", "file", path, "index", i, "id", us.ID, "error", err)
			continue
		}
		if err := reg.Register(s); err != nil {
			continue
		}
		n++
	}
	l.Info("user map sources loaded", "file", path, "count", n)
	return n, nil
}

// Build turns the entry into a source.
func (us UserSource) Build() (*Source, error) {
	if us.ID <= MaxBuiltinID {
		return nil, fmt.Errorf("id %d is reserved for built-in sources", us.ID)
	}
	if us.Label == "" {
		return nil, errors.New("label is required")
	}

	bounds, err := us.bound()
	if err != nil {
		return nil, err
	}

	opts := us.Options
	if us.CheckHTML {
		opts.CheckFile = download.CheckMapFile
	}
	if us.Decompress {
		opts.Convert = download.Decompress
	}

	cfg := SlippyConfig{
		ID:         us.ID,
		Name:       us.Name,
		Label:      us.Label,
		Hostname:   us.Hostname,
		URL:        us.URL,
		Scheme:     us.Scheme,
		TileSize:   us.TileSize,
		ZoomMin:    us.ZoomMin,
		ZoomMax:    us.ZoomMax,
		Bounds:     bounds,
		Copyright:  us.Copyright,
		License:    us.License,
		LicenseURL: us.LicenseURL,
		Extension:  us.Extension,
		SwitchXY:   us.SwitchXY,
		IsFTP:      us.IsFTP,
		Options:    opts,
	}

	var s *Source
	switch us.Type {
	case "", "slippy":
		if us.Hostname == "" || us.URL == "" {
			return nil, errors.New("slippy sources need hostname and url")
		}
		s = NewSlippy(cfg)
	case "tms":
		if us.Hostname == "" || us.URL == "" {
			return nil, errors.New("tms sources need hostname and url")
		}
		s = NewTMS(cfg)
	case "filesystem":
		s = NewFileSystem(FileSystemConfig{ID: us.ID, Name: us.Name, Label: us.Label, Dir: us.Path, Extension: us.Extension, ZoomMin: us.ZoomMin, ZoomMax: us.ZoomMax, Copyright: us.Copyright})
	case "mbtiles":
		s, err = NewMBTiles(MBTilesConfig{ID: us.ID, Name: us.Name, Label: us.Label, Path: us.Path, ZoomMin: us.ZoomMin, ZoomMax: us.ZoomMax, Copyright: us.Copyright})
		if err != nil {
			return nil, err
		}
	case "metatiles":
		s = NewMetatiles(MetatilesConfig{ID: us.ID, Name: us.Name, Label: us.Label, Dir: us.Path, ZoomMin: us.ZoomMin, ZoomMax: us.ZoomMax, Copyright: us.Copyright})
	default:
		return nil, fmt.Errorf("unknown source type %q", us.Type)
	}
	if us.Type == "filesystem" || us.Type == "metatiles" || us.Type == "mbtiles" {
		if us.Path == "" {
			s.Close()
			return nil, fmt.Errorf("%s sources need a path", us.Type)
		}
		s.Bounds = boundsOr(bounds)
	}

	if us.Logo != "" {
		logo, err := loadImage(us.Logo)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load logo: %w", err)
		}
		s.Logo = logo
	}
	return s, nil
}

func (us UserSource) bound() (orb.Bound, error) {
	if len(us.Bounds) == 0 {
		return orb.Bound{}, nil
	}
	if len(us.Bounds) != 4 {
		return orb.Bound{}, fmt.Errorf("bounds want [min_lon, min_lat, max_lon, max_lat], got %v", us.Bounds)
	}
	b := orb.Bound{
		Min: orb.Point{us.Bounds[0], us.Bounds[1]},
		Max: orb.Point{us.Bounds[2], us.Bounds[3]},
	}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("bounds %v are inverted", us.Bounds)
	}
	return b, nil
}

func boundsOr(b orb.Bound) orb.Bound {
	if b.IsZero() {
		return World
	}
	return b
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
