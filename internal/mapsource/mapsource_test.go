package mapsource

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

func TestExpandTemplate(t *testing.T) {
	m := projection.MapCoord{X: 2046, Y: 1362, Scale: 12}
	tests := []struct {
		tpl      string
		switchXY bool
		want     string
	}{
		{"/%d/%d/%d.png", false, "/12/2046/1362.png"},
		{"/{z}/{x}/{y}.png", false, "/12/2046/1362.png"},
		{"/{z}/{x}/{-y}.png", false, "/12/2046/2733.png"},
		{"/%d/%d/%d.png", true, "/12/1362/2046.png"},
		{"/bm/%d-r%3$d-c%2$d.jpg", false, "/bm/12-r1362-c2046.jpg"},
		{"/static/tile.png", false, "/static/tile.png"},
	}
	for _, tt := range tests {
		if got := ExpandTemplate(tt.tpl, m, tt.switchXY); got != tt.want {
			t.Errorf("ExpandTemplate(%q, %v) = %q, want %q", tt.tpl, tt.switchXY, got, tt.want)
		}
	}

	if got := ExpandTemplate("/a/{quadkey}", projection.MapCoord{X: 3, Y: 5, Scale: 3}, false); got != "/a/213" {
		t.Errorf("quadkey = %q", got)
	}
}

func TestRegistryDuplicateIgnored(t *testing.T) {
	reg := NewRegistry(logger.NewNop())
	first := NewSlippy(SlippyConfig{ID: 40, Label: "first", Hostname: "a", URL: "/%d/%d/%d"})
	second := NewSlippy(SlippyConfig{ID: 40, Label: "second", Hostname: "b", URL: "/%d/%d/%d"})
	other := NewSlippy(SlippyConfig{ID: 41, Label: "other", Hostname: "c", URL: "/%d/%d/%d"})

	if err := reg.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(second); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate Register = %v", err)
	}
	reg.Register(other)

	got, ok := reg.FindByID(40)
	if !ok || got.Label != "first" {
		t.Fatalf("FindByID(40) = %v, %v", got, ok)
	}
	list := reg.List()
	if len(list) != 2 || list[0].ID != 40 || list[1].ID != 41 {
		t.Fatalf("List = %v", list)
	}
	if _, ok := reg.FindByID(99); ok {
		t.Error("FindByID found an unknown id")
	}
}

// sampleScales picks representative native scales of a source.
func sampleScales(s *Source) []int {
	switch p := s.Projection.(type) {
	case projection.Terraserver:
		var out []int
		for scale := 8; scale <= 19; scale++ {
			if _, ok := projection.TerraserverScale(p.Mpp(scale), p.Type); ok {
				out = append(out, scale)
			}
		}
		return out
	case projection.Expedia:
		return []int{1, 16, 512}
	case projection.KH:
		return []int{0, 7, 14}
	default:
		out := []int{s.ZoomMin}
		if s.ZoomMax <= projection.MaxScale {
			out = append(out, s.ZoomMax)
		} else {
			out = append(out, projection.MaxScale)
		}
		return out
	}
}

func TestBuiltinsRoundTrip(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterBuiltins(reg, BuiltinOptions{CacheRoot: t.TempDir()}, nil)

	for _, s := range reg.List() {
		for _, scale := range sampleScales(s) {
			m := projection.MapCoord{X: (1 << scale) / 3, Y: (1 << scale) / 4, Scale: scale}
			switch s.Projection.(type) {
			case projection.Terraserver:
				m = projection.MapCoord{X: 1500, Y: 20000, Z: 31, Scale: scale}
			case projection.Expedia:
				m.X, m.Y = 200, 100
			case projection.KH:
				m.X, m.Y = 1, 1
			}
			mpp := s.Projection.Mpp(scale)

			c := s.MapCoordToCenter(m)
			got, err := s.CoordToMapCoord(c, mpp, mpp)
			if err != nil {
				t.Errorf("%s scale %d: %v", s, scale, err)
				continue
			}
			if got.X != m.X || got.Y != m.Y || got.Scale != m.Scale {
				t.Errorf("%s: round trip %v -> %v", s, m, got)
			}
		}
	}
}

func TestBuiltinDescriptors(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterBuiltins(reg, BuiltinOptions{CacheRoot: t.TempDir()}, nil)

	osm, ok := reg.FindByID(IDOSMMapnik)
	if !ok {
		t.Fatal("mapnik not registered")
	}
	if !osm.SupportsDownloadOnlyNew() || osm.IsDirectFileAccess() || !osm.HasDownloader() {
		t.Errorf("mapnik capabilities wrong: %+v", osm)
	}

	kh, _ := reg.FindByID(IDKH)
	if uri := kh.URI(projection.MapCoord{X: 0, Y: 0, Scale: 17}); uri != "/kh?v=2&t=t" {
		t.Errorf("kh uri = %q", uri)
	}
	terra, _ := reg.FindByID(IDTerraserverTopo)
	if uri := terra.URI(projection.MapCoord{X: 1, Y: 2, Z: 31, Scale: 12}); uri != "/tile.ashx?T=2&S=12&X=1&Y=2&Z=31" {
		t.Errorf("terraserver uri = %q", uri)
	}
	exp, _ := reg.FindByID(IDExpedia)
	if uri := exp.URI(projection.MapCoord{X: 190 * 120, Y: 140 * 120, Scale: 1}); !strings.Contains(uri, "Alti=1") || !strings.Contains(uri, "Lang=EUR0809") {
		t.Errorf("expedia uri = %q", uri)
	}
	for _, id := range []int{IDExpedia, IDKH, IDTerraserverAerial} {
		if s, _ := reg.FindByID(id); !s.Deprecated {
			t.Errorf("source %d should be deprecated", id)
		}
	}
	onDisk, ok := reg.FindByID(IDOSMOnDisk)
	if !ok || !onDisk.IsDirectFileAccess() || onDisk.HasDownloader() {
		t.Errorf("on disk source wrong: %+v", onDisk)
	}
}

func TestCopyrightFor(t *testing.T) {
	s := NewSlippy(SlippyConfig{
		ID: 50, Label: "regional", Hostname: "h", URL: "/%d/%d/%d",
		ZoomMin:   2,
		ZoomMax:   10,
		Bounds:    orb.Bound{Min: orb.Point{0, 40}, Max: orb.Point{10, 50}},
		Copyright: "© regional",
	})

	inside := orb.Bound{Min: orb.Point{1, 41}, Max: orb.Point{2, 42}}
	outside := orb.Bound{Min: orb.Point{20, 41}, Max: orb.Point{21, 42}}
	if got := s.CopyrightFor(inside, 5); got != "© regional" {
		t.Errorf("inside = %q", got)
	}
	if got := s.CopyrightFor(outside, 5); got != "" {
		t.Errorf("outside = %q", got)
	}
	if got := s.CopyrightFor(inside, 15); got != "" {
		t.Errorf("beyond zoom = %q", got)
	}
}

type recordingDownloader struct {
	req download.Request
	out download.Outcome
}

func (r *recordingDownloader) Get(ctx context.Context, req download.Request) (download.Outcome, error) {
	r.req = req
	return r.out, nil
}

func TestDownloadBuildsRequest(t *testing.T) {
	s := NewSlippy(SlippyConfig{
		ID:       60,
		Label:    "test",
		Hostname: "tile.example.org",
		URL:      "/{z}/{x}/{y}.png",
		Options:  download.Options{UseEtag: true, Referer: "https://example.org"},
	})
	var post string
	s.PostProcess = func(path string) error {
		post = path
		return nil
	}

	dl := &recordingDownloader{out: download.Outcome{Result: download.ResultOk}}
	out, err := s.Download(context.Background(), dl, projection.MapCoord{X: 1, Y: 2, Scale: 3}, "/tmp/dest", nil)
	if err != nil || out.Result != download.ResultOk {
		t.Fatalf("Download = %+v, %v", out, err)
	}
	if dl.req.Host != "tile.example.org" || dl.req.URI != "/3/1/2.png" || dl.req.Source != "60" {
		t.Errorf("request = %+v", dl.req)
	}
	if !dl.req.Options.UseEtag || dl.req.Options.Referer != "https://example.org" {
		t.Errorf("options = %+v", dl.req.Options)
	}
	if post != "/tmp/dest" {
		t.Errorf("post process ran on %q", post)
	}

	fs := NewFileSystem(FileSystemConfig{ID: 61, Label: "disk", Dir: t.TempDir()})
	if _, err := fs.Download(context.Background(), dl, projection.MapCoord{}, "x", nil); !errors.Is(err, ErrNoDownloader) {
		t.Errorf("filesystem Download = %v", err)
	}
}

func TestFailedPostProcessRemovesTile(t *testing.T) {
	s := NewExpedia(ExpediaConfig{ID: 63})
	dest := filepath.Join(t.TempDir(), "tile.gif")
	if err := os.WriteFile(dest, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	dl := &recordingDownloader{out: download.Outcome{Result: download.ResultOk}}
	out, err := s.Download(context.Background(), dl, projection.MapCoord{X: 190 * 120, Y: 140 * 120, Scale: 1}, dest, nil)
	if !errors.Is(err, download.ErrCheckerRejected) {
		t.Fatalf("Download err = %v, want ErrCheckerRejected", err)
	}
	if out.Result != download.ResultError || out.Detail != download.DetailContentError {
		t.Errorf("outcome = %+v", out)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("undecodable tile left at %s: %v", dest, err)
	}
}

func TestFileSystemReadTile(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSystem(FileSystemConfig{ID: 62, Label: "disk", Dir: dir, Extension: "png"})
	path := filepath.Join(dir, "5", "10", "11.png")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("tile"), 0o644)

	data, err := s.ReadTile(context.Background(), projection.MapCoord{X: 10, Y: 11, Scale: 5})
	if err != nil || string(data) != "tile" {
		t.Fatalf("ReadTile = %q, %v", data, err)
	}
	if _, err := s.ReadTile(context.Background(), projection.MapCoord{X: 1, Y: 1, Scale: 5}); !errors.Is(err, tilestore.ErrMiss) {
		t.Errorf("missing tile = %v", err)
	}
}

func TestMBTilesReadTile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`); err != nil {
		t.Fatal(err)
	}
	// xyz (1, 0) at zoom 2 is tms row 3
	if _, err := db.Exec(`INSERT INTO tiles VALUES (2, 1, 3, ?)`, []byte("mbtile")); err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := NewMBTiles(MBTilesConfig{ID: 63, Label: "mb", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data, err := s.ReadTile(context.Background(), projection.MapCoord{X: 1, Y: 0, Scale: 2})
	if err != nil || string(data) != "mbtile" {
		t.Fatalf("ReadTile = %q, %v", data, err)
	}
	if _, err := s.ReadTile(context.Background(), projection.MapCoord{X: 1, Y: 3, Scale: 2}); !errors.Is(err, tilestore.ErrMiss) {
		t.Errorf("missing tile = %v", err)
	}
}

func writeMetatile(t *testing.T, dir string, x, y, z int, tiles map[int][]byte, magic string) {
	t.Helper()
	path, _ := MetatilePath(dir, x, y, z)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	var h metaHeader
	copy(h.Magic[:], magic)
	h.Count = Metatile * Metatile
	h.X, h.Y, h.Z = int32(x&^7), int32(y&^7), int32(z)

	offset := int32(binary.Size(h))
	var body bytes.Buffer
	for i := 0; i < Metatile*Metatile; i++ {
		data := tiles[i]
		h.Index[i] = metaEntry{Offset: offset, Size: int32(len(data))}
		offset += int32(len(data))
		body.Write(data)
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, &h)
	out.Write(body.Bytes())
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMetatiles(t *testing.T) {
	dir := t.TempDir()
	path, idx := MetatilePath(dir, 9, 18, 5)
	if idx != (9&7)*8+(18&7) {
		t.Fatalf("index = %d", idx)
	}
	if !strings.HasSuffix(path, filepath.Join("5", "0", "0", "0", "1", "128.meta")) {
		t.Errorf("path = %s", path)
	}

	writeMetatile(t, dir, 9, 18, 5, map[int][]byte{idx: []byte("meta tile")}, "META")
	s := NewMetatiles(MetatilesConfig{ID: 64, Label: "meta", Dir: dir})

	data, err := s.ReadTile(context.Background(), projection.MapCoord{X: 9, Y: 18, Scale: 5})
	if err != nil || string(data) != "meta tile" {
		t.Fatalf("ReadTile = %q, %v", data, err)
	}
	if _, err := s.ReadTile(context.Background(), projection.MapCoord{X: 8, Y: 16, Scale: 5}); !errors.Is(err, tilestore.ErrMiss) {
		t.Errorf("empty slot = %v", err)
	}

	other := t.TempDir()
	writeMetatile(t, other, 0, 0, 1, nil, "METZ")
	if _, err := ReadMetatile(other, 0, 0, 1); !errors.Is(err, ErrMetatileCompressed) {
		t.Errorf("compressed metatile = %v", err)
	}
}

func TestLoadUserSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	yml := `
sources:
  - id: 200
    type: slippy
    name: OpenTopoMap
    label: OpenTopoMap
    hostname: tile.opentopomap.org
    url: /{z}/{x}/{y}.png
    zoom_max: 17
    bounds: [-10, 35, 30, 60]
    check_html: true
    options:
      use_etag: true
  - id: 3
    label: reserved
    hostname: a
    url: /a
  - id: 201
    type: tms
    label: missing url
  - id: 200
    label: duplicate
    hostname: b
    url: /b
  - id: 202
    type: filesystem
    label: Local render
    path: ` + dir + `
`
	os.WriteFile(path, []byte(yml), 0o644)

	reg := NewRegistry(nil)
	n, err := LoadUserSources(path, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || reg.Len() != 2 {
		t.Fatalf("loaded %d, registry has %d", n, reg.Len())
	}

	topo, _ := reg.FindByID(200)
	if topo.Label != "OpenTopoMap" || !topo.Options.UseEtag || topo.Options.CheckFile == nil {
		t.Errorf("topo = %+v", topo)
	}
	if topo.Bounds.Min[0] != -10 || topo.Bounds.Max[1] != 60 {
		t.Errorf("bounds = %v", topo.Bounds)
	}
	if local, _ := reg.FindByID(202); !local.IsDirectFileAccess() {
		t.Error("filesystem source without direct access")
	}

	if n, err := LoadUserSources(filepath.Join(dir, "absent.yaml"), reg, nil); n != 0 || err != nil {
		t.Errorf("missing file = %d, %v", n, err)
	}
}

func TestCropLogoBands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile")
	img := image.NewRGBA(image.Rect(0, 0, 80, 100))
	var buf bytes.Buffer
	png.Encode(&buf, img)
	os.WriteFile(path, buf.Bytes(), 0o644)

	if err := CropLogoBands(path); err != nil {
		t.Fatal(err)
	}
	f, _ := os.Open(path)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 80 || cfg.Height != 50 {
		t.Errorf("cropped to %dx%d", cfg.Width, cfg.Height)
	}
}
