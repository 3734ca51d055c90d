package tilestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
)

func TestPathLayouts(t *testing.T) {
	ref := TileRef{
		SourceID: 13,
		Name:     "OSM-Mapnik",
		Ext:      ".png",
		Coord:    projection.MapCoord{X: 2046, Y: 1362, Z: 0, Scale: 12},
		Zoom:     12,
	}

	tests := []struct {
		name        string
		defaultRoot bool
		layout      Layout
		want        string
	}{
		{"legacy", true, LayoutLegacy, "/maps/t13s12z0/2046/1362"},
		{"osm default root keeps name", true, LayoutOSM, "/maps/OSM-Mapnik/12/2046/1362.png"},
		{"osm custom root drops name", false, LayoutOSM, "/maps/12/2046/1362.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := tt.layout
			s := New("/maps", tt.defaultRoot, func() Layout { return layout }, nil)
			if got := s.Path(ref); got != filepath.FromSlash(tt.want) {
				t.Errorf("Path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLayoutFollowsPreference(t *testing.T) {
	layout := LayoutLegacy
	s := New("/maps", true, func() Layout { return layout }, nil)
	ref := TileRef{SourceID: 1, Coord: projection.MapCoord{X: 1, Y: 2, Scale: 3}, Zoom: 3, Ext: ".png"}

	legacy := s.Path(ref)
	layout = LayoutOSM
	if s.Path(ref) == legacy {
		t.Fatal("layout change was not picked up")
	}
}

func TestWriteAtomicReadRemove(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true, nil, nil)
	path := filepath.Join(dir, "t13s12z0", "1", "2")

	if _, err := s.Read(path); !errors.Is(err, ErrMiss) {
		t.Fatalf("Read missing = %v, want ErrMiss", err)
	}

	if err := s.WriteAtomic(path, bytes.NewReader([]byte("tile"))); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	got, err := s.Read(path)
	if err != nil || string(got) != "tile" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if !s.Exists(path) {
		t.Fatal("Exists = false after write")
	}
	assertNoTemp(t, dir)

	if err := s.WriteETag(path, `"abc"`); err != nil {
		t.Fatal(err)
	}
	etag, err := s.ReadETag(path)
	if err != nil || etag != `"abc"` {
		t.Fatalf("ReadETag = %q, %v", etag, err)
	}

	if err := s.Remove(path); err != nil {
		t.Fatal(err)
	}
	if s.Exists(path) {
		t.Fatal("tile still present after Remove")
	}
	if etag, _ := s.ReadETag(path); etag != "" {
		t.Fatal("etag sidecar survived Remove")
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("removing a missing tile: %v", err)
	}
}

func TestTempFileAbort(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true, nil, nil)
	path := filepath.Join(dir, "a", "b")

	tmp, err := s.CreateTemp(path)
	if err != nil {
		t.Fatal(err)
	}
	tmp.WriteString("partial")
	tmp.Abort()
	tmp.Abort()

	if s.Exists(path) {
		t.Fatal("aborted write produced the final file")
	}
	assertNoTemp(t, dir)
}

func TestRemoveTemps(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true, nil, nil)
	path := filepath.Join(dir, "t13s12z0", "1", "2")

	for i := 0; i < 2; i++ {
		tmp, err := s.CreateTemp(path)
		if err != nil {
			t.Fatal(err)
		}
		tmp.File.Close()
	}
	if err := s.WriteAtomic(path, strings.NewReader("tile")); err != nil {
		t.Fatal(err)
	}

	if n := s.RemoveTemps(path); n != 2 {
		t.Fatalf("RemoveTemps = %d, want 2", n)
	}
	if !s.Exists(path) {
		t.Fatal("committed tile removed with the temps")
	}
	assertNoTemp(t, dir)
}

func TestDefaultRoot(t *testing.T) {
	env := map[string]string{EnvCacheRoot: "/custom/maps"}
	if got := DefaultRoot(func(k string) string { return env[k] }); got != "/custom/maps" {
		t.Errorf("DefaultRoot with env = %q", got)
	}

	home := t.TempDir()
	env = map[string]string{"HOME": home}
	got := DefaultRoot(func(k string) string { return env[k] })
	if got != systemCacheDir && !strings.HasPrefix(got, home) {
		t.Errorf("DefaultRoot = %q, want system dir or under %q", got, home)
	}
}

func assertNoTemp(t *testing.T, dir string) {
	t.Helper()
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && IsTemp(path) {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
}
