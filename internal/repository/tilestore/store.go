package tilestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

// ErrMiss is returned when a tile is not on disk.
var ErrMiss = errors.New("tile not on disk")

type Layout int

const (
	LayoutLegacy Layout = iota
	LayoutOSM
)

func (l Layout) String() string {
	if l == LayoutOSM {
		return "osm"
	}
	return "legacy"
}

const etagSuffix = ".etag"

// TileRef names a tile on disk.
type TileRef struct {
	SourceID int
	Name     string
	Ext      string
	Coord    projection.MapCoord
	// Zoom is the OSM zoom level of the tile, used by the OSM layout.
	Zoom int
}

type Store struct {
	root        string
	defaultRoot bool
	layout      func() Layout
	logger      logger.Logger
}

// New returns a store under root. layout is consulted on every path
// computation so a preference change applies without restart.
func New(root string, defaultRoot bool, layout func() Layout, l logger.Logger) *Store {
	if layout == nil {
		layout = func() Layout { return LayoutLegacy }
	}
	return &Store{
		root:        root,
		defaultRoot: defaultRoot,
		layout:      layout,
		logger:      logger.OrNop(l),
	}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Layout() Layout {
	return s.layout()
}

// WithRoot returns a store sharing the layout setting but rooted elsewhere.
// A store rooted away from the default cache drops the source name from OSM paths.
func (s *Store) WithRoot(root string) *Store {
	if root == "" || root == s.root {
		return s
	}
	return &Store{root: root, layout: s.layout, logger: s.logger}
}

func (s *Store) Path(t TileRef) string {
	return s.PathWithLayout(t, s.layout())
}

func (s *Store) PathWithLayout(t TileRef, layout Layout) string {
	m := t.Coord
	switch layout {
	case LayoutOSM:
		file := fmt.Sprintf("%d%s", m.Y, t.Ext)
		if t.Name != "" && s.defaultRoot {
			return filepath.Join(s.root, t.Name, fmt.Sprint(t.Zoom), fmt.Sprint(m.X), file)
		}
		return filepath.Join(s.root, fmt.Sprint(t.Zoom), fmt.Sprint(m.X), file)
	default:
		dir := fmt.Sprintf("t%ds%dz%d", t.SourceID, m.Scale, m.Z)
		return filepath.Join(s.root, dir, fmt.Sprint(m.X), fmt.Sprint(m.Y))
	}
}

// Read returns the file content. Anything but a readable regular file is a miss.
func (s *Store) Read(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrMiss, err)
	}
	return content, nil
}

func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) ModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrMiss
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Remove deletes the tile and its ETag sidecar. Missing files are not an error.
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove tile %s: %w", path, err)
	}
	s.RemoveETag(path)
	return nil
}

// TempFile is an in-progress write. Exactly one of Commit or Abort must be called.
type TempFile struct {
	*os.File
	final string
	done  bool
}

func (s *Store) CreateTemp(path string) (*TempFile, error) {
	return CreateTemp(path)
}

// CreateTemp opens a temporary file next to path, creating directories as needed.
func CreateTemp(path string) (*TempFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tile dir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	return &TempFile{File: f, final: path}, nil
}

// Commit closes the temp file and renames it over the final path.
func (t *TempFile) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.File.Close(); err != nil {
		os.Remove(t.File.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(t.File.Name(), t.final); err != nil {
		os.Remove(t.File.Name())
		return fmt.Errorf("failed to rename temp file to %s: %w", t.final, err)
	}
	return nil
}

// Abort closes and deletes the temp file.
func (t *TempFile) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.File.Close()
	os.Remove(t.File.Name())
}

// Final is the path the file is committed to.
func (t *TempFile) Final() string {
	return t.final
}

// WriteAtomic copies r into path through a temp file.
func (s *Store) WriteAtomic(path string, r io.Reader) error {
	tmp, err := s.CreateTemp(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Abort()
		return fmt.Errorf("failed to write tile %s: %w", path, err)
	}
	return tmp.Commit()
}

// ReadETag returns the raw quoted ETag stored beside path, or "" when none.
func (s *Store) ReadETag(path string) (string, error) {
	b, err := os.ReadFile(path + etagSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read etag for %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *Store) WriteETag(path, etag string) error {
	if err := s.WriteAtomic(path+etagSuffix, strings.NewReader(etag)); err != nil {
		return fmt.Errorf("failed to write etag for %s: %w", path, err)
	}
	return nil
}

func (s *Store) RemoveETag(path string) {
	if err := os.Remove(path + etagSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove etag sidecar", "path", path, "error", err)
	}
}

// IsTemp reports whether name looks like an in-progress download.
func IsTemp(name string) bool {
	return strings.Contains(filepath.Base(name), ".tmp")
}

// RemoveTemps deletes in-progress downloads left beside path and returns
// how many were removed.
func (s *Store) RemoveTemps(path string) int {
	matches, err := filepath.Glob(path + ".tmp*")
	if err != nil {
		return 0
	}
	n := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			s.logger.Warn("failed to remove temp file", "path", m, "error", err)
			continue
		}
		n++
	}
	return n
}
