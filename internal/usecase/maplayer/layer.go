// Package maplayer draws one map source into viewports, fetching tiles
// through the memory cache and the disk store, and schedules the batch
// downloads that fill the store.
package maplayer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/jaennil/guide_helper/backend/maps/internal/background"
	"github.com/jaennil/guide_helper/backend/maps/internal/events"
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/pkg/config"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

var (
	ErrUnknownSource    = errors.New("unknown map source")
	ErrDrawModeMismatch = errors.New("map source cannot draw in this draw mode")
	ErrDirectAccess     = errors.New("map source reads local files and never downloads")
	ErrDecode           = errors.New("tile image corrupt")
)

// decodeLogSize bounds the set of tiles already reported as corrupt.
const decodeLogSize = 1024

// Settings are the user choices of one layer.
type Settings struct {
	Name         string `json:"name"`
	SourceID     int    `json:"source_id"`
	Alpha        uint8  `json:"alpha"`
	AutoDownload bool   `json:"autodownload"`
	// OnlyMissing keeps autodownload from asking the server for newer tiles.
	OnlyMissing bool `json:"only_missing"`
	// MapZoom fixes the tile resolution in metres per pixel; 0 follows the viewport.
	MapZoom  float64 `json:"map_zoom"`
	CacheDir string  `json:"cache_dir,omitempty"`
}

func DefaultSettings(sourceID int) Settings {
	return Settings{
		Name:         "Map",
		SourceID:     sourceID,
		Alpha:        255,
		AutoDownload: true,
	}
}

type Deps struct {
	Registry   *mapsource.Registry
	Cache      *cache.LRU
	Blobs      cache.BlobCache
	Store      *tilestore.Store
	Downloader mapsource.Downloader
	Pool       *background.Pool
	// LocalPool runs disk only work. Pool is used when it is nil.
	LocalPool  *background.Pool
	Bus        events.Publisher
	Prefs      *config.Preferences
	Logger     logger.Logger
}

type lastView struct {
	set    bool
	source int
	center projection.Coord
	xmpp   float64
	ympp   float64
}

type Layer struct {
	deps   Deps
	logger logger.Logger

	mu       sync.Mutex
	settings Settings
	last     lastView

	alive   atomic.Bool
	pending atomic.Int64
	loads   singleflight.Group

	// groupcache's lru is not safe for concurrent use
	loggedMu sync.Mutex
	logged   *lru.Cache
}

func New(deps Deps, s Settings) (*Layer, error) {
	if deps.Blobs == nil {
		deps.Blobs = cache.NopBlobCache{}
	}
	if deps.Bus == nil {
		deps.Bus = events.Nop{}
	}
	if deps.Prefs == nil {
		deps.Prefs = config.NewMemoryPreferences(config.DefaultPrefs())
	}
	l := &Layer{
		deps:   deps,
		logger: logger.OrNop(deps.Logger),
		logged: lru.New(decodeLogSize),
	}
	if err := l.SetSettings(s); err != nil {
		return nil, err
	}
	l.alive.Store(true)
	return l, nil
}

func (l *Layer) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// SetSettings replaces the settings. Changing the source forgets the last
// view so the next draw may start an autodownload.
func (l *Layer) SetSettings(s Settings) error {
	if _, ok := l.deps.Registry.FindByID(s.SourceID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSource, s.SourceID)
	}
	if s.MapZoom < 0 {
		return fmt.Errorf("map zoom %g must not be negative", s.MapZoom)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s.SourceID != l.settings.SourceID {
		l.last = lastView{}
	}
	l.settings = s
	return nil
}

func (l *Layer) Source() (*mapsource.Source, error) {
	id := l.Settings().SourceID
	src, ok := l.deps.Registry.FindByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSource, id)
	}
	return src, nil
}

// Close marks the layer gone. Download tasks it started keep running but
// stop announcing tiles.
func (l *Layer) Close() {
	if l.alive.Swap(false) {
		l.logger.Debug("map layer closed", "name", l.Settings().Name, "pending_tasks", l.pending.Load())
	}
}

func (l *Layer) Alive() bool {
	return l.alive.Load()
}

// Pending is the number of this layer's download tasks not yet freed.
func (l *Layer) Pending() int {
	return int(l.pending.Load())
}

func (l *Layer) store(s Settings) *tilestore.Store {
	return l.deps.Store.WithRoot(s.CacheDir)
}

// shouldAutodownload reports whether the view moved since the last check
// and records it.
func (l *Layer) shouldAutodownload(src *mapsource.Source, center projection.Coord, xmpp, ympp float64, zoom int) bool {
	if zoom < src.ZoomMin || zoom > src.ZoomMax {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	last := l.last
	if last.set && last.source == src.ID && last.center.Equal(center) && last.xmpp == xmpp && last.ympp == ympp {
		return false
	}
	l.last = lastView{set: true, source: src.ID, center: center, xmpp: xmpp, ympp: ympp}
	return true
}

// reportDecodeOnce reports whether key has not been reported before.
func (l *Layer) reportDecodeOnce(key string) bool {
	l.loggedMu.Lock()
	defer l.loggedMu.Unlock()
	if _, seen := l.logged.Get(key); seen {
		return false
	}
	l.logged.Add(key, struct{}{})
	return true
}
