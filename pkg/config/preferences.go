package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"
)

const (
	PreferencesFile  = "viking.ini"
	PreferencesGroup = "viking"
)

// Keys of the [viking] group consumed by the map subsystem.
const (
	KeyMapCacheSize          = "mapcache_size"
	KeyMapsCacheLayout       = "maps_cache_layout"
	KeySSLVerifyPeer         = "curl_ssl_verifypeer"
	KeyCAInfo                = "curl_cainfo"
	KeyMaxThreads            = "background_max_threads"
	KeyMaxThreadsLocal       = "background_max_threads_local"
	KeyMaxTiles              = "maps_max_tiles"
	KeyMinShrinkFactor       = "maps_min_shrinkfactor"
	KeyMaxShrinkFactor       = "maps_max_shrinkfactor"
	KeyRealMinShrinkFactor   = "maps_real_min_shrinkfactor"
	KeyScaleIncUp            = "maps_scale_inc_up"
	KeyScaleIncDown          = "maps_scale_inc_down"
	KeyScaleSmallerZoomFirst = "maps_scale_smaller_zoom_first"
)

const (
	CacheLayoutLegacy = 0
	CacheLayoutOSM    = 1
)

// Prefs is an immutable snapshot of the preferences.
type Prefs struct {
	MapCacheSizeMB        int     `json:"mapcache_size" validate:"gte=1,lte=1024"`
	CacheLayout           int     `json:"maps_cache_layout" validate:"oneof=0 1"`
	SSLVerifyPeer         bool    `json:"curl_ssl_verifypeer"`
	CAInfo                string  `json:"curl_cainfo"`
	MaxThreads            int     `json:"background_max_threads" validate:"gte=1,lte=64"`
	MaxThreadsLocal       int     `json:"background_max_threads_local" validate:"gte=1,lte=64"`
	MaxTiles              int     `json:"maps_max_tiles" validate:"gte=1"`
	MinShrinkFactor       float64 `json:"maps_min_shrinkfactor" validate:"gt=0"`
	MaxShrinkFactor       float64 `json:"maps_max_shrinkfactor" validate:"gtfield=MinShrinkFactor"`
	RealMinShrinkFactor   float64 `json:"maps_real_min_shrinkfactor" validate:"gt=0,ltefield=MinShrinkFactor"`
	ScaleIncUp            int     `json:"maps_scale_inc_up" validate:"gte=1,lte=8"`
	ScaleIncDown          int     `json:"maps_scale_inc_down" validate:"gte=1,lte=8"`
	ScaleSmallerZoomFirst bool    `json:"maps_scale_smaller_zoom_first"`
}

func DefaultPrefs() Prefs {
	return Prefs{
		MapCacheSizeMB:        48,
		CacheLayout:           CacheLayoutLegacy,
		SSLVerifyPeer:         true,
		MaxThreads:            runtime.NumCPU(),
		MaxThreadsLocal:       runtime.NumCPU(),
		MaxTiles:              1000,
		MinShrinkFactor:       0.0312499,
		MaxShrinkFactor:       8.0000001,
		RealMinShrinkFactor:   0.0039062499,
		ScaleIncUp:            2,
		ScaleIncDown:          4,
		ScaleSmallerZoomFirst: true,
	}
}

// MapCacheBytes is the tile cache budget in bytes.
func (p Prefs) MapCacheBytes() int64 {
	return int64(p.MapCacheSizeMB) * 1024 * 1024
}

// Preferences is the keyfile backed store. Readers take a snapshot, writers
// swap it, so reads never block on a writer.
type Preferences struct {
	path     string
	mu       sync.Mutex
	snapshot atomic.Pointer[Prefs]
	validate *validator.Validate
}

// LoadPreferences reads path. A missing file yields the defaults.
func LoadPreferences(path string) (*Preferences, error) {
	p := &Preferences{
		path:     path,
		validate: validator.New(),
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewMemoryPreferences builds a store that is never persisted.
func NewMemoryPreferences(prefs Prefs) *Preferences {
	p := &Preferences{validate: validator.New()}
	p.snapshot.Store(&prefs)
	return p
}

// PreferencesPath returns <vikingDir>/viking.ini, defaulting vikingDir to ~/.viking.
func PreferencesPath(vikingDir string) string {
	if vikingDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		vikingDir = filepath.Join(home, ".viking")
	}
	return filepath.Join(vikingDir, PreferencesFile)
}

func (p *Preferences) Path() string {
	return p.path
}

func (p *Preferences) Snapshot() Prefs {
	return *p.snapshot.Load()
}

// MapCacheBytes is read by the tile cache on every insertion.
func (p *Preferences) MapCacheBytes() int64 {
	return p.Snapshot().MapCacheBytes()
}

func (p *Preferences) Reload() error {
	prefs := DefaultPrefs()

	if p.path != "" {
		f, err := ini.LoadSources(ini.LoadOptions{Loose: true, Insensitive: false}, p.path)
		if err != nil {
			return fmt.Errorf("failed to load preferences %s: %w", p.path, err)
		}
		readPrefs(f.Section(PreferencesGroup), &prefs)
	}

	if err := p.validate.Struct(prefs); err != nil {
		return fmt.Errorf("invalid preferences: %w", err)
	}

	p.mu.Lock()
	p.snapshot.Store(&prefs)
	p.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the current snapshot and swaps it in when it validates.
func (p *Preferences) Update(fn func(*Prefs)) (Prefs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := *p.snapshot.Load()
	fn(&next)
	if err := p.validate.Struct(next); err != nil {
		return Prefs{}, fmt.Errorf("invalid preferences: %w", err)
	}
	p.snapshot.Store(&next)
	return next, nil
}

// Save writes the current snapshot back into the keyfile, keeping unrelated keys.
func (p *Preferences) Save() error {
	if p.path == "" {
		return errors.New("preferences are not backed by a file")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := ini.LoadSources(ini.LoadOptions{Loose: true}, p.path)
	if err != nil {
		return fmt.Errorf("failed to load preferences %s: %w", p.path, err)
	}
	writePrefs(f.Section(PreferencesGroup), *p.snapshot.Load())

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	if err := f.SaveTo(p.path); err != nil {
		return fmt.Errorf("failed to save preferences %s: %w", p.path, err)
	}
	return nil
}

func readPrefs(s *ini.Section, prefs *Prefs) {
	prefs.MapCacheSizeMB = s.Key(KeyMapCacheSize).MustInt(prefs.MapCacheSizeMB)
	prefs.CacheLayout = s.Key(KeyMapsCacheLayout).MustInt(prefs.CacheLayout)
	prefs.SSLVerifyPeer = s.Key(KeySSLVerifyPeer).MustBool(prefs.SSLVerifyPeer)
	prefs.CAInfo = s.Key(KeyCAInfo).MustString(prefs.CAInfo)
	prefs.MaxThreads = s.Key(KeyMaxThreads).MustInt(prefs.MaxThreads)
	prefs.MaxThreadsLocal = s.Key(KeyMaxThreadsLocal).MustInt(prefs.MaxThreadsLocal)
	prefs.MaxTiles = s.Key(KeyMaxTiles).MustInt(prefs.MaxTiles)
	prefs.MinShrinkFactor = s.Key(KeyMinShrinkFactor).MustFloat64(prefs.MinShrinkFactor)
	prefs.MaxShrinkFactor = s.Key(KeyMaxShrinkFactor).MustFloat64(prefs.MaxShrinkFactor)
	prefs.RealMinShrinkFactor = s.Key(KeyRealMinShrinkFactor).MustFloat64(prefs.RealMinShrinkFactor)
	prefs.ScaleIncUp = s.Key(KeyScaleIncUp).MustInt(prefs.ScaleIncUp)
	prefs.ScaleIncDown = s.Key(KeyScaleIncDown).MustInt(prefs.ScaleIncDown)
	prefs.ScaleSmallerZoomFirst = s.Key(KeyScaleSmallerZoomFirst).MustBool(prefs.ScaleSmallerZoomFirst)
}

func writePrefs(s *ini.Section, prefs Prefs) {
	s.Key(KeyMapCacheSize).SetValue(strconv.Itoa(prefs.MapCacheSizeMB))
	s.Key(KeyMapsCacheLayout).SetValue(strconv.Itoa(prefs.CacheLayout))
	s.Key(KeySSLVerifyPeer).SetValue(strconv.FormatBool(prefs.SSLVerifyPeer))
	s.Key(KeyCAInfo).SetValue(prefs.CAInfo)
	s.Key(KeyMaxThreads).SetValue(strconv.Itoa(prefs.MaxThreads))
	s.Key(KeyMaxThreadsLocal).SetValue(strconv.Itoa(prefs.MaxThreadsLocal))
	s.Key(KeyMaxTiles).SetValue(strconv.Itoa(prefs.MaxTiles))
	s.Key(KeyMinShrinkFactor).SetValue(strconv.FormatFloat(prefs.MinShrinkFactor, 'g', -1, 64))
	s.Key(KeyMaxShrinkFactor).SetValue(strconv.FormatFloat(prefs.MaxShrinkFactor, 'g', -1, 64))
	s.Key(KeyRealMinShrinkFactor).SetValue(strconv.FormatFloat(prefs.RealMinShrinkFactor, 'g', -1, 64))
	s.Key(KeyScaleIncUp).SetValue(strconv.Itoa(prefs.ScaleIncUp))
	s.Key(KeyScaleIncDown).SetValue(strconv.Itoa(prefs.ScaleIncDown))
	s.Key(KeyScaleSmallerZoomFirst).SetValue(strconv.FormatBool(prefs.ScaleSmallerZoomFirst))
}
