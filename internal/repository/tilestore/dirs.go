package tilestore

import (
	"os"
	"path/filepath"
)

const (
	// EnvCacheRoot overrides the default cache root.
	EnvCacheRoot = "VIKING_MAPS"

	systemCacheDir = "/var/cache/maps/"
	homeCacheDir   = ".viking-maps"
)

// DefaultRoot resolves the tile cache root: $VIKING_MAPS, then the shared
// system directory when writable, then ~/.viking-maps.
func DefaultRoot(getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if dir := getenv(EnvCacheRoot); dir != "" {
		return dir
	}
	if writable(systemCacheDir) {
		return systemCacheDir
	}
	home := getenv("HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		} else {
			home = os.TempDir()
		}
	}
	return filepath.Join(home, homeCacheDir) + string(filepath.Separator)
}

func writable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}
