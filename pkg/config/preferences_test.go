package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPreferencesMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPreferences(filepath.Join(t.TempDir(), "viking.ini"))
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}

	got := p.Snapshot()
	if got.MapCacheSizeMB != 48 {
		t.Errorf("mapcache_size = %d, want 48", got.MapCacheSizeMB)
	}
	if got.CacheLayout != CacheLayoutLegacy {
		t.Errorf("maps_cache_layout = %d, want legacy", got.CacheLayout)
	}
	if !got.SSLVerifyPeer {
		t.Error("curl_ssl_verifypeer should default to true")
	}
	if p.MapCacheBytes() != 48*1024*1024 {
		t.Errorf("MapCacheBytes = %d", p.MapCacheBytes())
	}
}

func TestLoadPreferencesReadsVikingGroup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viking.ini")
	content := `[viking]
mapcache_size=12
maps_cache_layout=1
curl_ssl_verifypeer=false
curl_cainfo=/etc/ssl/ca.pem
background_max_threads_local=3
maps_max_tiles=50

[other]
mapcache_size=99
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}

	got := p.Snapshot()
	if got.MapCacheSizeMB != 12 || got.CacheLayout != CacheLayoutOSM || got.SSLVerifyPeer {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if got.CAInfo != "/etc/ssl/ca.pem" || got.MaxThreadsLocal != 3 || got.MaxTiles != 50 {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

func TestPreferencesUpdateAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viking.ini")
	if err := os.WriteFile(path, []byte("[viking]\nunrelated=keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPreferences(path)
	if err != nil {
		t.Fatal(err)
	}

	before := p.Snapshot()
	if _, err := p.Update(func(pr *Prefs) { pr.MapCacheSizeMB = 0 }); err == nil {
		t.Fatal("expected validation error for zero cache size")
	}
	if p.Snapshot() != before {
		t.Fatal("failed update must not change the snapshot")
	}

	if _, err := p.Update(func(pr *Prefs) { pr.MapCacheSizeMB = 64 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadPreferences(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Snapshot().MapCacheSizeMB != 64 {
		t.Errorf("mapcache_size after reload = %d, want 64", reloaded.Snapshot().MapCacheSizeMB)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "unrelated") {
		t.Error("Save dropped unrelated keys")
	}
}
