package v1

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jaennil/guide_helper/backend/maps/internal/background"
	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/events"
	"github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase/maplayer"
	"github.com/jaennil/guide_helper/backend/maps/pkg/config"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

type testAPI struct {
	router *gin.Engine
	store  *tilestore.Store
	src    *mapsource.Source
	pool   *background.Pool
	bus    *events.Bus
	prefs  *config.Preferences
	lru    *cache.LRU
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := mapsource.NewRegistry(logger.NewNop())
	var osm *mapsource.Source
	for _, s := range mapsource.Builtins() {
		reg.Register(s)
		if s.ID == mapsource.IDOSMMapnik {
			osm = s
		}
	}

	store := tilestore.New(t.TempDir(), true, nil, logger.NewNop())
	body := pngBytes(t)
	engine := download.NewEngine(doerFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{},
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       r,
		}, nil
	}), nil, store, download.Config{}, logger.NewNop())
	t.Cleanup(engine.Close)

	bus := events.NewBus(logger.NewNop())
	pool := background.NewPool(background.Config{Name: "remote", MaxWorkers: 2, Bus: bus})
	t.Cleanup(pool.Close)
	prefs := config.NewMemoryPreferences(config.DefaultPrefs())
	lru := cache.NewLRU(prefs.MapCacheBytes, nil)

	maps := usecase.NewMapUseCase(maplayer.Deps{
		Registry:   reg,
		Cache:      lru,
		Store:      store,
		Downloader: engine,
		Pool:       pool,
		Bus:        bus,
		Prefs:      prefs,
	}, false, nil)
	t.Cleanup(maps.Close)

	h := handler.NewHandler(handler.Deps{
		Maps:          maps,
		Cache:         usecase.NewTileCacheUseCase(lru, reg, nil),
		Tasks:         usecase.NewTaskUseCase(nil, nil, pool),
		Preferences:   prefs,
		Bus:           bus,
		DefaultSource: mapsource.IDOSMMapnik,
	})
	return &testAPI{
		router: NewRouter(h, logger.NewNop(), false),
		store:  store,
		src:    osm,
		pool:   pool,
		bus:    bus,
		prefs:  prefs,
		lru:    lru,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testAPI) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: %v", method, target, err)
		}
	}
	return w, env
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	w, _ := a.do(t, http.MethodGet, "/api/v1/healthz", nil)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestSources(t *testing.T) {
	a := newTestAPI(t)

	w, env := a.do(t, http.MethodGet, "/api/v1/sources", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var list []struct {
		ID       int    `json:"id"`
		DrawMode string `json:"drawmode"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range list {
		if s.ID == mapsource.IDOSMMapnik {
			found = s.DrawMode == "mercator"
		}
	}
	if !found {
		t.Errorf("OSM Mapnik missing from %s", env.Data)
	}

	tests := []struct {
		target string
		code   int
	}{
		{"/api/v1/sources/13", http.StatusOK},
		{"/api/v1/sources/999", http.StatusNotFound},
		{"/api/v1/sources/osm", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w, _ := a.do(t, http.MethodGet, tt.target, nil); w.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.target, w.Code, tt.code)
		}
	}
}

func TestRender(t *testing.T) {
	a := newTestAPI(t)
	c := projection.NewLatLon(51.5, -0.12)
	m, err := a.src.CoordToMapCoord(c, 32, 32)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.store.WriteAtomic(a.store.Path(a.src.TileRef(m)), bytes.NewReader(pngBytes(t))); err != nil {
		t.Fatal(err)
	}
	center := a.src.MapCoordToCenter(m).ToLatLon()

	target := "/api/v1/render?lat=" + ftoa(center.Lat) + "&lon=" + ftoa(center.Lon) + "&mpp=32&width=64&height=64"
	w, _ := a.do(t, http.MethodGet, target, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("render = %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	if !strings.Contains(w.Header().Get("X-Map-Copyright"), "OpenStreetMap") {
		t.Errorf("copyright header %q", w.Header().Get("X-Map-Copyright"))
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Errorf("rendered %v", img.Bounds())
	}
	if got := color.NRGBAModel.Convert(img.At(32, 32)).(color.NRGBA); got.A == 0 {
		t.Error("tile not drawn at the centre")
	}
}

func TestRenderErrors(t *testing.T) {
	a := newTestAPI(t)
	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"mismatched draw mode", "/api/v1/render?lat=10&lon=10&mpp=32&width=64&height=64&drawmode=latlon", http.StatusConflict},
		{"unknown source", "/api/v1/render?source=999&lat=10&lon=10&mpp=32&width=64&height=64", http.StatusNotFound},
		{"zero width", "/api/v1/render?lat=10&lon=10&mpp=32&width=0&height=64", http.StatusBadRequest},
		{"bad latitude", "/api/v1/render?lat=100&lon=10&mpp=32&width=64&height=64", http.StatusBadRequest},
		{"bad draw mode", "/api/v1/render?lat=10&lon=10&mpp=32&width=64&height=64&drawmode=polar", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := a.do(t, http.MethodGet, tt.target, nil)
			if w.Code != tt.code {
				t.Errorf("status %d, want %d: %s", w.Code, tt.code, env.Message)
			}
			if env.Success {
				t.Error("error response marked successful")
			}
		})
	}
}

func TestDownload(t *testing.T) {
	a := newTestAPI(t)
	body := map[string]any{
		"source":  mapsource.IDOSMMapnik,
		"min_lat": 51.48, "min_lon": -0.16,
		"max_lat": 51.52, "max_lon": -0.08,
		"zoom":    12,
		"dry_run": true,
	}

	w, env := a.do(t, http.MethodPost, "/api/v1/download", body)
	if w.Code != http.StatusOK {
		t.Fatalf("dry run = %d %s", w.Code, env.Message)
	}
	var counted struct {
		Tiles int `json:"tiles"`
	}
	json.Unmarshal(env.Data, &counted)
	if counted.Tiles == 0 {
		t.Fatal("dry run counted nothing")
	}

	body["dry_run"] = false
	w, env = a.do(t, http.MethodPost, "/api/v1/download", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("download = %d %s", w.Code, env.Message)
	}
	a.pool.Wait()

	w, env = a.do(t, http.MethodPost, "/api/v1/download", body)
	if w.Code != http.StatusOK || env.Message != "nothing to download" {
		t.Errorf("repeat download = %d %q", w.Code, env.Message)
	}

	body["mode"] = "sometimes"
	if w, _ := a.do(t, http.MethodPost, "/api/v1/download", body); w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode = %d", w.Code)
	}
	body["mode"] = "missing"
	body["source"] = 999
	if w, _ := a.do(t, http.MethodPost, "/api/v1/download", body); w.Code != http.StatusNotFound {
		t.Errorf("unknown source = %d", w.Code)
	}
}

func TestDownloadUTMSource(t *testing.T) {
	a := newTestAPI(t)
	body := map[string]any{
		"source":  mapsource.IDTerraserverAerial,
		"min_lat": 40.70, "min_lon": -74.02,
		"max_lat": 40.72, "max_lon": -74.00,
		"zoom":    13,
		"dry_run": true,
	}

	w, env := a.do(t, http.MethodPost, "/api/v1/download", body)
	if w.Code != http.StatusOK {
		t.Fatalf("dry run = %d %s", w.Code, env.Message)
	}
	var counted struct {
		Tiles int `json:"tiles"`
	}
	json.Unmarshal(env.Data, &counted)
	if counted.Tiles == 0 {
		t.Fatal("dry run counted nothing for a lat/lon box")
	}
}

func TestTasks(t *testing.T) {
	a := newTestAPI(t)

	w, env := a.do(t, http.MethodGet, "/api/v1/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tasks = %d", w.Code)
	}
	var list usecase.TaskList
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Running) != 0 {
		t.Errorf("idle pool lists %v", list.Running)
	}

	if w, _ := a.do(t, http.MethodDelete, "/api/v1/tasks/12345", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel unknown = %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodDelete, "/api/v1/tasks/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("cancel bad id = %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodDelete, "/api/v1/tasks", nil); w.Code != http.StatusOK {
		t.Errorf("cancel all = %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/v1/tasks/ack", nil); w.Code != http.StatusOK {
		t.Errorf("ack all = %d", w.Code)
	}
}

func TestCache(t *testing.T) {
	a := newTestAPI(t)

	w, env := a.do(t, http.MethodGet, "/api/v1/cache", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cache = %d", w.Code)
	}
	var stats usecase.CacheStats
	json.Unmarshal(env.Data, &stats)
	if stats.MaxBytes != a.prefs.MapCacheBytes() {
		t.Errorf("max bytes %d, want %d", stats.MaxBytes, a.prefs.MapCacheBytes())
	}

	a.lru.Add(cache.Key{Source: mapsource.IDOSMMapnik}, image.NewRGBA(image.Rect(0, 0, 4, 4)), cache.Extra{})
	if w, _ := a.do(t, http.MethodDelete, "/api/v1/cache/13", nil); w.Code != http.StatusOK {
		t.Errorf("flush source = %d", w.Code)
	}
	if a.lru.Count() != 0 {
		t.Error("source flush left its tile")
	}
	if w, _ := a.do(t, http.MethodDelete, "/api/v1/cache/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("flush unknown = %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodDelete, "/api/v1/cache", nil); w.Code != http.StatusOK {
		t.Errorf("flush = %d", w.Code)
	}
}

func TestPreferences(t *testing.T) {
	a := newTestAPI(t)

	w, env := a.do(t, http.MethodPut, "/api/v1/preferences", map[string]any{"maps_max_tiles": 50})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d %s", w.Code, env.Message)
	}
	if got := a.prefs.Snapshot(); got.MaxTiles != 50 || got.MapCacheSizeMB != 48 {
		t.Errorf("preferences after update %+v", got)
	}

	w, _ = a.do(t, http.MethodPut, "/api/v1/preferences", map[string]any{"maps_max_tiles": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid update = %d", w.Code)
	}
	if a.prefs.Snapshot().MaxTiles != 50 {
		t.Error("invalid update was applied")
	}

	w, env = a.do(t, http.MethodGet, "/api/v1/preferences", nil)
	var p config.Prefs
	json.Unmarshal(env.Data, &p)
	if w.Code != http.StatusOK || p.MaxTiles != 50 {
		t.Errorf("get = %d %+v", w.Code, p)
	}
}

func TestEventStream(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for a.bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	a.bus.Publish(events.Event{Kind: events.TileReady, Source: 13, X: 1, Y: 2})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatal(err)
	}
	if e.Kind != events.TileReady || e.X != 1 || e.Y != 2 {
		t.Errorf("event %+v", e)
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
