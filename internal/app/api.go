package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/jaennil/guide_helper/backend/maps/internal/background"
	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/events"
	v1 "github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1"
	"github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tasklog"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase/maplayer"
	"github.com/jaennil/guide_helper/backend/maps/pkg/config"
	"github.com/jaennil/guide_helper/backend/maps/pkg/http_server"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
	"github.com/jaennil/guide_helper/backend/maps/pkg/telemetry"
)

const shutdownTimeout = 30 * time.Second

// Maps is the application context shared by the HTTP surface and the
// prefetch tool.
type Maps struct {
	Prefs    *config.Preferences
	Store    *tilestore.Store
	Registry *mapsource.Registry
	Cache    *cache.LRU
	Blobs    cache.BlobCache
	Engine   *download.Engine
	Bus      *events.Bus
	Remote   *background.Pool
	Local    *background.Pool
	TaskLog  *tasklog.Log

	logger logger.Logger
	redis  *cache.RedisCache
}

// CacheRoot picks the tile cache root: MAPS_CACHE_DIR, then VIKING_MAPS,
// then the default search. The bool is true when the default was used.
func CacheRoot(cfg *config.Config) (string, bool) {
	if cfg.Maps.CacheDir != "" {
		return cfg.Maps.CacheDir, false
	}
	if cfg.VikingMaps != "" {
		return cfg.VikingMaps, true
	}
	return tilestore.DefaultRoot(nil), true
}

// NewMaps builds the application context. Optional collaborators that
// fail to start are logged and left out.
func NewMaps(cfg *config.Config, l logger.Logger) (*Maps, error) {
	l = logger.OrNop(l)

	prefsPath := config.PreferencesPath(cfg.Maps.VikingDir)
	prefs, err := config.LoadPreferences(prefsPath)
	if err != nil {
		return nil, err
	}
	p := prefs.Snapshot()
	l.Info("preferences loaded", "path", prefsPath, "mapcache_size", p.MapCacheSizeMB, "layout", p.CacheLayout)

	root, isDefault := CacheRoot(cfg)
	store := tilestore.New(root, isDefault, func() tilestore.Layout {
		return tilestore.Layout(prefs.Snapshot().CacheLayout)
	}, l)
	l.Info("tile cache root", "path", root, "default", isDefault)

	reg := mapsource.NewRegistry(l)
	mapsource.RegisterBuiltins(reg, mapsource.BuiltinOptions{CacheRoot: root}, l)
	if cfg.Maps.SourcesFile != "" {
		if _, err := mapsource.LoadUserSources(cfg.Maps.SourcesFile, reg, l); err != nil {
			l.Warn("failed to load user map sources", "file", cfg.Maps.SourcesFile, "error", err)
		}
	}

	m := &Maps{
		Prefs:    prefs,
		Store:    store,
		Registry: reg,
		Cache:    cache.NewLRU(prefs.MapCacheBytes, l),
		Blobs:    cache.NopBlobCache{},
		Bus:      events.NewBus(l),
		logger:   l,
	}

	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			l.Warn("redis blob cache unavailable", "addr", cfg.Redis.Addr, "error", err)
		} else {
			m.redis = rc
			m.Blobs = rc
			l.Info("redis blob cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	logPath := cfg.Maps.TaskLogPath
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(prefsPath), "maps_tasks.db")
	}
	var recorder background.Recorder
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		l.Warn("task log unavailable", "path", logPath, "error", err)
	} else if tl, err := tasklog.New(logPath, l); err != nil {
		l.Warn("task log unavailable", "path", logPath, "error", err)
	} else {
		m.TaskLog = tl
		recorder = tl
	}

	client, err := download.NewHTTPClient(download.TLSConfig{
		VerifyPeer: p.SSLVerifyPeer,
		CAFile:     p.CAInfo,
		Timeout:    cfg.HTTP.Timeout,
	})
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Engine = download.NewEngine(client, nil, store, download.Config{UserAgent: cfg.Maps.UserAgent}, l)

	m.Remote = background.NewPool(background.Config{
		Name:       "remote",
		MaxWorkers: p.MaxThreads,
		Bus:        m.Bus,
		Recorder:   recorder,
		Logger:     l,
	})
	m.Local = background.NewPool(background.Config{
		Name:       "local",
		MaxWorkers: p.MaxThreadsLocal,
		Bus:        m.Bus,
		Recorder:   recorder,
		Logger:     l,
	})

	return m, nil
}

func (m *Maps) LayerDeps() maplayer.Deps {
	return maplayer.Deps{
		Registry:   m.Registry,
		Cache:      m.Cache,
		Blobs:      m.Blobs,
		Store:      m.Store,
		Downloader: m.Engine,
		Pool:       m.Remote,
		LocalPool:  m.Local,
		Bus:        m.Bus,
		Prefs:      m.Prefs,
		Logger:     m.logger,
	}
}

// Close stops the pools first so no task outlives the stores it writes.
func (m *Maps) Close() {
	if m.Remote != nil {
		m.Remote.Close()
	}
	if m.Local != nil {
		m.Local.Close()
	}
	if m.Engine != nil {
		m.Engine.Close()
	}
	if m.TaskLog != nil {
		if err := m.TaskLog.Close(); err != nil {
			m.logger.Error("failed to close task log", "error", err)
		}
	}
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Error("failed to close redis", "error", err)
		}
	}
	if err := m.Registry.Close(); err != nil {
		m.logger.Error("failed to close map sources", "error", err)
	}
}

func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger)
	defer l.Sync()

	l.Info("app config", "cfg", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, l)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
		l.Info("telemetry initialized", "service", cfg.Telemetry.ServiceName)
	}

	maps, err := NewMaps(cfg, l)
	if err != nil {
		l.Fatal("failed to initialize maps", "error", err)
	}
	defer maps.Close()

	mapUseCase := usecase.NewMapUseCase(maps.LayerDeps(), true, l)
	defer mapUseCase.Close()

	var taskLog usecase.TaskLog
	if maps.TaskLog != nil {
		taskLog = maps.TaskLog
	}

	h := handler.NewHandler(handler.Deps{
		Validate:      validator.New(),
		Maps:          mapUseCase,
		Cache:         usecase.NewTileCacheUseCase(maps.Cache, maps.Registry, l),
		Tasks:         usecase.NewTaskUseCase(taskLog, l, maps.Remote, maps.Local),
		Preferences:   maps.Prefs,
		Bus:           maps.Bus,
		DefaultSource: cfg.Maps.DefaultSource,
	})
	router := v1.NewRouter(h, l.Named("http"), cfg.Telemetry.Enabled)

	httpServer := http_server.NewServer(ctx, cfg.HTTP.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info("starting http server...", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		l.Info("shutting down http server...", "address", httpServer.Addr)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			l.Error("http server shutdown failed", "error", err)
			return err
		}
		l.Info("http_server shutdown completed")
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("http server failed", "error", err)
	}

	l.Info("application shutdown completed")
}
