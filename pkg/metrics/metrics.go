package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapcache_hits_total",
		Help: "Total number of tile cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapcache_misses_total",
		Help: "Total number of tile cache misses",
	})

	CacheStores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapcache_stores_total",
		Help: "Total number of tile cache insertions",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapcache_evictions_total",
		Help: "Total number of tiles evicted by the LRU budget",
	})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapcache_bytes",
		Help: "Bytes accounted by the tile cache",
	})

	DiskReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestore_reads_total",
		Help: "Tile reads from the disk store by outcome",
	}, []string{"outcome"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_decode_errors_total",
		Help: "Tiles that failed to decode, by map source",
	}, []string{"source"})

	DownloadResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_download_results_total",
		Help: "Tile download results by map source and result",
	}, []string{"source", "result"})

	DownloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tile_download_duration_seconds",
		Help:    "Duration of tile downloads in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	BackgroundTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "background_tasks",
		Help: "Background tasks by pool and state",
	}, []string{"pool", "state"})

	// Redis metrics
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_operation_duration_seconds",
		Help:    "Duration of Redis operations in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation"})

	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_errors_total",
		Help: "Total number of Redis errors",
	}, []string{"operation"})
)
