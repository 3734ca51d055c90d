package usecase

import (
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

// CacheStats is what the status panel shows for the tile cache.
type CacheStats struct {
	Tiles    int   `json:"tiles"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max_bytes"`
}

type TileCacheUseCase struct {
	cache    *cache.LRU
	registry *mapsource.Registry
	logger   logger.Logger
}

func NewTileCacheUseCase(c *cache.LRU, reg *mapsource.Registry, l logger.Logger) *TileCacheUseCase {
	return &TileCacheUseCase{
		cache:    c,
		registry: reg,
		logger:   logger.OrNop(l),
	}
}

func (uc *TileCacheUseCase) Stats() CacheStats {
	return CacheStats{
		Tiles:    uc.cache.Count(),
		Bytes:    uc.cache.Size(),
		MaxBytes: uc.cache.MaxBytes(),
	}
}

func (uc *TileCacheUseCase) Flush() CacheStats {
	before := uc.cache.Count()
	uc.cache.Flush()
	uc.logger.Info("tile cache flushed", "tiles", before)
	return uc.Stats()
}

// FlushSource drops the tiles of one source, e.g. after its files were
// replaced outside the program. It reports false for unknown sources.
func (uc *TileCacheUseCase) FlushSource(id int) (int, bool) {
	if _, ok := uc.registry.FindByID(id); !ok {
		return 0, false
	}
	n := uc.cache.FlushType(id)
	uc.logger.Info("tile cache flushed for source", "source", id, "tiles", n)
	return n, true
}
