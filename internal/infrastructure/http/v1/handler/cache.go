package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1/dto"
)

func (h *Handler) CacheStats(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusOK, "tile cache", h.cache.Stats())
}

func (h *Handler) FlushCache(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusOK, "tile cache flushed", h.cache.Flush())
}

func (h *Handler) FlushSourceCache(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("source"))
	if err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrInvalidID.Error(), nil)
		return
	}
	n, ok := h.cache.FlushSource(id)
	if !ok {
		h.RespondWithJSON(c, http.StatusNotFound, "map source not found", nil)
		return
	}
	h.RespondWithJSON(c, http.StatusOK, "tile cache flushed", dto.FlushResponse{Source: id, Removed: n})
}
