package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1/dto"
)

func (h *Handler) Sources(c *gin.Context) {
	srcs := h.maps.Sources()
	out := make([]dto.SourceResponse, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, dto.NewSourceResponse(s))
	}
	h.RespondWithJSON(c, http.StatusOK, "map sources", out)
}

func (h *Handler) Source(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrInvalidID.Error(), nil)
		return
	}
	s, ok := h.maps.Source(id)
	if !ok {
		h.RespondWithJSON(c, http.StatusNotFound, "map source not found", nil)
		return
	}
	h.RespondWithJSON(c, http.StatusOK, "map source", dto.NewSourceResponse(s))
}
