package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/backend/maps/internal/background"
	"github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1/dto"
)

func (h *Handler) Tasks(c *gin.Context) {
	list, err := h.tasks.List(c.Request.Context())
	if err != nil {
		requestLogger(c).Error("failed to list tasks", "error", err)
		h.RespondWithInternalServerError(c)
		return
	}
	h.RespondWithJSON(c, http.StatusOK, "tasks", list)
}

func (h *Handler) CancelTask(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrInvalidID.Error(), nil)
		return
	}
	if !h.tasks.Cancel(background.ID(id)) {
		h.RespondWithJSON(c, http.StatusNotFound, "task not in flight", nil)
		return
	}
	h.RespondWithJSON(c, http.StatusOK, "task canceled", dto.CancelResponse{Canceled: 1})
}

func (h *Handler) CancelAllTasks(c *gin.Context) {
	n := h.tasks.CancelAll()
	h.RespondWithJSON(c, http.StatusOK, "tasks canceled", dto.CancelResponse{Canceled: n})
}

func (h *Handler) AcknowledgeTask(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrInvalidID.Error(), nil)
		return
	}
	ok, err := h.tasks.Acknowledge(c.Request.Context(), id)
	if err != nil {
		requestLogger(c).Error("failed to acknowledge task", "id", id, "error", err)
		h.RespondWithInternalServerError(c)
		return
	}
	if !ok {
		h.RespondWithJSON(c, http.StatusNotFound, "no pending task log row", nil)
		return
	}
	h.RespondWithJSON(c, http.StatusOK, "task acknowledged", dto.AckResponse{Acknowledged: 1})
}

func (h *Handler) AcknowledgeAllTasks(c *gin.Context) {
	n, err := h.tasks.AcknowledgeAll(c.Request.Context())
	if err != nil {
		requestLogger(c).Error("failed to acknowledge tasks", "error", err)
		h.RespondWithInternalServerError(c)
		return
	}
	h.RespondWithJSON(c, http.StatusOK, "tasks acknowledged", dto.AckResponse{Acknowledged: n})
}
