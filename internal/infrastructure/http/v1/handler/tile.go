package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/backend/maps/internal/background"
	"github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase/maplayer"
	"github.com/jaennil/guide_helper/backend/maps/pkg/telemetry"
)

// Render draws one viewport of a source and returns it as PNG.
func (h *Handler) Render(c *gin.Context) {
	l := requestLogger(c)

	var q dto.RenderQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		l.Warn("invalid render query", "error", err)
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.validate.Struct(q); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	req := usecase.RenderRequest{
		SourceID: h.defaultSource,
		Center:   projection.LatLon{Lat: q.Lat, Lon: q.Lon},
		Mpp:      q.Mpp,
		Width:    q.Width,
		Height:   q.Height,
		Alpha:    255,
	}
	if q.Source != nil {
		req.SourceID = *q.Source
	}
	if q.Alpha != nil {
		req.Alpha = uint8(*q.Alpha)
	}
	if q.DrawMode != "" {
		mode, err := projection.ParseDrawMode(q.DrawMode)
		if err != nil {
			h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		req.DrawMode = &mode
	}

	c.Set(telemetry.SourceKey, req.SourceID)

	sink, err := h.maps.Render(c.Request.Context(), req)
	switch {
	case errors.Is(err, maplayer.ErrUnknownSource):
		h.RespondWithJSON(c, http.StatusNotFound, err.Error(), nil)
		return
	case errors.Is(err, maplayer.ErrDrawModeMismatch):
		h.RespondWithJSON(c, http.StatusConflict, strings.Join(sink.Statuses(), "; "), nil)
		return
	case errors.Is(err, usecase.ErrInvalidRequest):
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	case err != nil:
		l.Error("render failed", "source", req.SourceID, "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	var buf bytes.Buffer
	if err := sink.EncodePNG(&buf); err != nil {
		l.Error("failed to encode render", "source", req.SourceID, "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	if cr := sink.Copyrights(); len(cr) > 0 {
		c.Header("X-Map-Copyright", strings.Join(cr, "; "))
	}
	if st := sink.Statuses(); len(st) > 0 {
		c.Header("X-Map-Status", strings.Join(st, "; "))
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// Download queues the tiles of a bounding box, or only counts them.
func (h *Handler) Download(c *gin.Context) {
	l := requestLogger(c)

	var body dto.DownloadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		l.Warn("invalid download request", "error", err)
		h.RespondWithJSON(c, http.StatusBadRequest, ErrFailedToDecodeRequestBody.Error(), nil)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	mode := maplayer.ModeNone
	if body.Mode != "" {
		m, err := maplayer.ParseMode(body.Mode)
		if err != nil {
			h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		mode = m
	}
	req := usecase.DownloadRequest{
		SourceID: body.Source,
		UL:       projection.LatLon{Lat: body.MaxLat, Lon: body.MinLon},
		BR:       projection.LatLon{Lat: body.MinLat, Lon: body.MaxLon},
		Mpp:      body.Metres(),
		Mode:     mode,
	}
	c.Set(telemetry.SourceKey, req.SourceID)

	if body.DryRun {
		n, err := h.maps.HowManyToGet(c.Request.Context(), req)
		if err != nil {
			h.respondDownloadError(c, req, err)
			return
		}
		h.RespondWithJSON(c, http.StatusOK, "counted tiles", dto.DownloadResponse{Tiles: n})
		return
	}

	sub, err := h.maps.Download(c.Request.Context(), req)
	if err != nil {
		h.respondDownloadError(c, req, err)
		return
	}

	resp := newDownloadResponse(sub)
	switch {
	case sub.Queued:
		h.RespondWithJSON(c, http.StatusAccepted, "download queued", resp)
	case sub.TaskID != background.ID(0):
		h.RespondWithJSON(c, http.StatusOK, "download already in progress", resp)
	default:
		h.RespondWithJSON(c, http.StatusOK, "nothing to download", resp)
	}
}

// Verify queues a check of the tiles on disk in a bounding box.
func (h *Handler) Verify(c *gin.Context) {
	var body dto.DownloadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrFailedToDecodeRequestBody.Error(), nil)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	req := usecase.DownloadRequest{
		SourceID: body.Source,
		UL:       projection.LatLon{Lat: body.MaxLat, Lon: body.MinLon},
		BR:       projection.LatLon{Lat: body.MinLat, Lon: body.MaxLon},
		Mpp:      body.Metres(),
	}
	c.Set(telemetry.SourceKey, req.SourceID)

	sub, err := h.maps.Verify(c.Request.Context(), req)
	if err != nil {
		h.respondDownloadError(c, req, err)
		return
	}
	resp := newDownloadResponse(sub)
	switch {
	case sub.Queued:
		h.RespondWithJSON(c, http.StatusAccepted, "verification queued", resp)
	case sub.TaskID != background.ID(0):
		h.RespondWithJSON(c, http.StatusOK, "verification already in progress", resp)
	default:
		h.RespondWithJSON(c, http.StatusOK, "nothing to verify", resp)
	}
}

func (h *Handler) respondDownloadError(c *gin.Context, req usecase.DownloadRequest, err error) {
	switch {
	case errors.Is(err, maplayer.ErrUnknownSource):
		h.RespondWithJSON(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, maplayer.ErrDirectAccess), errors.Is(err, mapsource.ErrNoDownloader):
		h.RespondWithJSON(c, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, projection.ErrUnsupported):
		h.RespondWithJSON(c, http.StatusBadRequest, "wrong zoom level for this map: "+err.Error(), nil)
	default:
		requestLogger(c).Error("download request failed", "source", req.SourceID, "error", err)
		h.RespondWithInternalServerError(c)
	}
}

func newDownloadResponse(sub maplayer.Submission) dto.DownloadResponse {
	resp := dto.DownloadResponse{TaskID: int64(sub.TaskID), Tiles: sub.Tiles, Queued: sub.Queued}
	for _, id := range sub.Tasks {
		resp.Tasks = append(resp.Tasks, int64(id))
	}
	return resp
}
