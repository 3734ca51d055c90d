package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/backend/maps/pkg/config"
)

func (h *Handler) Preferences(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusOK, "preferences", h.prefs.Snapshot())
}

// UpdatePreferences merges the JSON body into the current preferences.
// Keys left out keep their value.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	l := requestLogger(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrFailedToDecodeRequestBody.Error(), nil)
		return
	}

	var decodeErr error
	next, err := h.prefs.Update(func(p *config.Prefs) {
		decodeErr = json.Unmarshal(body, p)
	})
	if decodeErr != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrFailedToDecodeRequestBody.Error(), nil)
		return
	}
	if err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if h.prefs.Path() != "" {
		if err := h.prefs.Save(); err != nil {
			l.Error("failed to save preferences", "path", h.prefs.Path(), "error", err)
			h.RespondWithInternalServerError(c)
			return
		}
	}
	l.Info("preferences updated", "max_tiles", next.MaxTiles, "mapcache_size", next.MapCacheSizeMB)
	h.RespondWithJSON(c, http.StatusOK, "preferences updated", next)
}
