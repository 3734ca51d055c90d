package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/jaennil/guide_helper/backend/maps/internal/events"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase"
	"github.com/jaennil/guide_helper/backend/maps/pkg/config"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

const (
	internalServerErrorText = "the server encountered an error and could not process your request"
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Deps struct {
	Validate    *validator.Validate
	Maps        *usecase.MapUseCase
	Cache       *usecase.TileCacheUseCase
	Tasks       *usecase.TaskUseCase
	Preferences *config.Preferences
	Bus         *events.Bus
	// DefaultSource is rendered when a request names none.
	DefaultSource int
}

type Handler struct {
	validate      *validator.Validate
	maps          *usecase.MapUseCase
	cache         *usecase.TileCacheUseCase
	tasks         *usecase.TaskUseCase
	prefs         *config.Preferences
	bus           *events.Bus
	defaultSource int
	upgrader      websocket.Upgrader
}

func NewHandler(d Deps) *Handler {
	v := d.Validate
	if v == nil {
		v = validator.New()
	}
	return &Handler{
		validate:      v,
		maps:          d.Maps,
		cache:         d.Cache,
		tasks:         d.Tasks,
		prefs:         d.Preferences,
		bus:           d.Bus,
		defaultSource: d.DefaultSource,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusInternalServerError, internalServerErrorText, nil)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}

func requestLogger(c *gin.Context) logger.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return logger.FromContext(c.Request.Context())
}
