package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaennil/guide_helper/backend/maps/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
	"github.com/jaennil/guide_helper/backend/maps/pkg/telemetry"
)

func NewRouter(handler *handler.Handler, l logger.Logger, telemetryEnabled bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware("guide-helper-maps"))
	}

	r.Use(ginZapLogger(logger.OrNop(l)))

	api := r.Group("/api")
	v1 := api.Group("/v1")

	v1.GET("/healthz", handler.Healthz)

	v1.GET("/sources", handler.Sources)
	v1.GET("/sources/:id", handler.Source)

	v1.GET("/render", handler.Render)
	v1.POST("/download", handler.Download)
	v1.POST("/verify", handler.Verify)

	tasks := v1.Group("/tasks")
	tasks.GET("", handler.Tasks)
	tasks.DELETE("", handler.CancelAllTasks)
	tasks.DELETE("/:id", handler.CancelTask)
	tasks.POST("/ack", handler.AcknowledgeAllTasks)
	tasks.POST("/:id/ack", handler.AcknowledgeTask)

	cache := v1.Group("/cache")
	cache.GET("", handler.CacheStats)
	cache.DELETE("", handler.FlushCache)
	cache.DELETE("/:source", handler.FlushSourceCache)

	v1.GET("/preferences", handler.Preferences)
	v1.PUT("/preferences", handler.UpdatePreferences)

	v1.GET("/events", handler.Events)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("logger", l)

		start := time.Now()

		c.Next()

		latency := time.Since(start)

		l.Info("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", latency,
			"size", c.Writer.Size(),
		)
	}
}
