package telemetry

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// SourceKey is the gin context key handlers set to the map source id they
// served. It ends up on the request span as maps.source.
const SourceKey = "maps.source"

var untraced = map[string]bool{
	"/api/v1/healthz": true,
	"/api/v1/events":  true,
	"/metrics":        true,
}

// GinMiddleware returns a Gin middleware that creates a server span per request.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)

	return func(c *gin.Context) {
		if untraced[c.Request.URL.Path] {
			c.Next()
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(c.Request.Method),
				semconv.URLPath(c.Request.URL.Path),
				semconv.HTTPRoute(c.FullPath()),
				semconv.ServerAddress(c.Request.Host),
				semconv.UserAgentOriginal(c.Request.UserAgent()),
				semconv.ClientAddress(c.ClientIP()),
				semconv.ServiceName(serviceName),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPResponseStatusCode(status),
			attribute.Int("http.response.size", c.Writer.Size()),
		)
		if id, ok := c.Get(SourceKey); ok {
			if n, ok := id.(int); ok {
				span.SetAttributes(attribute.Int(SourceKey, n))
			}
		}

		// Client errors such as a draw mode mismatch are not span failures.
		if status >= 500 {
			span.SetStatus(codes.Error, c.Errors.String())
			if len(c.Errors) > 0 {
				span.RecordError(c.Errors.Last())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
