package observe

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GinMetrics returns Gin middleware that records request duration to
// [Metrics.HTTPRequestDuration] and logs request completion.
//
// Tracing is otelgin's job; this middleware only covers the metric and log
// side, using the route template (not the raw path) as the attribute so
// /api/accounts/:creator stays one series regardless of handle.
func GinMetrics(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			// Unmatched routes (404s) share one series instead of
			// exploding cardinality per probe path.
			route = "unmatched"
		}
		duration := time.Since(start)
		m.HTTPRequestDuration.Record(c.Request.Context(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", c.Request.Method),
				attribute.String("route", route),
			),
		)

		Logger(c.Request.Context()).LogAttrs(c.Request.Context(), slog.LevelInfo, "request completed",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", duration),
		)
	}
}
