package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/rs/zerolog"
)

// RequestLogger assigns the request id, records the start time for the
// envelope's elapsed_ms and writes one access log line per request.
// Health checks are logged at debug level.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		reqID := response.ResolveRequestID(c.GetHeader(response.HeaderRequestID))
		c.Set(response.ContextKeyRequestID, reqID)
		c.Set(response.ContextKeyStartedAt, start)
		c.Header(response.HeaderRequestID, reqID)

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case c.Request.URL.Path == "/health":
			event = log.Debug()
		default:
			event = log.Info()
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		event.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int("size", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("Request handled")
	}
}
