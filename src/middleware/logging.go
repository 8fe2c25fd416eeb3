package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/rs/zerolog"
)

// LoggingMiddleware writes one structured line per request. Successful requests
// to quietRoutes (health checks) are logged at debug level.
func LoggingMiddleware(quietRoutes ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(quietRoutes))
	for _, r := range quietRoutes {
		quiet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		logger := logging.FromContext(c.Request.Context(), "http")

		var event *zerolog.Event
		switch _, isQuiet := quiet[route]; {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case isQuiet:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		if event == nil {
			return
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int64("request_bytes", c.Request.ContentLength).
			Int("response_bytes", c.Writer.Size()).
			Str("client_ip", c.ClientIP())

		if source := c.Param("source"); source != "" {
			event.Str("source", source)
		}
		if company := c.Param("company_id"); company != "" {
			event.Str("company_id", company)
		}
		if actor, ok := GetActor(c); ok {
			event.Str("actor", actor.UserID)
		}
		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.String())
		}

		event.Msg("request")
	}
}
