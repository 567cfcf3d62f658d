package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"booking-service/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates or mints a request id and stores it on the request context
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog writes one structured line per request
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.C(c.Request.Context()).Info()
		if status >= 500 {
			ev = logger.C(c.Request.Context()).Error()
		} else if status >= 400 {
			ev = logger.C(c.Request.Context()).Warn()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("request")
	}
}
