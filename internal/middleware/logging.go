package middleware

import (
	"time"

	"paygate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags every request with an id and writes one access log line.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)

		c.Next()

		log := logger.SW(
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		switch {
		case len(c.Errors) > 0:
			log.Errorw("http_request", "errors", c.Errors.String())
		case c.Writer.Status() >= 500:
			log.Errorw("http_request")
		case c.Writer.Status() >= 400:
			log.Warnw("http_request")
		default:
			log.Infow("http_request")
		}
	}
}
