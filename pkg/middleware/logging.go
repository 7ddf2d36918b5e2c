package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request correlation ID
const RequestIDHeader = "X-Request-ID"

// DurationObserver receives the latency of every request
type DurationObserver func(method, route string, status int, d time.Duration)

// RequestLogger logs one line per request and assigns a request ID
func RequestLogger(observe DurationObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		if observe != nil {
			observe(c.Request.Method, route, status, elapsed)
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		if uid := c.GetString(ContextKeyUserID); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}

		log := logger.Get()
		switch {
		case status >= 500:
			log.ErrorContext(c.Request.Context(), "request failed", fields...)
		case status >= 400:
			log.WarnContext(c.Request.Context(), "request rejected", fields...)
		default:
			log.InfoContext(c.Request.Context(), "request", fields...)
		}
	}
}
