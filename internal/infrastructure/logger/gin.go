package logger

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// redactedParams never reach the access log
var redactedParams = []string{"access_token"}

// GinMiddleware writes one access log entry per request and attaches a
// request-scoped logger to the request context. Streaming requests (SSE and
// WebSocket) additionally log when they open, since they may stay up for hours.
func GinMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetString("request_id")

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		}
		if loc := c.Param("location"); loc != "" {
			fields = append(fields, zap.String("session", loc+"/"+c.Param("date")))
		}
		reqLogger := logger.With(fields...)

		ctx := WithContext(c.Request.Context(), reqLogger)
		if requestID != "" {
			ctx = WithRequestID(ctx, requestID)
		}
		c.Request = c.Request.WithContext(ctx)

		streaming := isStream(c.Request)
		if streaming {
			reqLogger.Info("Stream opened", zap.String("client_ip", c.ClientIP()))
		}

		c.Next()

		status := c.Writer.Status()
		entry := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if actor := GetActor(c.Request.Context()); actor != "" {
			entry = append(entry, zap.String("actor", actor))
		}
		if query := redactQuery(c.Request.URL.RawQuery); query != "" {
			entry = append(entry, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			entry = append(entry, zap.Strings("errors", c.Errors.Errors()))
		}

		msg := "HTTP Request"
		if streaming {
			msg = "Stream closed"
		}
		switch {
		case status >= 500:
			reqLogger.Error(msg, entry...)
		case status >= 400:
			reqLogger.Warn(msg, entry...)
		default:
			reqLogger.Info(msg, entry...)
		}
	}
}

// Recovery turns a panic into a 500 and logs it with the stack
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.String("request_id", c.GetString("request_id")),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.Stack("stacktrace"),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func isStream(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}
	for _, p := range redactedParams {
		if values.Has(p) {
			values.Set(p, "REDACTED")
		}
	}
	return values.Encode()
}
