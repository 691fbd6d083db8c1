// Package middleware provides the gin middleware of the receiving API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/receiving/internal/infrastructure/telemetry"
)

// Tracing opens a server span per request through otelgin. Health checks are not traced.
func Tracing(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/health"
	}))
}

// TraceAttributes tags the server span with the request ID, the actor and
// the session path, and marks it failed on 5xx. It runs after RequestID and Actor.
func TraceAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			attrs := []attribute.KeyValue{attribute.String("request_id", GetRequestID(c))}
			if actor := GetActor(c); actor != "" {
				attrs = append(attrs, attribute.String(telemetry.SpanAttrActor, actor))
			}
			if loc := c.Param("location"); loc != "" {
				attrs = append(attrs, attribute.String(telemetry.SpanAttrSession, loc+"/"+c.Param("date")))
			}
			span.SetAttributes(attrs...)
		}

		c.Next()

		if span.IsRecording() && c.Writer.Status() >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}
