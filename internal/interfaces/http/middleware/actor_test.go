package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/erp/receiving/internal/infrastructure/auth"
	"github.com/erp/receiving/internal/infrastructure/config"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/erp/receiving/internal/interfaces/http/dto"
)

func actorRouter(cfg ActorConfig, seen *string, ctxActor *string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Actor(cfg))
	r.GET("/whoami", func(c *gin.Context) {
		*seen = GetActor(c)
		*ctxActor = logger.GetActor(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return r
}

func TestActor_Header(t *testing.T) {
	var seen, ctxActor string
	r := actorRouter(ActorConfig{}, &seen, &ctxActor)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Actor", "  alice ")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", seen)
	assert.Equal(t, "alice", ctxActor)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code, "a missing actor is left for the engine to reject")
	assert.Empty(t, seen)
}

func TestActor_Token(t *testing.T) {
	verifier, err := auth.NewTokenVerifier(config.AuthConfig{JWTSecret: "test-secret-key-at-least-32-chars", Issuer: "receiving"})
	require.NoError(t, err)
	token, err := verifier.Sign("bob", "Bob", time.Minute)
	require.NoError(t, err)
	expired, err := verifier.Sign("bob", "Bob", -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name      string
		header    string
		query     string
		xActor    string
		wantCode  int
		wantActor string
		errCode   string
	}{
		{"bearer header", "Bearer " + token, "", "", http.StatusOK, "bob", ""},
		{"query token", "", token, "", http.StatusOK, "bob", ""},
		{"header actor ignored", "Bearer " + token, "", "mallory", http.StatusOK, "bob", ""},
		{"missing token", "", "", "alice", http.StatusUnauthorized, "", dto.ErrCodeUnauthorized},
		{"expired token", "Bearer " + expired, "", "", http.StatusUnauthorized, "", dto.ErrCodeTokenInvalid},
		{"garbage token", "Bearer abc", "", "", http.StatusUnauthorized, "", dto.ErrCodeTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen, ctxActor string
			r := actorRouter(ActorConfig{Verifier: verifier}, &seen, &ctxActor)

			target := "/whoami"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.xActor != "" {
				req.Header.Set("X-Actor", tt.xActor)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantActor, seen)
			if tt.errCode != "" {
				var resp dto.Response
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.errCode, resp.Error.Code)
				assert.NotEmpty(t, resp.Error.RequestID)
			}
		})
	}
}

func TestTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(original) })

	r := gin.New()
	r.Use(Tracing("receiving-test"), RequestID(), Actor(ActorConfig{}), TraceAttributes())
	r.GET("/sessions/:location/:date/progress", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/sessions/DOCK-1/2026-03-02/progress", nil)
	req.Header.Set("X-Actor", "alice")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1, "health checks are not traced")
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "alice", attrs["receiving.actor"])
	assert.Equal(t, "DOCK-1/2026-03-02", attrs["receiving.session"])
	assert.NotEmpty(t, attrs["request_id"])
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	mw, err := HTTPMetrics(mp.Meter("test"))
	require.NoError(t, err)
	r := gin.New()
	r.Use(mw)
	r.GET("/sessions/:location/:date/progress", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/DOCK-1/2026-03-02/progress", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	byRoute := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_server_request_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				route, _ := dp.Attributes.Value("http.route")
				byRoute[route.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), byRoute["/sessions/:location/:date/progress"])
	assert.Equal(t, int64(1), byRoute["unmatched"])
}
