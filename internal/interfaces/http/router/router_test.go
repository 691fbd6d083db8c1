package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/receiving/internal/infrastructure/config"
	"github.com/erp/receiving/internal/interfaces/http/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	assert.NotNil(t, r)
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)
}

func TestRouterWithAPIVersion(t *testing.T) {
	r := NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v1"))

	group := NewDomainGroup("test", "/test")
	group.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.Register(group).Setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/test/ping", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestDomainGroup(t *testing.T) {
	t.Run("creates group with name and prefix", func(t *testing.T) {
		g := NewDomainGroup("receiving", "/receiving")
		assert.Equal(t, "receiving", g.Name())
		assert.Equal(t, "/receiving", g.Prefix())
	})

	t.Run("registers routes per method", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test")
		g.GET("/items", func(c *gin.Context) { c.String(http.StatusOK, "get") })
		g.POST("/items", func(c *gin.Context) { c.String(http.StatusCreated, "post") })
		g.PUT("/items", func(c *gin.Context) { c.String(http.StatusOK, "put") })
		g.RegisterRoutes(engine.Group("/api/v1"))

		for method, want := range map[string]string{
			http.MethodGet:  "get",
			http.MethodPost: "post",
			http.MethodPut:  "put",
		} {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(method, "/api/v1/test/items", nil))
			assert.Equal(t, want, w.Body.String(), method)
		}
	})

	t.Run("applies group middleware", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test").Use(func(c *gin.Context) {
			c.Header("X-Group", "test")
			c.Next()
		})
		g.GET("/items", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test/items", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "test", w.Header().Get("X-Group"))
	})
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(EngineDeps{
		Receiving: handler.NewReceivingHandler(nil),
		HTTP: config.HTTPConfig{
			MaxBodySize:      64,
			CORSAllowOrigins: []string{"https://dock.example.com"},
		},
	})
	require.NoError(t, err)

	routes := map[string]bool{}
	for _, r := range engine.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/receiving/sessions/:location/:date/scans",
		"GET /api/v1/receiving/sessions/:location/:date/progress",
		"POST /api/v1/receiving/sessions/:location/:date/complete",
		"GET /api/v1/receiving/sessions/:location/:date/snapshot",
		"PUT /api/v1/receiving/sessions/:location/:date/manifest",
	} {
		assert.True(t, routes[want], want)
	}
	assert.False(t, routes["GET /api/v1/receiving/sessions/:location/:date/events"], "stream routes need a stream handler")

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/receiving/sessions/DOCK-1/2024-05-02/scans", nil)
		req.Header.Set("Origin", "https://dock.example.com")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://dock.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("request id and body limit", func(t *testing.T) {
		body := `{"package_id":"` + strings.Repeat("x", 128) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/receiving/sessions/DOCK-1/2024-05-02/scans", strings.NewReader(body))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})
}
