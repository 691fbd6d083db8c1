package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/receiving/internal/infrastructure/config"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/erp/receiving/internal/interfaces/http/handler"
	"github.com/erp/receiving/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		registrars: make([]RouteRegistrar, 0),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup creates a route group for a specific domain
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{
		name:       name,
		prefix:     prefix,
		routes:     make([]routeDefinition, 0),
		middleware: make([]gin.HandlerFunc, 0),
	}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPut, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// NewReceivingGroup mounts the receiving session routes
func NewReceivingGroup(rh *handler.ReceivingHandler, sh *handler.StreamHandler, mw ...gin.HandlerFunc) *DomainGroup {
	const session = "/sessions/:location/:date"

	g := NewDomainGroup("receiving", "/receiving").Use(mw...)
	g.POST(session+"/scans", rh.RegisterScan)
	g.GET(session+"/progress", rh.GetProgress)
	g.POST(session+"/complete", rh.RequestCompletion)
	g.GET(session+"/snapshot", rh.GetSnapshot)
	g.PUT(session+"/manifest", rh.ReloadManifest)
	if sh != nil {
		g.GET(session+"/events", sh.Events)
		g.GET(session+"/ws", sh.WebSocket)
	}
	return g
}

// EngineDeps are the handlers and middleware settings of the HTTP surface
type EngineDeps struct {
	Receiving *handler.ReceivingHandler
	Stream    *handler.StreamHandler
	Health    *handler.HealthHandler
	Actor     middleware.ActorConfig
	HTTP      config.HTTPConfig
	Logger    *zap.Logger

	// Tracing is the service name used for server spans; empty disables tracing.
	Tracing string
	// Metrics is the optional HTTP metrics middleware
	Metrics gin.HandlerFunc
}

// NewEngine builds the gin engine with the full middleware chain
func NewEngine(deps EngineDeps) (*gin.Engine, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(deps.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = deps.HTTP.CORSAllowOrigins
	if len(deps.HTTP.CORSAllowMethods) > 0 {
		cors.AllowMethods = deps.HTTP.CORSAllowMethods
	}
	if len(deps.HTTP.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = deps.HTTP.CORSAllowHeaders
	}

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log),
		middleware.Secure(),
		middleware.CORSWithConfig(cors),
		middleware.BodyLimit(deps.HTTP.MaxBodySize),
	)
	if deps.Tracing != "" {
		engine.Use(middleware.Tracing(deps.Tracing))
	}
	if deps.Metrics != nil {
		engine.Use(deps.Metrics)
	}

	if deps.Health != nil {
		engine.GET("/health", deps.Health.Health)
	}

	if deps.Actor.Logger == nil {
		deps.Actor.Logger = log
	}
	r := NewRouter(engine)
	r.Register(NewReceivingGroup(deps.Receiving, deps.Stream,
		middleware.Actor(deps.Actor),
		middleware.TraceAttributes(),
	))
	r.Setup()
	return engine, nil
}
