package handler

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/erp/receiving/internal/interfaces/http/dto"
)

// StatsFunc reports the runtime counters of one component
type StatsFunc func() (any, error)

type namedStats struct {
	name string
	fn   StatsFunc
}

// HealthHandler reports the reachability of the backing stores
type HealthHandler struct {
	BaseHandler
	db      *gorm.DB
	redis   redis.UniversalClient
	stats   []namedStats
	timeout time.Duration
}

// HealthOption configures a HealthHandler
type HealthOption func(*HealthHandler)

// WithStats adds the counters returned by fn under details[name]. A failing
// fn reports its error there without degrading the status.
func WithStats(name string, fn StatsFunc) HealthOption {
	return func(h *HealthHandler) {
		h.stats = append(h.stats, namedStats{name: name, fn: fn})
	}
}

// NewHealthHandler creates a new HealthHandler. redisClient may be nil.
func NewHealthHandler(db *gorm.DB, redisClient redis.UniversalClient, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{db: db, redis: redisClient, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ok", Checks: map[string]string{}}
	resp.Instance, _ = os.Hostname()

	if sqlDB, err := h.db.DB(); err != nil {
		resp.Checks["database"] = err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		resp.Checks["database"] = err.Error()
	} else {
		resp.Checks["database"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			resp.Checks["redis"] = err.Error()
		} else {
			resp.Checks["redis"] = "ok"
		}
	}

	if len(h.stats) > 0 {
		resp.Details = make(map[string]any, len(h.stats))
		for _, s := range h.stats {
			v, err := s.fn()
			if err != nil {
				resp.Details[s.name] = map[string]string{"error": err.Error()}
				continue
			}
			resp.Details[s.name] = v
		}
	}

	for _, state := range resp.Checks {
		if state != "ok" {
			resp.Status = "degraded"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}
