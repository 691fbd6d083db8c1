package telemetry

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const startedAtKey = "telemetry:started_at"

// GormConfig controls GORM instrumentation
type GormConfig struct {
	TraceEnabled    bool
	LogFullSQL      bool
	SlowQueryThresh time.Duration // Default: 200ms
	DBSystem        string        // Default: postgresql
	PoolInterval    time.Duration // Default: 15s
}

// GormInstrumentation records query spans through otelgorm plus its own
// duration histogram, error counter and slow-query span marks. It
// implements gorm.Plugin.
type GormInstrumentation struct {
	cfg    GormConfig
	logger *zap.Logger

	queryDuration *Histogram
	queryErrors   *Counter
	slowQueries   *Counter
	poolConns     *Gauge

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewGormInstrumentation creates the instruments on meter
func NewGormInstrumentation(meter metric.Meter, cfg GormConfig, logger *zap.Logger) (*GormInstrumentation, error) {
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	if cfg.PoolInterval <= 0 {
		cfg.PoolInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &GormInstrumentation{cfg: cfg, logger: logger}
	var err error
	if g.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query duration",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if g.queryErrors, err = NewCounter(meter, "db_query_errors_total", "Failed database queries", "{query}"); err != nil {
		return nil, err
	}
	if g.slowQueries, err = NewCounter(meter, "db_slow_queries_total", "Queries slower than the configured threshold", "{query}"); err != nil {
		return nil, err
	}
	if g.poolConns, err = NewGauge(meter, "db_pool_connections", "Connection pool usage", "{connection}"); err != nil {
		return nil, err
	}
	return g, nil
}

// Name implements gorm.Plugin
func (g *GormInstrumentation) Name() string {
	return "receiving:telemetry"
}

// Initialize implements gorm.Plugin
func (g *GormInstrumentation) Initialize(db *gorm.DB) error {
	if g.cfg.TraceEnabled {
		opts := []otelgorm.Option{otelgorm.WithDBName(g.cfg.DBSystem)}
		if !g.cfg.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}

	cb := db.Callback()
	hooks := []struct {
		op     string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		if err := h.before("telemetry:before_"+h.op, markStart); err != nil {
			return err
		}
		if err := h.after("telemetry:after_"+h.op, g.record(h.op)); err != nil {
			return err
		}
	}

	g.logger.Info("Database instrumentation enabled",
		zap.Bool("tracing", g.cfg.TraceEnabled),
		zap.Duration("slow_query_threshold", g.cfg.SlowQueryThresh),
	)
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startedAtKey, time.Now())
}

func (g *GormInstrumentation) record(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startedAtKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(started)

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		attrs := []attribute.KeyValue{AttrDBOperation.String(op), AttrDBTable.String(db.Statement.Table)}
		g.queryDuration.RecordDuration(ctx, elapsed, attrs...)

		if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
			g.queryErrors.Inc(ctx, attrs...)
		}
		if elapsed >= g.cfg.SlowQueryThresh {
			g.slowQueries.Inc(ctx, attrs...)
			span := trace.SpanFromContext(ctx)
			if span.IsRecording() {
				span.SetAttributes(
					attribute.Bool("db.slow_query", true),
					attribute.Int64("db.duration_ms", elapsed.Milliseconds()),
				)
			}
			g.logger.Warn("slow query",
				zap.String("operation", op),
				zap.String("table", db.Statement.Table),
				zap.Duration("duration", elapsed),
			)
		}
	}
}

// StartPoolStats samples sqlDB pool usage until Stop
func (g *GormInstrumentation) StartPoolStats(sqlDB *sql.DB) {
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(g.cfg.PoolInterval)
		defer ticker.Stop()
		for {
			g.samplePool(context.Background(), sqlDB)
			select {
			case <-g.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (g *GormInstrumentation) samplePool(ctx context.Context, sqlDB *sql.DB) {
	stats := sqlDB.Stats()
	g.poolConns.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	g.poolConns.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	g.poolConns.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool sampling
func (g *GormInstrumentation) Stop() {
	g.stopOnce.Do(func() {
		if g.stop == nil {
			return
		}
		close(g.stop)
		<-g.done
	})
}

var _ gorm.Plugin = (*GormInstrumentation)(nil)
