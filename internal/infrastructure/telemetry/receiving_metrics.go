package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/erp/receiving/internal/domain/receiving"
)

// SessionStatsSource counts sessions of one day per status
type SessionStatsSource interface {
	CountByStatus(ctx context.Context, sessionDate string) (map[receiving.SessionStatus]int64, error)
}

// ReceivingMetrics records scan and completion outcomes, broadcast loss and
// the per-status session count of the current day.
type ReceivingMetrics struct {
	scans              *Counter
	scanDuration       *Histogram
	completions        *Counter
	completionDuration *Histogram
	broadcastDropped   *Counter
	slowSubscribers    *Counter
	eventsHandled      *Counter
	sessions           *Gauge

	source   SessionStatsSource
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// ReceivingMetricsOption configures ReceivingMetrics
type ReceivingMetricsOption func(*ReceivingMetrics)

// WithSessionStats enables the periodic session gauge
func WithSessionStats(source SessionStatsSource, interval time.Duration) ReceivingMetricsOption {
	return func(m *ReceivingMetrics) {
		m.source = source
		m.interval = interval
	}
}

// WithMetricsLogger sets the logger
func WithMetricsLogger(logger *zap.Logger) ReceivingMetricsOption {
	return func(m *ReceivingMetrics) {
		m.logger = logger
	}
}

// NewReceivingMetrics creates the receiving instruments on meter
func NewReceivingMetrics(meter metric.Meter, opts ...ReceivingMetricsOption) (*ReceivingMetrics, error) {
	m := &ReceivingMetrics{
		interval: time.Minute,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = time.Minute
	}

	var err error
	if m.scans, err = NewCounter(meter, "receiving_scans_total", "Scan requests by outcome", "{scan}"); err != nil {
		return nil, err
	}
	if m.scanDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "receiving_scan_duration_seconds",
		Description: "Scan request duration",
		Unit:        "s",
		Boundaries:  OperationDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.completions, err = NewCounter(meter, "receiving_completions_total", "Completion requests by outcome", "{request}"); err != nil {
		return nil, err
	}
	if m.completionDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "receiving_completion_duration_seconds",
		Description: "Completion request duration",
		Unit:        "s",
		Boundaries:  OperationDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.broadcastDropped, err = NewCounter(meter, "receiving_broadcast_dropped_total", "Progress events dropped before cross-instance publish", "{event}"); err != nil {
		return nil, err
	}
	if m.slowSubscribers, err = NewCounter(meter, "receiving_slow_subscribers_total", "Subscribers disconnected for falling behind", "{subscriber}"); err != nil {
		return nil, err
	}
	if m.eventsHandled, err = NewCounter(meter, "receiving_events_handled_total", "Post-completion events by handler result", "{event}"); err != nil {
		return nil, err
	}
	if m.sessions, err = NewGauge(meter, "receiving_sessions", "Sessions of the current day by status", "{session}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordScan implements the engine metrics port
func (m *ReceivingMetrics) RecordScan(ctx context.Context, outcome receiving.ScanOutcome, d time.Duration) {
	m.scans.Inc(ctx, AttrOutcome.String(string(outcome)))
	m.scanDuration.RecordDuration(ctx, d, AttrOutcome.String(string(outcome)))
}

// RecordCompletion implements the engine metrics port
func (m *ReceivingMetrics) RecordCompletion(ctx context.Context, outcome receiving.CompletionOutcome, d time.Duration) {
	m.completions.Inc(ctx, AttrOutcome.String(string(outcome)))
	m.completionDuration.RecordDuration(ctx, d, AttrOutcome.String(string(outcome)))
}

// BroadcastDropped counts one event lost on the cross-instance path
func (m *ReceivingMetrics) BroadcastDropped() {
	m.broadcastDropped.Inc(context.Background(), AttrReason.String("publish_queue_full"))
}

// SlowSubscriber counts one subscriber cut off for lagging
func (m *ReceivingMetrics) SlowSubscriber(receiving.SessionKey) {
	m.slowSubscribers.Inc(context.Background())
}

// EventHandled counts one event seen by a background handler
func (m *ReceivingMetrics) EventHandled(ctx context.Context, eventType, result string) {
	m.eventsHandled.Inc(ctx, AttrEventType.String(eventType), AttrOutcome.String(result))
}

// Start samples session counts until Stop. It is a no-op without a stats source.
func (m *ReceivingMetrics) Start(ctx context.Context) {
	if m.source == nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			m.CollectSessions(ctx)
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
			}
		}
	}()
	m.logger.Info("Session metrics collection started", zap.Duration("interval", m.interval))
}

// CollectSessions records one sample of the session gauge. Every status is
// reported so a status that drops to zero does not keep its last value.
func (m *ReceivingMetrics) CollectSessions(ctx context.Context) {
	if m.source == nil {
		return
	}
	counts, err := m.source.CountByStatus(ctx, m.now().UTC().Format(receiving.DateLayout))
	if err != nil {
		m.logger.Warn("Failed to collect session metrics", zap.Error(err))
		return
	}
	for _, status := range []receiving.SessionStatus{
		receiving.SessionStatusOpen,
		receiving.SessionStatusCompleting,
		receiving.SessionStatusCompleted,
	} {
		m.sessions.Record(ctx, counts[status], AttrStatus.String(string(status)))
	}
}

// Stop ends session sampling
func (m *ReceivingMetrics) Stop() {
	m.stopOnce.Do(func() {
		if m.stop == nil {
			return
		}
		close(m.stop)
		<-m.done
	})
}
