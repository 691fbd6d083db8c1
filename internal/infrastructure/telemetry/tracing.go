// Package telemetry wires OpenTelemetry tracing and metrics for the receiving engine.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/receiving/internal/domain/receiving"
)

// TracerName is the instrumentation scope of engine spans
const TracerName = "receiving-engine"

// Span attribute keys. The HTTP layer tags server spans with the same keys.
const (
	SpanAttrSession    = "receiving.session"
	SpanAttrPackageID  = "receiving.package_id"
	SpanAttrGroupID    = "receiving.group_id"
	SpanAttrActor      = "receiving.actor"
	SpanAttrOutcome    = "receiving.outcome"
	SpanAttrSnapshotID = "receiving.snapshot_id"
)

// OperationSpan wraps the span of one engine operation on a session.
// A nil *OperationSpan is a no-op.
type OperationSpan struct {
	span trace.Span
}

// StartOperation opens the span "receiving.<op>" tagged with the session and
// actor. The returned context carries the span for the store and broadcast calls.
func StartOperation(ctx context.Context, op string, key receiving.SessionKey, actor string) (context.Context, *OperationSpan) {
	attrs := []attribute.KeyValue{attribute.String(SpanAttrSession, key.String())}
	if actor != "" {
		attrs = append(attrs, attribute.String(SpanAttrActor, actor))
	}
	ctx, span := otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "receiving."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, &OperationSpan{span: span}
}

// Package tags the normalized package and, once known, its group
func (s *OperationSpan) Package(packageID, groupID string) {
	if s == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String(SpanAttrPackageID, packageID)}
	if groupID != "" {
		attrs = append(attrs, attribute.String(SpanAttrGroupID, groupID))
	}
	s.span.SetAttributes(attrs...)
}

// Outcome records the business outcome. Rejections are not span errors.
func (s *OperationSpan) Outcome(outcome string) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.String(SpanAttrOutcome, outcome))
}

// Snapshot tags the snapshot that closed the session
func (s *OperationSpan) Snapshot(id uuid.UUID) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.String(SpanAttrSnapshotID, id.String()))
}

// Fail records err and marks the span failed
func (s *OperationSpan) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End closes the span
func (s *OperationSpan) End() {
	if s == nil {
		return
	}
	s.span.End()
}

// TraceID returns the trace id of the span in ctx, or ""
func TraceID(ctx context.Context) string {
	if id := trace.SpanContextFromContext(ctx).TraceID(); id.IsValid() {
		return id.String()
	}
	return ""
}

// SpanID returns the span id of the span in ctx, or ""
func SpanID(ctx context.Context) string {
	if id := trace.SpanContextFromContext(ctx).SpanID(); id.IsValid() {
		return id.String()
	}
	return ""
}
