package core

import (
	"context"
	"time"

	"queryengine/pkg/domain"
)

// Logger is the structured logging surface used by the service and managers.
// Arguments are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error (nil on success).
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus is the outcome recorded in an AuditEntry.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one write-path operation. Commits produce one entry per
// staged version, carrying the batch outcome.
type AuditEntry struct {
	Operation string
	Status    AuditStatus
	Kind      domain.Kind
	EntityID  string
	Version   uint64
	Error     string
	Duration  time.Duration
	At        time.Time
}

// AuditRecorder persists or forwards audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// observability bundles the pluggable sinks shared by Service and its managers.
type observability struct {
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	now     func() time.Time
}

func defaultObservability() observability {
	return observability{
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// begin opens a span for operation; the returned function records metrics and
// ends the span with the final error.
func (o observability) begin(ctx context.Context, operation string) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, operation)
	return ctx, func(err error) {
		o.metrics.Observe(ctx, operation, err == nil, time.Since(started))
		span.End(err)
	}
}

func (o observability) record(ctx context.Context, operation string, kind domain.Kind, h domain.Header, err error, took time.Duration) {
	entry := AuditEntry{
		Operation: operation,
		Status:    AuditStatusSuccess,
		Kind:      kind,
		EntityID:  h.ID,
		Version:   h.Version,
		Duration:  took,
		At:        o.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	o.audit.Record(ctx, entry)
}
