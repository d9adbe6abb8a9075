package core

import (
	"bytes"
	"context"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"queryengine/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op {
			if success && record.err == nil {
				return true
			}
			if !success && record.err != nil {
				return true
			}
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityCompliance(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}

	svc := newTestService(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)

	m := svc.NewManager()
	spec, err := NewTagSpecBuilder().SetManager(m).SetKey("coverage").SetType(domain.ValueFloat).Build()
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	set, err := NewTagSpecSetBuilder().SetManager(m).SetName("qc").Add(spec).Build()
	if err != nil {
		t.Fatalf("build set: %v", err)
	}
	if _, err := m.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, id := range []string{spec.ID, set.ID} {
		if !audit.has("commit", AuditStatusSuccess, func(entry AuditEntry) bool { return entry.EntityID == id && entry.Version == 1 }) {
			t.Fatalf("expected audit entry for committed %s", id)
		}
	}

	if _, err := svc.Latest(ctx, set.ID); err != nil {
		t.Fatalf("latest: %v", err)
	}
	if _, err := svc.Version(ctx, spec.ID, 1); err != nil {
		t.Fatalf("version: %v", err)
	}
	if _, err := svc.History(ctx, spec.ID); err != nil {
		t.Fatalf("history: %v", err)
	}
	if _, err := svc.Latest(ctx, "missing"); err == nil {
		t.Fatalf("expected latest error for missing id")
	}
	if !metrics.has("latest", false) {
		t.Fatalf("expected metrics entry for failed latest")
	}
	if !tracer.has("latest", false) {
		t.Fatalf("expected trace span for failed latest")
	}

	stale := svc.NewManager()
	if _, err := NewTagSpecBuilder().From(spec).SetManager(stale).SetDescription("late").Build(); err != nil {
		t.Fatalf("fork: %v", err)
	}
	if _, err := NewTagSpecSetBuilder().From(set).SetManager(stale).SetName("stale").BuildVersion(false); err != nil {
		t.Fatalf("stale build: %v", err)
	}
	winner := svc.NewManager()
	if _, err := NewTagSpecSetBuilder().From(set).SetManager(winner).SetName("winner").BuildVersion(false); err != nil {
		t.Fatalf("winner build: %v", err)
	}
	if _, err := winner.Commit(ctx); err != nil {
		t.Fatalf("winner commit: %v", err)
	}
	if _, err := stale.Commit(ctx); err == nil {
		t.Fatalf("expected stale commit to fail")
	}
	failed := 0
	for _, entry := range audit.entries {
		if entry.Operation == "commit" && entry.Status == AuditStatusError {
			failed++
			if entry.Error == "" {
				t.Fatalf("failed audit entry without error text")
			}
		}
	}
	if failed != 2 {
		t.Fatalf("expected every version of the failed batch audited, got %d", failed)
	}
	if !metrics.has("commit", false) || !tracer.has("commit", false) {
		t.Fatalf("expected failed commit in metrics and traces")
	}

	for _, op := range []string{"commit", "latest", "version", "history"} {
		if !metrics.has(op, true) {
			t.Fatalf("expected metrics success entry for %s", op)
		}
		if !tracer.has(op, true) {
			t.Fatalf("expected finished span for %s", op)
		}
	}
}

func TestNewMetricsRecorderSelectsExporter(t *testing.T) {
	rec, err := NewMetricsRecorder(MetricsConfig{Exporter: "none"})
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if _, ok := rec.(noopMetricsRecorder); !ok {
		t.Fatalf("expected noop recorder, got %T", rec)
	}
	rec, err = NewMetricsRecorder(MetricsConfig{Exporter: "expvar"})
	if err != nil {
		t.Fatalf("expvar: %v", err)
	}
	if _, ok := rec.(*ExpvarMetricsRecorder); !ok {
		t.Fatalf("expected expvar recorder, got %T", rec)
	}
	if _, err := NewMetricsRecorder(MetricsConfig{Exporter: "statsd"}); err == nil {
		t.Fatalf("expected unknown exporter error")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.Observe(context.Background(), "commit", true, 3*time.Millisecond)
	rec.Observe(context.Background(), "commit", false, 4*time.Millisecond)
	rec.Observe(context.Background(), "commit", true, 5*time.Millisecond)

	if got := testutil.ToFloat64(rec.total.WithLabelValues("commit", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues("commit", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

const entryStatusSuccess = "success"

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), "test_op", true, 10*time.Millisecond)
	recorder.Observe(context.Background(), "test_op", false, 5*time.Millisecond)

	snapshot := recorder.Snapshot()
	stats := snapshot.Operations["test_op"]
	if stats.TotalMS <= 0 || stats.MaxMS < 10 {
		t.Fatalf("expected positive duration, snapshot=%+v", snapshot)
	}
	if stats.Count != 2 || stats.Errors != 1 || !stats.LastError {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}

	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "test_op") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "trace_op")
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected single span entry, got %d", len(entries))
	}
	if entries[0].Operation != "trace_op" || entries[0].Status != entryStatusSuccess {
		t.Fatalf("unexpected span entry: %+v", entries[0])
	}
	if !strings.Contains(buf.String(), "\"operation\":\"trace_op\"") {
		t.Fatalf("expected JSON output to contain operation: %q", buf.String())
	}
}

func TestJSONTraceTracerRecordsErrorsOnce(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "commit")
	span.End(domain.ConflictError{ID: "x", Expected: 1, Actual: 2})
	span.End(nil)
	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Status != "error" || entries[0].Error == "" {
		t.Fatalf("expected a single error span, got %+v", entries)
	}
}
