package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
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

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureLogger struct {
	lines []string
}

func (l *captureLogger) log(level, msg string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *captureLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }

func (l *captureLogger) contains(substr string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	metrics, err := NewPrometheusMetricsRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics recorder: %v", err)
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := ClockFunc(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})

	svc := NewInMemoryService(NewDefaultRulesEngine(),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
		WithClock(clock),
	)

	if _, _, err := svc.CreateUnit(ctx, alice, Unit{Label: "kg"}); err == nil {
		t.Fatalf("expected unregistered create to fail")
	}
	if _, err := svc.Register(ctx, alice); err != nil {
		t.Fatalf("register: %v", err)
	}
	id, _, err := svc.CreateUnit(ctx, alice, Unit{Label: "kg"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.UpdateResourceSpecification(ctx, alice, 2, ResourceSpecification{Name: "x", DefaultUnitOfEffortID: &id}); err != nil {
		t.Fatalf("update: %v", err)
	}
	missing := uint32(42)
	if _, err := svc.UpdateResourceSpecification(ctx, alice, 3, ResourceSpecification{Name: "y", DefaultUnitOfEffortID: &missing}); err != nil {
		t.Fatalf("update with dangling unit: %v", err)
	}

	if !audit.has("create_unit", AuditStatusError, func(e AuditEntry) bool { return e.Principal == alice && e.Error != "" }) {
		t.Fatalf("expected audit error entry for rejected create_unit")
	}
	if !audit.has("create_unit", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == id && e.Entity == EntityUnit && e.Action == ActionCreate && e.Duration == time.Millisecond
	}) {
		t.Fatalf("expected audit success entry with id and clock duration: %+v", audit.entries)
	}
	if !audit.has("register", AuditStatusSuccess, nil) {
		t.Fatalf("expected audit entry for register")
	}

	if got := testutil.ToFloat64(metrics.Calls().WithLabelValues("create_unit", "error")); got != 1 {
		t.Fatalf("expected one failed create_unit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Calls().WithLabelValues("create_unit", "success")); got != 1 {
		t.Fatalf("expected one successful create_unit, got %v", got)
	}

	if len(tracer.started) != 5 || len(tracer.ended) != 5 {
		t.Fatalf("expected five spans, got %d started %d ended", len(tracer.started), len(tracer.ended))
	}
	if tracer.ended[0].op != "create_unit" || tracer.ended[0].err == nil {
		t.Fatalf("expected first span to carry the rejection")
	}

	if !logger.contains("registry call rejected") {
		t.Fatalf("expected rejection log line: %v", logger.lines)
	}
	if !logger.contains("soft_unit_reference") {
		t.Fatalf("expected rule violation log line: %v", logger.lines)
	}
}

func TestPrometheusRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetricsRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate collector registration to fail")
	}
	rec, err := NewPrometheusMetricsRecorder(nil)
	if err != nil {
		t.Fatalf("unregistered recorder: %v", err)
	}
	rec.Observe(context.Background(), "", true, time.Second)
	if n := testutil.CollectAndCount(rec.Calls()); n != 0 {
		t.Fatalf("empty operation should be ignored, got %d series", n)
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	svc := NewInMemoryService(nil, WithTracer(tracer))
	ctx := context.Background()

	if _, err := svc.Register(ctx, alice); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, alice); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two spans, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected spans %+v", entries)
	}
	dec := json.NewDecoder(&buf)
	for i := 0; i < 2; i++ {
		var entry JSONTraceEntry
		if err := dec.Decode(&entry); err != nil {
			t.Fatalf("decode line %d: %v", i, err)
		}
		if entry.Operation != "register" {
			t.Fatalf("unexpected operation %q", entry.Operation)
		}
	}
}

func TestLogAuditRecorder(t *testing.T) {
	logger := &captureLogger{}
	svc := NewInMemoryService(nil, WithAuditRecorder(NewLogAuditRecorder(logger)))
	ctx := context.Background()

	if _, err := svc.Register(ctx, alice); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.CreateUnit(ctx, bob, Unit{Label: "kg", Symbol: "kg"}); err == nil {
		t.Fatalf("expected unregistered create to fail")
	}
	if len(logger.lines) != 2 {
		t.Fatalf("expected two audit lines, got %v", logger.lines)
	}
	if !strings.HasPrefix(logger.lines[0], "INFO audit") || !strings.Contains(logger.lines[0], "register") || strings.Contains(logger.lines[0], "error") {
		t.Fatalf("unexpected success line %q", logger.lines[0])
	}
	if !strings.Contains(logger.lines[1], "create_unit") || !strings.Contains(logger.lines[1], string(AuditStatusError)) || !strings.Contains(logger.lines[1], bob.Hex()) {
		t.Fatalf("unexpected error line %q", logger.lines[1])
	}

	NewLogAuditRecorder(nil).Record(ctx, AuditEntry{})
}

func TestNoopDefaults(t *testing.T) {
	var l Logger = noopLogger{}
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	ctx, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
	noopMetrics{}.Observe(ctx, "op", true, 0)
	noopAudit{}.Record(ctx, AuditEntry{})
	if (systemClock{}).Now().IsZero() {
		t.Fatalf("system clock returned zero time")
	}
}
