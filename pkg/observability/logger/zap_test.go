package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func newBufferLogger(t *testing.T, level LogLevel, format LogFormat) (*ZapLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewZapLogger(Config{Level: level, Format: format, Output: &buf})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}
	return log, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %q is not JSON: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestZapLogger_JSONFields(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel, JSONFormat)

	log.With("queue", "orders").Info("job finished", "job_name", "close-day", "releases", 2)

	entries := decodeLines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["message"] != "job finished" || e["level"] != "info" {
		t.Fatalf("unexpected entry %v", e)
	}
	if e["queue"] != "orders" || e["job_name"] != "close-day" || e["releases"] != float64(2) {
		t.Fatalf("missing fields in %v", e)
	}
	if _, ok := e["timestamp"]; !ok {
		t.Fatal("expected timestamp")
	}
}

func TestZapLogger_LevelFilter(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel, JSONFormat)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown too")

	entries := decodeLines(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(entries), buf.String())
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Fatalf("unexpected levels %v", entries)
	}
}

func TestZapLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, buf := newBufferLogger(t, LogLevel("verbose"), JSONFormat)
	log.Debug("hidden")
	log.Info("shown")
	if got := len(decodeLines(t, buf)); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
}

func TestZapLogger_TextFormat(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel, TextFormat)
	log.Info("consumer started", "queue", "audit")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("expected console output, got %q", out)
	}
	if !strings.Contains(out, "consumer started") || !strings.Contains(out, "audit") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestZapLogger_WithContext(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel, JSONFormat)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = ContextWithCorrelationID(ctx, "c-42")

	log.WithContext(ctx).Info("job queued")

	e := decodeLines(t, buf)[0]
	if e["correlation_id"] != "c-42" {
		t.Fatalf("correlation_id = %v", e["correlation_id"])
	}
	if e["trace_id"] != traceID.String() || e["span_id"] != spanID.String() {
		t.Fatalf("trace fields = %v / %v", e["trace_id"], e["span_id"])
	}
}

func TestZapLogger_WithContextWithoutValues(t *testing.T) {
	log, _ := newBufferLogger(t, InfoLevel, JSONFormat)
	if got := log.WithContext(context.Background()); got != Logger(log) {
		t.Fatal("expected the same logger when ctx carries nothing")
	}
}

func TestCorrelationIDFromContext(t *testing.T) {
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("got %q", got)
	}
	ctx := ContextWithCorrelationID(context.Background(), "")
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Fatalf("empty id stored: %q", got)
	}
	ctx = ContextWithCorrelationID(context.Background(), "abc")
	if got := CorrelationIDFromContext(ctx); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		" warn ":  WarnLevel,
		"warning": WarnLevel,
		"Error":   ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLogLevel("trace"); err == nil {
		t.Error("expected error for trace")
	}
}

func TestParseLogFormat(t *testing.T) {
	for in, want := range map[string]LogFormat{"json": JSONFormat, "TEXT": TextFormat, "console": TextFormat} {
		got, err := ParseLogFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseLogFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}
