package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer("jobs") == nil {
		t.Fatal("expected a tracer")
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewTracerProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  TracerConfig
		want string
	}{
		{"missing service", TracerConfig{Enabled: true, Endpoint: "localhost:4317", SampleRate: 1}, "service name is required"},
		{"missing endpoint", TracerConfig{Enabled: true, ServiceName: "rabbitqueue", SampleRate: 1}, "OTLP endpoint is required"},
		{"negative rate", TracerConfig{Enabled: true, ServiceName: "rabbitqueue", Endpoint: "localhost:4317", SampleRate: -0.1}, "sample rate"},
		{"rate above one", TracerConfig{Enabled: true, ServiceName: "rabbitqueue", Endpoint: "localhost:4317", SampleRate: 1.5}, "sample rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func TestNewTracerProvider_EnabledStartsLazily(t *testing.T) {
	// The gRPC exporter connects lazily, so no collector is needed here.
	tp, err := NewTracerProvider(context.Background(), TracerConfig{
		Enabled:     true,
		ServiceName: "rabbitqueue",
		Endpoint:    "127.0.0.1:4317",
		SampleRate:  0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_ = tp.Shutdown(ctx)
}

func TestTracerProvider_NilSafe(t *testing.T) {
	var tp *TracerProvider
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
