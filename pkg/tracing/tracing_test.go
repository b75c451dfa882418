package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyris/vyris-backend/pkg/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Exporter: "none"}, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupStdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := setup(context.Background(), config.TracingConfig{Exporter: "stdout", SampleRatio: 1}, "vyris-test", &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, span := Start(context.Background(), "mint.claim", attribute.String("drop.tier", "gold"))
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "mint.claim") || !strings.Contains(out, "vyris-test") {
		t.Fatalf("expected exported span in output, got %q", out)
	}
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracingConfig{Exporter: "zipkin"}, "test"); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.25: 0.25, 3: 1} {
		if got := clampRatio(in); got != want {
			t.Errorf("clampRatio(%v)=%v want %v", in, got, want)
		}
	}
}
