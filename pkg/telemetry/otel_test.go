package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	cfg := DefaultConfig("mastflow-test")
	if cfg.Endpoint != "" {
		t.Fatalf("Expected export disabled by default, got endpoint %q", cfg.Endpoint)
	}

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Expected no-op shutdown, got %v", err)
	}
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "segment",
		attribute.Int("max_flat", 5))
	if span == nil {
		t.Fatal("Expected a span even without a provider")
	}

	// All helpers must be safe against the no-op provider.
	AddEvent(ctx, "decoded", attribute.Int64("rows", 100))
	SetAttributes(ctx, attribute.String("sink", "csv"))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()
}
