package tracing

import (
    "context"
    "testing"

    "go.opentelemetry.io/otel/attribute"
)

func TestDisabledIsNoop(t *testing.T) {
    shutdown, err := Setup(false)
    if err != nil { t.Fatalf("setup: %v", err) }
    defer shutdown(context.Background())
    ctx := context.Background()
    got, end := StartSpan(ctx, "noop", attribute.String("k", "v"))
    end()
    if got != ctx { t.Fatalf("expected same context when disabled") }
    Annotate(ctx, attribute.Int("n", 1))
}

func TestEnabledStartsSpan(t *testing.T) {
    shutdown, err := Setup(true)
    if err != nil { t.Fatalf("setup: %v", err) }
    defer func() { _ = shutdown(context.Background()); _, _ = Setup(false) }()
    ctx, end := StartSpan(context.Background(), "op", attribute.String("k", "v"))
    Annotate(ctx, attribute.Int("n", 1))
    end()
    if !Enabled() { t.Fatalf("expected enabled") }
}
