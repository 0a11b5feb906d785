package metrics

import (
    "testing"

    "github.com/prometheus/client_golang/prometheus/testutil"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

func TestRegisterIdempotent(t *testing.T) {
    Register()
    Register()
}

func TestSetMode(t *testing.T) {
    SetMode(state.Active)
    if v := testutil.ToFloat64(ServerMode.WithLabelValues("ACTIVE")); v != 1 { t.Fatalf("active gauge = %v", v) }
    if v := testutil.ToFloat64(IsActive); v != 1 { t.Fatalf("is_active = %v", v) }
    SetMode(state.Passive)
    if v := testutil.ToFloat64(ServerMode.WithLabelValues("ACTIVE")); v != 0 { t.Fatalf("active gauge = %v", v) }
    if v := testutil.ToFloat64(ServerMode.WithLabelValues("PASSIVE")); v != 1 { t.Fatalf("passive gauge = %v", v) }
    if v := testutil.ToFloat64(IsActive); v != 0 { t.Fatalf("is_active = %v", v) }
}
