package election

import (
    "context"
    "time"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

// Synchronizer copies state from the active to a freshly connected passive.
// Sync runs outside the election actor and may block.
type Synchronizer interface {
    Sync(ctx context.Context, active state.NodeID) error
}

// SyncFunc adapts a function to Synchronizer.
type SyncFunc func(ctx context.Context, active state.NodeID) error

func (f SyncFunc) Sync(ctx context.Context, active state.NodeID) error { return f(ctx, active) }

// NoopSynchronizer completes immediately.
type NoopSynchronizer struct{}

func (NoopSynchronizer) Sync(context.Context, state.NodeID) error { return nil }

// DelaySynchronizer simulates a transfer of fixed duration.
type DelaySynchronizer time.Duration

func (d DelaySynchronizer) Sync(ctx context.Context, _ state.NodeID) error {
    t := time.NewTimer(time.Duration(d))
    defer t.Stop()
    select {
    case <-t.C:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}
