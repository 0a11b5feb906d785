package election

import (
    "log"
    "time"

    "github.com/amirimatin/go-l2coord/pkg/consistency"
    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

// StateStore is the persisted server state the election reads and updates.
type StateStore interface {
    StartMode() state.ServerMode
    SetStartMode(m state.ServerMode) error
    IsDBClean() bool
    SetDBClean(clean bool) error
    IncrementOperationCount() (int64, error)
}

// Options configures a StateManager.
type Options struct {
    // Group carries election messages and membership changes (required).
    Group group.Group
    // Gate decides role transitions (required).
    Gate consistency.ConsistencyManager
    // Factory produces candidacies (required).
    Factory *enrollment.Factory
    // Store persists start mode and the clean flag. Defaults to in-memory.
    Store StateStore
    // Synchronizer brings a new passive up to date. Defaults to NoopSynchronizer.
    Synchronizer Synchronizer
    // Observers receive the same group callbacks as the StateManager.
    Observers []group.Handler

    // ElectionTime is how long a round collects candidacies and how long a
    // loser waits for the winner's declaration. Defaults to 5s.
    ElectionTime time.Duration
    // RetryInterval delays a new round after a denial. Defaults to ElectionTime.
    RetryInterval time.Duration
    // DiagnosticAfter moves the node to DIAGNOSTIC after that many
    // consecutive MOVE_TO_ACTIVE denials; 0 disables it.
    DiagnosticAfter int

    Logger *log.Logger
    // OnFatal is called once with the RestartError that stopped the node.
    OnFatal func(error)
}

func (o Options) Validate() error {
    if o.Group == nil { return ErrNilGroup }
    if o.Gate == nil { return ErrNilGate }
    if o.Factory == nil { return ErrNilFactory }
    return nil
}

func (o *Options) defaults() {
    if o.ElectionTime <= 0 { o.ElectionTime = 5 * time.Second }
    if o.RetryInterval <= 0 { o.RetryInterval = o.ElectionTime }
    if o.Synchronizer == nil { o.Synchronizer = NoopSynchronizer{} }
}
