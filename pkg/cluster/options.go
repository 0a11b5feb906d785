package cluster

import (
    "context"
    "errors"
    "io"
    "log"

    "github.com/amirimatin/go-l2coord/pkg/election"
    "github.com/amirimatin/go-l2coord/pkg/topology"
    "github.com/amirimatin/go-l2coord/pkg/voter"
)

// Lifecycle is implemented by groups that must be started and joined, such
// as the memberlist group. In-memory groups need neither.
type Lifecycle interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Leave() error
    Stop() error
}

// Options carries the assembled components of one node. Instances are
// typically produced by bootstrap.Build.
type Options struct {
    // Election configures the StateManager the cluster owns (required). The
    // cluster adds itself to Election.Observers.
    Election election.Options
    // Topology is the configured server roster (required).
    Topology topology.Topology
    // Seeder adds join addresses to those of the roster (optional).
    Seeder topology.Seeder

    // Optional management and voter RPC.
    RPCServer voter.Server
    RPCClient *voter.Client
    // Voting is served on the RPC server when set.
    Voting voter.Service

    // Closers are closed on Stop after the group, e.g. the state store.
    Closers []io.Closer
    Logger  *log.Logger

    // OnModeChange is called for every ServerMode change.
    OnModeChange func(old, new string)
    // OnActiveChange is called when this node learns a new active.
    OnActiveChange func(active string)
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if err := o.Election.Validate(); err != nil { return err }
    if o.Topology == nil { return errors.New("cluster: nil Topology") }
    return nil
}
