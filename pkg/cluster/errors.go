package cluster

import "errors"

var (
    ErrNotBlocked     = errors.New("cluster: no transition is blocked")
    ErrNoActive       = errors.New("cluster: no active coordinator known")
    ErrUnreachable    = errors.New("cluster: active management address unknown")
    ErrNoRPCClient    = errors.New("cluster: no RPC client configured")
    ErrNilElection    = errors.New("cluster: nil election options")
)
